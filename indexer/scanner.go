package indexer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// maxFileSize caps what the scanner will read into memory. Anything
// larger is almost certainly generated or binary.
const maxFileSize = 1 << 20 // 1 MiB

// supportedExtensions lists file types worth indexing. Everything else
// is skipped without being read.
var supportedExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true,
	".tsx": true, ".java": true, ".c": true, ".h": true, ".cpp": true,
	".hpp": true, ".cc": true, ".cs": true, ".rb": true, ".rs": true,
	".php": true, ".swift": true, ".kt": true, ".scala": true, ".sh": true,
	".bash": true, ".zsh": true, ".sql": true, ".html": true, ".css": true,
	".scss": true, ".vue": true, ".svelte": true, ".md": true, ".txt": true,
	".yaml": true, ".yml": true, ".json": true, ".toml": true, ".xml": true,
	".proto": true, ".tf": true, ".lua": true, ".ex": true, ".exs": true,
	".erl": true, ".hs": true, ".ml": true, ".zig": true, ".dart": true,
}

// FileInfo describes one scanned file with its content loaded.
type FileInfo struct {
	Path    string // relative to the project root
	Hash    string // sha256 of the content
	ModTime int64  // unix seconds
	Content string
}

// Scanner walks a project tree and returns the indexable files.
type Scanner struct {
	root    string
	matcher *IgnoreMatcher
}

func NewScanner(root string, matcher *IgnoreMatcher) *Scanner {
	return &Scanner{root: root, matcher: matcher}
}

// Scan returns the indexable files plus the relative paths it skipped.
func (s *Scanner) Scan() ([]FileInfo, []string, error) {
	var files []FileInfo
	var skipped []string

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if s.matcher != nil && s.matcher.ShouldSkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.matcher != nil && s.matcher.ShouldIgnore(rel) {
			return nil
		}

		if !IsSupported(rel) || info.Size() > maxFileSize {
			skipped = append(skipped, rel)
			return nil
		}

		fi, ok, err := s.ReadFile(rel)
		if err != nil {
			skipped = append(skipped, rel)
			return nil
		}
		if !ok {
			skipped = append(skipped, rel)
			return nil
		}

		files = append(files, fi)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return files, skipped, nil
}

// ReadFile loads a single file by project-relative path. The boolean is
// false when the file is binary or otherwise not indexable.
func (s *Scanner) ReadFile(rel string) (FileInfo, bool, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(rel))

	info, err := os.Stat(abs)
	if err != nil {
		return FileInfo{}, false, err
	}
	if info.IsDir() || info.Size() > maxFileSize {
		return FileInfo{}, false, nil
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return FileInfo{}, false, err
	}

	if bytes.ContainsRune(content, 0) {
		return FileInfo{}, false, nil // binary
	}

	sum := sha256.Sum256(content)
	return FileInfo{
		Path:    rel,
		Hash:    hex.EncodeToString(sum[:]),
		ModTime: info.ModTime().Unix(),
		Content: string(content),
	}, true, nil
}

// IsSupported reports whether a path has an indexable extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if supportedExtensions[ext] {
		return true
	}
	// Extensionless well-known files.
	switch filepath.Base(path) {
	case "Makefile", "Dockerfile", "Rakefile", "Gemfile":
		return true
	}
	return false
}
