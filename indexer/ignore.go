package indexer

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// ruleSet is one compiled ignore file, anchored at the directory it was
// found in. baseDir is relative to the project root, "" for the root.
type ruleSet struct {
	matcher *ignore.GitIgnore
	baseDir string
	seekd   bool // true for .seekdignore files, which outrank .gitignore
}

// IgnoreMatcher decides which files the indexer skips. It layers three
// sources: patterns from the config, every .gitignore in the tree, and
// every .seekdignore in the tree. A .seekdignore match always wins over
// a .gitignore match at any depth; among files of the same kind the
// deepest one wins.
type IgnoreMatcher struct {
	projectRoot string
	extraDirs   []string
	rules       []ruleSet
}

func NewIgnoreMatcher(projectRoot string, extraIgnore []string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{
		projectRoot: projectRoot,
		extraDirs:   extraIgnore,
	}

	err := filepath.Walk(projectRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable paths are simply not indexed
		}

		if info.IsDir() {
			base := filepath.Base(path)
			for _, dir := range extraIgnore {
				if base == dir {
					return filepath.SkipDir
				}
			}
			return nil
		}

		name := filepath.Base(path)
		if name != ".gitignore" && name != ".seekdignore" {
			return nil
		}

		gi, err := ignore.CompileIgnoreFile(path)
		if err != nil {
			return nil
		}

		baseDir, err := filepath.Rel(projectRoot, filepath.Dir(path))
		if err != nil {
			return nil
		}
		if baseDir == "." {
			baseDir = ""
		}

		m.rules = append(m.rules, ruleSet{
			matcher: gi,
			baseDir: baseDir,
			seekd:   name == ".seekdignore",
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(extraIgnore) > 0 {
		m.rules = append(m.rules, ruleSet{
			matcher: ignore.CompileIgnoreLines(extraIgnore...),
			baseDir: "",
		})
	}

	return m, nil
}

// ShouldIgnore reports whether a path (relative to the project root)
// is excluded from indexing.
func (m *IgnoreMatcher) ShouldIgnore(path string) bool {
	normalized := filepath.ToSlash(path)

	base := filepath.Base(normalized)
	for _, dir := range m.extraDirs {
		if base == dir {
			return true
		}
	}

	// Most specific opinion wins; .seekdignore beats .gitignore on ties
	// and across depths.
	ignored := false
	bestDepth := -1
	bestSeekd := false

	for _, rs := range m.rules {
		rel := ruleRelPath(normalized, rs.baseDir)
		if rel == "" && rs.baseDir != "" {
			continue
		}

		if !rs.matcher.MatchesPath(rel) && !rs.matcher.MatchesPath(rel+"/") {
			continue
		}

		depth := len(rs.baseDir)
		switch {
		case rs.seekd && !bestSeekd:
			ignored, bestDepth, bestSeekd = true, depth, true
		case rs.seekd == bestSeekd && depth > bestDepth:
			ignored, bestDepth = true, depth
		case bestDepth < 0:
			ignored, bestDepth, bestSeekd = true, depth, rs.seekd
		}
	}

	return ignored
}

// ShouldSkipDir reports whether a directory subtree can be pruned from
// the walk entirely.
func (m *IgnoreMatcher) ShouldSkipDir(path string) bool {
	return m.ShouldIgnore(path)
}

// ruleRelPath rebases a path onto a rule set's directory. Empty means
// the path is outside the rule set's scope.
func ruleRelPath(normalized, baseDir string) string {
	if baseDir == "" {
		return normalized
	}
	base := filepath.ToSlash(baseDir)
	if normalized == base {
		return "."
	}
	if strings.HasPrefix(normalized, base+"/") {
		return strings.TrimPrefix(normalized, base+"/")
	}
	return ""
}

// AddToGitignore appends a pattern to the project .gitignore unless it
// is already present.
func AddToGitignore(projectRoot, pattern string) error {
	gitignorePath := filepath.Join(projectRoot, ".gitignore")

	if exists, err := patternExists(gitignorePath, pattern); err != nil {
		return err
	} else if exists {
		return nil
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() > 0 {
		content, err := os.ReadFile(gitignorePath)
		if err != nil {
			return err
		}
		if len(content) > 0 && content[len(content)-1] != '\n' {
			if _, err := f.WriteString("\n"); err != nil {
				return err
			}
		}
	}

	_, err = f.WriteString(pattern + "\n")
	return err
}

func patternExists(gitignorePath, pattern string) (bool, error) {
	f, err := os.Open(gitignorePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == pattern {
			return true, nil
		}
	}
	return false, scanner.Err()
}
