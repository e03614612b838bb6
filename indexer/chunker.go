package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/google/uuid"
)

// ChunkInfo is one chunk of a file, before embedding.
type ChunkInfo struct {
	ID        string
	FilePath  string
	StartLine int // 1-indexed, inclusive
	EndLine   int // inclusive
	Content   string
	Hash      string
}

// Chunker splits files into pieces sized for embedding. Chunks follow
// line boundaries; when a tree-sitter grammar is available for the file
// type, cuts prefer top-level declaration starts so a function is not
// split mid-body.
type Chunker struct {
	size    int // max chunk size in bytes
	overlap int // bytes carried over between adjacent chunks
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 512
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

func languageForPath(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return golang.GetLanguage()
	case ".py":
		return python.GetLanguage()
	case ".js", ".jsx":
		return javascript.GetLanguage()
	case ".ts":
		return typescript.GetLanguage()
	case ".tsx":
		return tsx.GetLanguage()
	case ".java":
		return java.GetLanguage()
	case ".rs":
		return rust.GetLanguage()
	case ".c", ".h":
		return c.GetLanguage()
	case ".cpp", ".hpp", ".cc":
		return cpp.GetLanguage()
	case ".cs":
		return csharp.GetLanguage()
	case ".rb":
		return ruby.GetLanguage()
	case ".sh", ".bash":
		return bash.GetLanguage()
	default:
		return nil
	}
}

// boundaryLines returns the 0-indexed start rows of top-level
// declarations, used as preferred cut points.
func boundaryLines(path, content string) map[int]bool {
	lang := languageForPath(path)
	if lang == nil {
		return nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(content))
	if err != nil || tree == nil {
		return nil
	}
	defer tree.Close()

	boundaries := make(map[int]bool)
	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		boundaries[int(child.StartPoint().Row)] = true
	}
	return boundaries
}

// Chunk splits content into ChunkInfos for the given file.
func (c *Chunker) Chunk(path, content string) []ChunkInfo {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	boundaries := boundaryLines(path, content)

	var chunks []ChunkInfo
	start := 0

	for start < len(lines) {
		end := start
		size := 0

		for end < len(lines) {
			lineSize := len(lines[end]) + 1
			if size+lineSize > c.size && end > start {
				break
			}
			size += lineSize
			end++
		}

		// Pull the cut back to the nearest declaration start inside the
		// tail of the window, so the next chunk begins on a declaration.
		if end < len(lines) && len(boundaries) > 0 {
			for cut := end; cut > start+(end-start)/2; cut-- {
				if boundaries[cut] {
					end = cut
					break
				}
			}
		}

		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			sum := sha256.Sum256([]byte(text))
			chunks = append(chunks, ChunkInfo{
				ID:        uuid.NewString(),
				FilePath:  path,
				StartLine: start + 1,
				EndLine:   end,
				Content:   text,
				Hash:      hex.EncodeToString(sum[:]),
			})
		}

		if end >= len(lines) {
			break
		}

		// Walk back whole lines to build the overlap for the next chunk.
		next := end
		carried := 0
		for next > start+1 && carried < c.overlap {
			next--
			carried += len(lines[next]) + 1
		}
		start = next
	}

	return chunks
}
