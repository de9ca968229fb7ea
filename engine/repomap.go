// Package engine provides the code-intelligence engine used by
// get_codebase_map: a declaration-level map of a repository.
//
// Information Hiding:
// - Directory traversal and skip rules hidden
// - Per-language declaration patterns hidden
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/richinex/loom/internal/logging"
)

// DefaultMaxFileSize skips files larger than this when mapping.
const DefaultMaxFileSize = 512 * 1024

// declaration matches function, type and class headers across the languages
// a coding assistant commonly meets.
var declaration = regexp.MustCompile(`(?m)^[ \t]*(?:` +
	`(?:pub(?:\([a-z]+\))?\s+)?(?:async\s+)?fn\s+\w+` + // rust
	`|func\s+(?:\([^)]*\)\s*)?\w+` + // go
	`|type\s+\w+\s+(?:struct|interface)\b` + // go types
	`|(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*\w+` + // js/ts
	`|(?:export\s+)?(?:const|let|var)\s+\w+\s*=\s*(?:async\s*)?\(` + // js arrow
	`|(?:export\s+)?(?:abstract\s+)?class\s+\w+` + // js/ts/py/java
	`|(?:export\s+)?interface\s+\w+` + // ts
	`|(?:async\s+)?def\s+\w+` + // python
	`|(?:pub\s+)?(?:struct|enum|trait)\s+\w+` + // rust
	`)`)

// RepoMap walks a tree and lists declarations per file.
type RepoMap struct {
	maxFileSize int64
	logger      *slog.Logger
}

// NewRepoMap creates a repository mapper.
func NewRepoMap() *RepoMap {
	return &RepoMap{maxFileSize: DefaultMaxFileSize, logger: logging.OrDefault(nil, "engine")}
}

// WithLogger sets the logger.
func (m *RepoMap) WithLogger(logger *slog.Logger) *RepoMap {
	m.logger = logging.OrDefault(logger, "engine")
	return m
}

// CodebaseMap renders the map of root. Each readable text file contributes a
// "---\nFile: <path>\n" header followed by its declaration lines. Hidden
// entries and node_modules are skipped.
func (m *RepoMap) CodebaseMap(ctx context.Context, root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("codebase map: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("codebase map: %s is not a directory", root)
	}

	var sb strings.Builder
	files := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != root && skipped(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		content, ok := m.readText(path, d)
		if !ok {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		fmt.Fprintf(&sb, "\n---\nFile: %s\n", filepath.ToSlash(rel))
		for _, decl := range declaration.FindAll(content, -1) {
			sb.WriteString(strings.TrimSpace(string(decl)))
			sb.WriteByte('\n')
		}
		files++
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("codebase map: %w", err)
	}

	m.logger.Debug("codebase mapped", "root", root, "files", files)
	return sb.String(), nil
}

func (m *RepoMap) readText(path string, d fs.DirEntry) ([]byte, bool) {
	info, err := d.Info()
	if err != nil || info.Size() > m.maxFileSize {
		return nil, false
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.IndexByte(head, 0) != -1 {
		return nil, false
	}
	return content, true
}

func skipped(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}
