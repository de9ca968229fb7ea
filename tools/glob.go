// Glob tool for file discovery.
//
// Returns file paths matching a doublestar pattern without reading content.

package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// DefaultGlobMaxResults is the default maximum results per query.
	DefaultGlobMaxResults = 100
	// AbsoluteGlobMaxResults is the hard limit to prevent excessive memory.
	AbsoluteGlobMaxResults = 1000
)

var errLimitReached = errors.New("result limit reached")

// GlobTool finds files matching glob patterns.
type GlobTool struct {
	maxResults int
}

// NewGlobTool creates a new glob tool.
// If maxResults <= 0, AbsoluteGlobMaxResults is used.
func NewGlobTool(maxResults int) *GlobTool {
	if maxResults <= 0 {
		maxResults = AbsoluteGlobMaxResults
	}
	return &GlobTool{maxResults: maxResults}
}

// Descriptor returns the tool descriptor.
func (t *GlobTool) Descriptor() Descriptor {
	params := []ToolParameter{
		{Name: "pattern", ParamType: "string", Description: "Glob pattern (e.g., '**/*.go', 'src/**/*.ts')", Required: true},
		{Name: "path", ParamType: "string", Description: "Base directory (default: working directory)"},
		{Name: "max_results", ParamType: "integer", Description: fmt.Sprintf("Maximum files to return (default: %d)", DefaultGlobMaxResults)},
	}
	return Descriptor{
		Name:         "glob",
		Description:  "Find files matching a glob pattern. Returns paths only; hidden directories are skipped.",
		Parameters:   params,
		Capabilities: Capabilities{Idempotent: true, Retryable: true},
		Validator:    SchemaValidator(params),
	}
}

// GlobData is the payload of a successful glob.
type GlobData struct {
	Pattern   string   `json:"pattern"`
	Files     []string `json:"files"`
	Truncated bool     `json:"truncated"`
}

// Execute runs the glob.
func (t *GlobTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	p, bad := paramsAs[GlobParams](params)
	if bad != nil {
		return *bad
	}
	if !doublestar.ValidatePattern(p.Pattern) {
		return Failf(CodeValidation, "invalid glob pattern %q", p.Pattern)
	}

	limit := p.MaxResults
	if limit <= 0 {
		limit = DefaultGlobMaxResults
	}
	limit = min(limit, t.maxResults)

	base := tc.Resolve(p.Path)
	if _, err := tc.FS.Stat(base); err != nil {
		return fsFailure(err, p.Path)
	}

	var files []string
	truncated := false
	err := doublestar.GlobWalk(os.DirFS(base), p.Pattern, func(path string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || hiddenPath(path) {
			return nil
		}
		if len(files) >= limit {
			truncated = true
			return errLimitReached
		}
		files = append(files, path)
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return Failf(CodeExecution, "glob failed: %v", err)
	}
	sort.Strings(files)

	return OK(GlobData{Pattern: p.Pattern, Files: files, Truncated: truncated})
}

func hiddenPath(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
