// Code search tool.
//
// Information Hiding:
// - Directory walk and skip rules hidden
// - Binary and oversized file detection hidden
// - Match formatting abstracted

package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultSearchMaxResults caps matches when the call does not.
const DefaultSearchMaxResults = 100

// skipDirs are never descended into.
var skipDirs = map[string]bool{"node_modules": true, "vendor": true}

// SearchCodeTool greps files under a directory with a regular expression.
type SearchCodeTool struct {
	maxFileSize int64
}

// NewSearchCodeTool creates a new search tool.
func NewSearchCodeTool() *SearchCodeTool {
	return &SearchCodeTool{maxFileSize: DefaultMaxFileSize}
}

// Descriptor returns the tool descriptor.
func (t *SearchCodeTool) Descriptor() Descriptor {
	params := []ToolParameter{
		{Name: "pattern", ParamType: "string", Description: "Regular expression (RE2 syntax)", Required: true},
		{Name: "path", ParamType: "string", Description: "Directory or file to search (default: working directory)"},
		{Name: "include", ParamType: "string", Description: "Glob filter on file paths, e.g. '**/*.go'"},
		{Name: "case_insensitive", ParamType: "boolean", Description: "Ignore case"},
		{Name: "max_results", ParamType: "integer", Description: fmt.Sprintf("Maximum matching lines (default: %d)", DefaultSearchMaxResults)},
	}
	return Descriptor{
		Name:         "search_code",
		Description:  "Search file contents for a regular expression and return matching lines with locations",
		Parameters:   params,
		Capabilities: Capabilities{Idempotent: true, Retryable: true},
		Validator:    Validators(SchemaValidator(params), validRegexp),
	}
}

func validRegexp(args json.RawMessage) []string {
	p, err := decodeAs[SearchCodeParams](args)
	if err != nil {
		return nil
	}
	if _, err := regexp.Compile(p.(SearchCodeParams).Pattern); err != nil {
		return []string{fmt.Sprintf("pattern is not a valid regular expression: %v", err)}
	}
	return nil
}

// SearchMatch is one matching line.
type SearchMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// SearchCodeData is the payload of a successful search.
type SearchCodeData struct {
	Pattern   string        `json:"pattern"`
	Matches   []SearchMatch `json:"matches"`
	Truncated bool          `json:"truncated"`
}

// Execute runs the search.
func (t *SearchCodeTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	p, bad := paramsAs[SearchCodeParams](params)
	if bad != nil {
		return *bad
	}

	expr := p.Pattern
	if p.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Failf(CodeValidation, "invalid pattern: %v", err)
	}
	limit := p.MaxResults
	if limit <= 0 {
		limit = DefaultSearchMaxResults
	}

	root := tc.Resolve(p.Path)
	if _, err := tc.FS.Stat(root); err != nil {
		return fsFailure(err, p.Path)
	}

	data := SearchCodeData{Pattern: p.Pattern, Matches: []SearchMatch{}}
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(tc.WorkDir, path)
		rel = filepath.ToSlash(rel)
		if p.Include != "" {
			if ok, _ := doublestar.PathMatch(p.Include, rel); !ok {
				if ok, _ := doublestar.Match(p.Include, name); !ok {
					return nil
				}
			}
		}

		matches, full := t.searchFile(path, rel, re, limit-len(data.Matches))
		data.Matches = append(data.Matches, matches...)
		if full {
			data.Truncated = true
			return errLimitReached
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errLimitReached) {
		return Failf(CodeExecution, "search failed: %v", walkErr)
	}

	var sb strings.Builder
	for _, m := range data.Matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.File, m.Line, m.Text)
	}
	return OK(data).WithSnippet("search:"+p.Pattern, sb.String())
}

// searchFile returns up to remaining matches; full reports that the limit was
// hit with more matches pending.
func (t *SearchCodeTool) searchFile(path, rel string, re *regexp.Regexp, remaining int) (matches []SearchMatch, full bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > t.maxFileSize {
		return nil, false
	}
	content, err := os.ReadFile(path)
	if err != nil || isBinary(content) {
		return nil, false
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), int(t.maxFileSize))
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if !re.MatchString(text) {
			continue
		}
		if len(matches) >= remaining {
			return matches, true
		}
		matches = append(matches, SearchMatch{File: rel, Line: line, Text: strings.TrimSpace(text)})
	}
	return matches, false
}

func isBinary(content []byte) bool {
	head := content
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.IndexByte(head, 0) != -1
}
