// Filesystem Tools - read, write, edit, and list operations.
//
// Information Hiding:
// - File I/O goes through the context FileSystem
// - Confirmation diffs rendered internally
// - Not-found errors mapped to FILE_NOT_FOUND

package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultMaxFileSize caps what read_file returns.
const DefaultMaxFileSize = 1024 * 1024

var pathParam = ToolParameter{Name: "path", ParamType: "string", Description: "Path to the file, absolute or relative to the working directory", Required: true}

// ReadFileTool reads file contents, optionally a line window.
type ReadFileTool struct {
	maxSizeBytes int64
}

// NewReadFileTool creates a new read file tool.
func NewReadFileTool(maxSizeBytes int64) *ReadFileTool {
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxFileSize
	}
	return &ReadFileTool{maxSizeBytes: maxSizeBytes}
}

// Descriptor returns the tool descriptor.
func (t *ReadFileTool) Descriptor() Descriptor {
	params := []ToolParameter{
		pathParam,
		{Name: "offset", ParamType: "integer", Description: "First line to read (1-based)"},
		{Name: "limit", ParamType: "integer", Description: "Maximum number of lines to read"},
	}
	return Descriptor{
		Name:         "read_file",
		Description:  "Read the contents of a file from the filesystem",
		Parameters:   params,
		Capabilities: Capabilities{Idempotent: true, Retryable: true},
		Validator:    SchemaValidator(params),
	}
}

// ReadFileData is the payload of a successful read.
type ReadFileData struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	TotalLines int    `json:"totalLines"`
	StartLine  int    `json:"startLine"`
	EndLine    int    `json:"endLine"`
}

// Execute reads the file.
func (t *ReadFileTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	p, bad := paramsAs[ReadFileParams](params)
	if bad != nil {
		return *bad
	}
	path := tc.Resolve(p.Path)

	info, err := tc.FS.Stat(path)
	if err != nil {
		return fsFailure(err, p.Path)
	}
	if info.IsDir() {
		return Failf(CodeExecution, "%s is a directory", p.Path)
	}
	if info.Size() > t.maxSizeBytes {
		return Failf(CodeExecution, "file too large: %d bytes (max: %d bytes)", info.Size(), t.maxSizeBytes)
	}

	data, err := tc.FS.ReadFile(path)
	if err != nil {
		return fsFailure(err, p.Path)
	}

	lines := strings.SplitAfter(string(data), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	start := max(p.Offset, 1)
	end := len(lines)
	if p.Limit > 0 && start-1+p.Limit < end {
		end = start - 1 + p.Limit
	}
	content := ""
	if start <= end {
		content = strings.Join(lines[start-1:end], "")
	}

	return OK(ReadFileData{
		Path:       p.Path,
		Content:    content,
		TotalLines: len(lines),
		StartLine:  start,
		EndLine:    end,
	}).Touching(path).WithSnippet(p.Path, content)
}

// WriteFileTool writes a whole file, asking for confirmation when possible.
type WriteFileTool struct{}

// NewWriteFileTool creates a new write file tool.
func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{}
}

// Descriptor returns the tool descriptor.
func (t *WriteFileTool) Descriptor() Descriptor {
	params := []ToolParameter{
		pathParam,
		{Name: "content", ParamType: "string", Description: "Full content to write", Required: false},
	}
	return Descriptor{
		Name:         "write_file",
		Description:  "Create or overwrite a file with the given content",
		Parameters:   params,
		Capabilities: Capabilities{WritesFiles: true, Idempotent: true},
		Validator:    SchemaValidator(params),
	}
}

// WriteFileData is the payload of a successful write.
type WriteFileData struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytesWritten"`
	Created      bool   `json:"created"`
}

// Execute writes the file.
func (t *WriteFileTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	p, bad := paramsAs[WriteFileParams](params)
	if bad != nil {
		return *bad
	}
	path := tc.Resolve(p.Path)

	var before string
	existed := tc.FS.Exists(path)
	if existed {
		data, err := tc.FS.ReadFile(path)
		if err != nil {
			return fsFailure(err, p.Path)
		}
		before = string(data)
	}

	if res := confirmChange(ctx, tc, "write_file", p.Path, before, p.Content); res != nil {
		return *res
	}

	if err := tc.FS.WriteFile(path, []byte(p.Content)); err != nil {
		return Failf(CodeExecution, "failed to write %s: %v", p.Path, err)
	}
	return OK(WriteFileData{Path: p.Path, BytesWritten: len(p.Content), Created: !existed}).Touching(path)
}

// EditFileTool replaces an exact string in a file.
type EditFileTool struct{}

// NewEditFileTool creates a new edit file tool.
func NewEditFileTool() *EditFileTool {
	return &EditFileTool{}
}

// Descriptor returns the tool descriptor.
func (t *EditFileTool) Descriptor() Descriptor {
	params := []ToolParameter{
		pathParam,
		{Name: "old_string", ParamType: "string", Description: "Exact text to replace; must be unique unless replace_all", Required: true},
		{Name: "new_string", ParamType: "string", Description: "Replacement text", Required: false},
		{Name: "replace_all", ParamType: "boolean", Description: "Replace every occurrence"},
	}
	return Descriptor{
		Name:         "edit_file",
		Description:  "Replace text in an existing file",
		Parameters:   params,
		Capabilities: Capabilities{WritesFiles: true},
		Validator:    SchemaValidator(params),
	}
}

// EditFileData is the payload of a successful edit.
type EditFileData struct {
	Path         string `json:"path"`
	Replacements int    `json:"replacements"`
}

// Execute applies the edit.
func (t *EditFileTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	p, bad := paramsAs[EditFileParams](params)
	if bad != nil {
		return *bad
	}
	if p.OldString == p.NewString {
		return Fail(CodeValidation, "old_string and new_string are identical")
	}
	path := tc.Resolve(p.Path)

	data, err := tc.FS.ReadFile(path)
	if err != nil {
		return fsFailure(err, p.Path)
	}
	before := string(data)

	count := strings.Count(before, p.OldString)
	switch {
	case count == 0:
		return Failf(CodeExecution, "old_string not found in %s", p.Path)
	case count > 1 && !p.ReplaceAll:
		return Failf(CodeExecution, "old_string appears %d times in %s; add context or set replace_all", count, p.Path)
	}

	after := strings.Replace(before, p.OldString, p.NewString, replaceCount(p.ReplaceAll))
	if res := confirmChange(ctx, tc, "edit_file", p.Path, before, after); res != nil {
		return *res
	}
	if err := tc.FS.WriteFile(path, []byte(after)); err != nil {
		return Failf(CodeExecution, "failed to write %s: %v", p.Path, err)
	}

	replaced := 1
	if p.ReplaceAll {
		replaced = count
	}
	return OK(EditFileData{Path: p.Path, Replacements: replaced}).Touching(path)
}

func replaceCount(all bool) int {
	if all {
		return -1
	}
	return 1
}

// ListDirectoryTool lists the entries of one directory.
type ListDirectoryTool struct{}

// NewListDirectoryTool creates a new list directory tool.
func NewListDirectoryTool() *ListDirectoryTool {
	return &ListDirectoryTool{}
}

// Descriptor returns the tool descriptor.
func (t *ListDirectoryTool) Descriptor() Descriptor {
	params := []ToolParameter{
		{Name: "path", ParamType: "string", Description: "Directory to list", Required: true},
		{Name: "ignore", ParamType: "array", Description: "Glob patterns of entry names to skip"},
	}
	return Descriptor{
		Name:         "list_directory",
		Description:  "List files and subdirectories of a directory",
		Parameters:   params,
		Capabilities: Capabilities{Idempotent: true, Retryable: true},
		Validator:    SchemaValidator(params),
	}
}

// DirEntry is one listed entry.
type DirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
}

// ListDirectoryData is the payload of a successful listing.
type ListDirectoryData struct {
	Path    string     `json:"path"`
	Entries []DirEntry `json:"entries"`
}

// Execute lists the directory. Directories sort before files.
func (t *ListDirectoryTool) Execute(ctx context.Context, params Params, tc *Context) Result {
	p, bad := paramsAs[ListDirectoryParams](params)
	if bad != nil {
		return *bad
	}
	path := tc.Resolve(p.Path)

	entries, err := tc.FS.ReadDir(path)
	if err != nil {
		return fsFailure(err, p.Path)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		if ignored(e.Name(), p.Ignore) {
			continue
		}
		entry := DirEntry{Name: e.Name(), Type: "file"}
		if e.IsDir() {
			entry.Type = "dir"
		} else if info, err := e.Info(); err == nil {
			entry.Size = info.Size()
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type == "dir"
		}
		return out[i].Name < out[j].Name
	})

	return OK(ListDirectoryData{Path: p.Path, Entries: out}).Touching(path)
}

func ignored(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// confirmChange asks the session to approve a write. A nil return means
// proceed.
func confirmChange(ctx context.Context, tc *Context, tool, path, before, after string) *Result {
	if tc.Confirm == nil {
		return nil
	}
	ok, err := tc.Confirm.Confirm(ctx, tool, path, RenderDiff(path, before, after))
	if err != nil {
		res := Failf(CodeUserCancelled, "change to %s not confirmed: %v", path, err)
		return &res
	}
	if !ok {
		res := Failf(CodeUserCancelled, "change to %s rejected by user", path)
		return &res
	}
	return nil
}

// RenderDiff produces a line-oriented diff of before and after.
func RenderDiff(path, before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", path, path)
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func fsFailure(err error, path string) Result {
	if errors.Is(err, fs.ErrNotExist) {
		return Failf(CodeFileNotFound, "file does not exist: %s", path)
	}
	return Failf(CodeExecution, "%s: %v", filepath.ToSlash(path), err)
}
