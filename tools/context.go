// Tool execution context.
//
// Information Hiding:
// - File system access behind FileSystem
// - Confirmation as a request/response channel with its own timeout
// - Native engine behind Engine

package tools

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FileSystem is the file surface available to tools.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Exists(path string) bool
	Remove(path string) error
	ReadDir(path string) ([]fs.DirEntry, error)
	Stat(path string) (fs.FileInfo, error)
}

// OSFileSystem is the FileSystem backed by the host OS.
type OSFileSystem struct{}

func (OSFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// WriteFile creates parent directories as needed.
func (OSFileSystem) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (OSFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OSFileSystem) Remove(path string) error                  { return os.Remove(path) }
func (OSFileSystem) ReadDir(path string) ([]fs.DirEntry, error) { return os.ReadDir(path) }
func (OSFileSystem) Stat(path string) (fs.FileInfo, error)     { return os.Stat(path) }

// Engine is the native code-intelligence engine.
type Engine interface {
	CodebaseMap(ctx context.Context, root string) (string, error)
}

// ErrConfirmTimeout is returned when nobody answers a confirmation request.
var ErrConfirmTimeout = errors.New("confirmation timed out")

// ConfirmRequest asks the session layer to approve a destructive change.
// Exactly one value must be sent on Reply.
type ConfirmRequest struct {
	Tool  string
	Path  string
	Diff  string
	Reply chan<- bool
}

// Confirmer carries confirmation requests from tools to the UI layer.
type Confirmer struct {
	requests chan ConfirmRequest
	timeout  time.Duration
}

// NewConfirmer creates a confirmer; zero timeout waits indefinitely.
func NewConfirmer(timeout time.Duration) *Confirmer {
	return &Confirmer{requests: make(chan ConfirmRequest), timeout: timeout}
}

// Requests is the stream the UI layer must serve.
func (c *Confirmer) Requests() <-chan ConfirmRequest {
	return c.requests
}

// Confirm blocks until the request is answered, ctx ends, or the timeout
// elapses. Only an explicit true approves.
func (c *Confirmer) Confirm(ctx context.Context, tool, path, diff string) (bool, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reply := make(chan bool, 1)
	select {
	case c.requests <- ConfirmRequest{Tool: tool, Path: path, Diff: diff, Reply: reply}:
	case <-ctx.Done():
		return false, confirmErr(ctx)
	}

	select {
	case ok := <-reply:
		return ok, nil
	case <-ctx.Done():
		return false, confirmErr(ctx)
	}
}

// Serve answers every request with decide until ctx ends.
func (c *Confirmer) Serve(ctx context.Context, decide func(ConfirmRequest) bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.requests:
			req.Reply <- decide(req)
		}
	}
}

func confirmErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrConfirmTimeout
	}
	return ctx.Err()
}

// Context is supplied to every tool invocation.
type Context struct {
	WorkDir string
	FS      FileSystem
	Confirm *Confirmer    // optional
	Engine  Engine        // optional
	Logger  *slog.Logger  // optional
}

// NewContext creates a context rooted at workDir on the OS file system.
func NewContext(workDir string) *Context {
	return &Context{WorkDir: workDir, FS: OSFileSystem{}}
}

// Resolve makes path absolute relative to the working directory.
func (c *Context) Resolve(path string) string {
	if path == "" {
		path = "."
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.WorkDir, path)
}

func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Context) withDefaults() *Context {
	if c == nil {
		wd, _ := os.Getwd()
		return NewContext(wd)
	}
	if c.FS != nil && c.WorkDir != "" {
		return c
	}
	cp := *c
	if cp.FS == nil {
		cp.FS = OSFileSystem{}
	}
	if cp.WorkDir == "" {
		cp.WorkDir, _ = os.Getwd()
	}
	return &cp
}
