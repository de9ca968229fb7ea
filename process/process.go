// Package process supervises shell commands run on behalf of the agent.
//
// Information Hiding:
// - Process groups and platform kill semantics hidden
// - Output buffering and read cursors hidden
// - Status transitions owned by the supervisor; callers only observe them
package process

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned for an id the supervisor never issued.
	ErrNotFound = errors.New("process not found")
	// ErrTimeout is returned when a foreground command outlives its deadline.
	ErrTimeout = errors.New("command timed out")
)

// Status is the lifecycle state of a background process.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// RunResult is the outcome of a foreground command.
type RunResult struct {
	Stdout   string
	Stderr   string
	Output   string // stdout and stderr interleaved in arrival order
	ExitCode int
	Duration time.Duration
}

// Output is one incremental read of a background process.
type Output struct {
	ID       string `json:"bash_id"`
	Status   Status `json:"status"`
	Output   string `json:"output"`
	ExitCode *int   `json:"exitCode,omitempty"`
	HasMore  bool   `json:"hasMore"`
}

// KillResult reports what a kill request found and left behind.
type KillResult struct {
	ID          string `json:"bash_id"`
	Status      Status `json:"status"`
	PriorStatus Status `json:"priorStatus"`
}

// Info summarizes a background process without consuming its output.
type Info struct {
	ID        string
	Command   string
	Status    Status
	ExitCode  *int
	StartedAt time.Time
	Duration  time.Duration
}

// proc is one background process. Every field below mu is guarded by it.
type proc struct {
	id      string
	seq     int
	command string
	started time.Time
	done    chan struct{}

	mu       sync.Mutex
	status   Status
	chunks   []string
	cursor   int
	exitCode *int
	ended    time.Time
	kill     func() error
}

// Write appends one output chunk. It implements io.Writer for the command's
// stdout and stderr.
func (p *proc) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.chunks = append(p.chunks, string(b))
	p.mu.Unlock()
	return len(b), nil
}

// read returns every chunk since the cursor and advances it.
func (p *proc) read() Output {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := strings.Join(p.chunks[p.cursor:], "")
	p.cursor = len(p.chunks)
	return Output{
		ID:       p.id,
		Status:   p.status,
		Output:   out,
		ExitCode: p.exitCode,
		HasMore:  p.status == StatusRunning,
	}
}

// finish records the exit of the command. A status already made terminal by
// a kill is left alone.
func (p *proc) finish(code int) {
	p.mu.Lock()
	p.exitCode = &code
	if p.status == StatusRunning {
		p.ended = time.Now()
		if code == 0 {
			p.status = StatusCompleted
		} else {
			p.status = StatusFailed
		}
	}
	p.mu.Unlock()
	close(p.done)
}

func (p *proc) info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	end := p.ended
	if end.IsZero() {
		end = time.Now()
	}
	return Info{
		ID:        p.id,
		Command:   p.command,
		Status:    p.status,
		ExitCode:  p.exitCode,
		StartedAt: p.started,
		Duration:  end.Sub(p.started),
	}
}

// lockedBuffer is a strings.Builder safe for the two copy goroutines exec
// runs when stdout and stderr are not files.
type lockedBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}
