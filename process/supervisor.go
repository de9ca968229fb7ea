package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/richinex/loom/internal/logging"
)

// waitDelay bounds how long Wait lingers on pipes held open by orphaned
// grandchildren after the shell itself has exited.
const waitDelay = 2 * time.Second

// Supervisor owns every shell command started for a session. It is safe for
// concurrent use.
type Supervisor struct {
	workDir string
	shell   string
	logger  *slog.Logger

	mu    sync.Mutex
	procs map[string]*proc
	next  int
}

// NewSupervisor creates a supervisor running commands in workDir.
func NewSupervisor(workDir string) *Supervisor {
	return &Supervisor{
		workDir: workDir,
		shell:   defaultShell(),
		logger:  logging.OrDefault(nil, "process"),
		procs:   make(map[string]*proc),
	}
}

// WithShell overrides the shell binary. Empty keeps the default.
func (s *Supervisor) WithShell(shell string) *Supervisor {
	if shell != "" {
		s.shell = shell
	}
	return s
}

// WithLogger sets the logger.
func (s *Supervisor) WithLogger(logger *slog.Logger) *Supervisor {
	s.logger = logging.OrDefault(logger, "process")
	return s
}

// Run executes command in the foreground. A non-zero exit is reported in
// RunResult.ExitCode, not as an error. When the deadline passes first, the
// whole process group is killed and ErrTimeout is returned with whatever
// output was captured.
func (s *Supervisor) Run(ctx context.Context, command string, timeout time.Duration) (RunResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := shellCommand(ctx, s.shell, command)
	cmd.Dir = s.workDir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	combined := &lockedBuffer{}
	cmd.Stdout = io.MultiWriter(&stdout, combined)
	cmd.Stderr = io.MultiWriter(&stderr, combined)

	start := time.Now()
	err := cmd.Run()
	res := RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Output:   combined.String(),
		Duration: time.Since(start),
	}

	switch {
	case ctx.Err() != nil:
		res.ExitCode = -1
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, ErrTimeout
		}
		return res, ctx.Err()
	case err == nil:
		return res, nil
	}

	if code, ok := exitCode(cmd, err); ok {
		res.ExitCode = code
		return res, nil
	}
	return res, fmt.Errorf("run command: %w", err)
}

// Start launches command in the background and returns its id at once.
// Ids have the form bash_N and are never reused.
func (s *Supervisor) Start(command string) (string, error) {
	s.mu.Lock()
	s.next++
	seq := s.next
	s.mu.Unlock()

	p := &proc{
		id:      fmt.Sprintf("bash_%d", seq),
		seq:     seq,
		command: command,
		status:  StatusRunning,
		done:    make(chan struct{}),
	}

	cmd := shellCommand(context.Background(), s.shell, command)
	cmd.Dir = s.workDir
	cmd.WaitDelay = waitDelay
	cmd.Stdout = p
	cmd.Stderr = p

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start command: %w", err)
	}
	p.started = time.Now()
	p.kill = func() error { return killGroup(cmd) }

	s.mu.Lock()
	s.procs[p.id] = p
	s.mu.Unlock()

	go func() {
		code, _ := exitCode(cmd, cmd.Wait())
		p.finish(code)
		s.logger.Debug("background process exited", "id", p.id, "status", p.info().Status)
	}()

	s.logger.Info("background process started", "id", p.id, "command", command)
	return p.id, nil
}

// Read returns output produced since the previous read of id.
func (s *Supervisor) Read(id string) (Output, error) {
	p, err := s.lookup(id)
	if err != nil {
		return Output{}, err
	}
	return p.read(), nil
}

// Kill terminates id if it is still running. Killing a process that has
// already stopped succeeds and reports the status it stopped with.
func (s *Supervisor) Kill(id string) (KillResult, error) {
	p, err := s.lookup(id)
	if err != nil {
		return KillResult{}, err
	}

	p.mu.Lock()
	prior := p.status
	if prior.Terminal() {
		p.mu.Unlock()
		return KillResult{ID: id, Status: prior, PriorStatus: prior}, nil
	}
	if err := p.kill(); err != nil {
		p.mu.Unlock()
		return KillResult{}, fmt.Errorf("kill %s: %w", id, err)
	}
	p.status = StatusKilled
	p.ended = time.Now()
	p.mu.Unlock()

	// Let the copy goroutines drain so a later read sees the tail.
	select {
	case <-p.done:
	case <-time.After(waitDelay + time.Second):
		s.logger.Warn("killed process did not exit in time", "id", id)
	}

	s.logger.Info("background process killed", "id", id)
	return KillResult{ID: id, Status: StatusKilled, PriorStatus: prior}, nil
}

// Wait blocks until id exits or ctx ends.
func (s *Supervisor) Wait(ctx context.Context, id string) error {
	p, err := s.lookup(id)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns every process in start order.
func (s *Supervisor) List() []Info {
	s.mu.Lock()
	procs := make([]*proc, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	sort.Slice(procs, func(i, j int) bool { return procs[i].seq < procs[j].seq })
	out := make([]Info, len(procs))
	for i, p := range procs {
		out[i] = p.info()
	}
	return out
}

// Shutdown kills every running process and waits for them to exit.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := s.Kill(id); err != nil {
				return err
			}
			return s.Wait(ctx, id)
		})
	}
	return g.Wait()
}

func (s *Supervisor) lookup(id string) (*proc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return p, nil
}

// exitCode extracts the shell's exit status from the result of cmd.Wait.
// ErrWaitDelay means the shell exited but a descendant kept its output pipe
// open, so the status is still known. ok is false when the command never
// produced one.
func exitCode(cmd *exec.Cmd, err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), true
	}
	return -1, false
}
