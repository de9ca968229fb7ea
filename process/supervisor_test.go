package process

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures assume a POSIX shell")
	}
	s := NewSupervisor(t.TempDir())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Shutdown(ctx))
	})
	return s
}

func TestRunForeground(t *testing.T) {
	s := newTestSupervisor(t)

	tests := []struct {
		name     string
		command  string
		wantCode int
		stdout   string
		stderr   string
	}{
		{name: "success", command: "echo hello", wantCode: 0, stdout: "hello\n"},
		{name: "stderr captured", command: "echo oops >&2", wantCode: 0, stderr: "oops\n"},
		{name: "non-zero exit", command: "echo partial; exit 3", wantCode: 3, stdout: "partial\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Run(context.Background(), tt.command, 5*time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, res.ExitCode)
			assert.Equal(t, tt.stdout, res.Stdout)
			assert.Equal(t, tt.stderr, res.Stderr)
			assert.Equal(t, tt.stdout+tt.stderr, res.Output)
		})
	}
}

func TestRunTimeoutKillsGroup(t *testing.T) {
	s := newTestSupervisor(t)

	start := time.Now()
	res, err := s.Run(context.Background(), "echo before; sleep 10", 300*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Stdout, "before")
	assert.Less(t, elapsed, 3*time.Second)
}

func TestBackgroundEndToEnd(t *testing.T) {
	s := newTestSupervisor(t)

	id, err := s.Start("echo a; sleep 0.2; echo b")
	require.NoError(t, err)
	assert.Equal(t, "bash_1", id)

	var first Output
	var seen strings.Builder
	require.Eventually(t, func() bool {
		out, readErr := s.Read(id)
		if readErr != nil {
			return false
		}
		first = out
		seen.WriteString(out.Output)
		return strings.Contains(seen.String(), "a")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusRunning, first.Status)
	assert.True(t, first.HasMore)
	assert.Nil(t, first.ExitCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx, id))

	last, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, last.Status)
	require.NotNil(t, last.ExitCode)
	assert.Equal(t, 0, *last.ExitCode)
	assert.Contains(t, last.Output, "b")
	assert.NotContains(t, last.Output, "a")
	assert.False(t, last.HasMore)
}

func TestBackgroundFailedStatus(t *testing.T) {
	s := newTestSupervisor(t)

	id, err := s.Start("echo bad >&2; exit 7")
	require.NoError(t, err)
	require.NoError(t, s.Wait(context.Background(), id))

	out, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 7, *out.ExitCode)
	assert.Equal(t, "bad\n", out.Output)
}

func TestReadIsMonotonic(t *testing.T) {
	s := newTestSupervisor(t)

	id, err := s.Start("echo once")
	require.NoError(t, err)
	require.NoError(t, s.Wait(context.Background(), id))

	first, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, "once\n", first.Output)

	second, err := s.Read(id)
	require.NoError(t, err)
	assert.Empty(t, second.Output)
	assert.Equal(t, first.Status, second.Status)
}

func TestKillIsIdempotent(t *testing.T) {
	s := newTestSupervisor(t)

	id, err := s.Start("sleep 30")
	require.NoError(t, err)

	first, err := s.Kill(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, first.PriorStatus)
	assert.Equal(t, StatusKilled, first.Status)

	second, err := s.Kill(id)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.PriorStatus)
	assert.Equal(t, StatusKilled, second.Status)

	out, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, StatusKilled, out.Status)
	assert.False(t, out.HasMore)
}

func TestKillCompletedReportsPriorStatus(t *testing.T) {
	s := newTestSupervisor(t)

	id, err := s.Start("true")
	require.NoError(t, err)
	require.NoError(t, s.Wait(context.Background(), id))

	res, err := s.Kill(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.PriorStatus)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestUnknownID(t *testing.T) {
	s := newTestSupervisor(t)

	_, err := s.Read("bash_99")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Kill("bash_99")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestIDsNeverReused(t *testing.T) {
	s := newTestSupervisor(t)

	a, err := s.Start("true")
	require.NoError(t, err)
	_, err = s.Kill(a)
	require.NoError(t, err)
	b, err := s.Start("true")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	infos := s.List()
	require.Len(t, infos, 2)
	assert.Equal(t, a, infos[0].ID)
	assert.Equal(t, b, infos[1].ID)
}

func TestShutdownKillsRunning(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell fixtures assume a POSIX shell")
	}
	s := NewSupervisor(t.TempDir())

	id, err := s.Start("sleep 30")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	out, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, StatusKilled, out.Status)
}

// A descendant holding stdout open past the shell's exit must not turn a
// clean exit into a failure.
func TestRunOrphanHoldingPipe(t *testing.T) {
	s := newTestSupervisor(t)

	res, err := s.Run(context.Background(), "sleep 3 & echo hi", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hi\n", res.Stdout)
}

func TestBackgroundOrphanHoldingPipe(t *testing.T) {
	s := newTestSupervisor(t)

	id, err := s.Start("sleep 3 & echo hi")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx, id))

	out, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 0, *out.ExitCode)
	assert.Equal(t, "hi\n", out.Output)
}

func TestWithShell(t *testing.T) {
	s := newTestSupervisor(t).WithShell("/bin/sh")

	res, err := s.Run(context.Background(), "echo $0", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "/bin/sh\n", res.Stdout)
}
