package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestDelayDoublesAndCaps(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 3*time.Second, p.Delay(2))
}

func TestDefaultBackoffSequence(t *testing.T) {
	var delays []time.Duration
	p := Default()
	p.Sleep = recordingSleep(&delays)

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("empty")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestDoStopsOnSuccess(t *testing.T) {
	var delays []time.Duration
	p := Default()
	p.Sleep = recordingSleep(&delays)

	calls := 0
	got, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Len(t, delays, 1)
}

func TestDoHonorsRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	p := Default()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	p.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoDoesNotRetryCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, Default(), func(ctx context.Context) (int, error) {
		calls++
		return 0, ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestOnRetryReportsAttempts(t *testing.T) {
	var attempts []int
	p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond}
	p.OnRetry = func(_ error, attempt int, _ time.Duration) { attempts = append(attempts, attempt) }

	_, _ = Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}
