// Package retry provides a reusable retry policy with exponential backoff.
//
// Information Hiding:
// - Backoff curve and jitter hidden behind Policy.Delay
// - Sleep strategy injectable for deterministic tests
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy configures retry behavior with exponential backoff.
type Policy struct {
	MaxRetries int           // retries after the initial attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap on any single delay; zero means uncapped
	Multiplier float64       // backoff factor, defaults to 2
	Jitter     bool          // +/- 50% randomization

	// Retryable decides whether err warrants another attempt.
	// Nil retries everything except context cancellation.
	Retryable func(err error) bool

	// OnRetry is called before each sleep.
	OnRetry func(err error, attempt int, delay time.Duration)

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default returns the policy used for model calls: 3 retries at 1s, 2s, 4s.
func Default() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2,
	}
}

// Delay returns the wait before retry number attempt (0-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 {
		delay = math.Min(delay, float64(p.MaxDelay))
	}
	if p.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn and retries it per policy. The last error is returned once
// retries are exhausted or the error is not retryable.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	for attempt := 0; err != nil && attempt < p.MaxRetries; attempt++ {
		if !p.retryable(err) {
			return result, err
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(err, attempt+1, delay)
		}
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return result, errors.Join(err, sleepErr)
		}
		result, err = fn(ctx)
	}
	return result, err
}
