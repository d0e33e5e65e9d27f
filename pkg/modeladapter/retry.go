package modeladapter

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff configures retries with exponential backoff and jitter.
// The zero value performs a single attempt.
type Backoff struct {
	NumRetries int           // Attempts after the first one.
	BaseDelay  time.Duration // Initial backoff delay (default 100ms).
	MaxDelay   time.Duration // Upper bound for a single delay (0 = no bound).

	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// randFunc returns a random float64 in [0,1); used for jitter. Defaults to rand.Float64.
	randFunc func() float64
}

// SetSleepFunc overrides the sleep function (for testing).
func (b *Backoff) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	b.sleepFunc = fn
}

// SetRandFunc overrides the random number generator (for testing).
func (b *Backoff) SetRandFunc(fn func() float64) { b.randFunc = fn }

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay returns the jittered delay before retry number attempt (0-based).
// A larger backend-requested retryAfter wins over the computed backoff.
func (b *Backoff) Delay(attempt int, retryAfter time.Duration) time.Duration {
	base := b.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	d := max(base*time.Duration(math.Pow(2, float64(attempt))), retryAfter) //nolint:mnd // exponential backoff formula
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}

	randFunc := b.randFunc
	if randFunc == nil {
		randFunc = rand.Float64
	}

	// Scale factor in [0.75, 1.25).
	factor := 0.75 + randFunc()*0.5 //nolint:mnd // jitter range: ±25%

	return time.Duration(float64(d) * factor)
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// retries in b are used up. A nil b makes a single attempt.
func Retry[T any](ctx context.Context, b *Backoff, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	retries := 0
	if b != nil {
		retries = b.NumRetries
	}

	var lastErr error
	for attempt := range retries + 1 {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		lastErr = err

		if attempt >= retries || !IsRetryable(err) {
			break
		}

		var retryAfter time.Duration

		var ce *ClientError
		if errors.As(err, &ce) {
			retryAfter = ce.RetryAfter
		}

		sleep := b.sleepFunc
		if sleep == nil {
			sleep = contextSleep
		}

		if err := sleep(ctx, b.Delay(attempt, retryAfter)); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}
