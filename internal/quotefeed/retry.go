package quotefeed

import (
	"context"
	"errors"
	"time"

	"stockdash/internal/provider"
)

// RetryPolicy retries a call a fixed number of times with a fixed delay.
// Attempts counts every call including the first, so Attempts=3 means
// one initial try and up to two retries.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil means DefaultRetryable.
	Retryable func(error) bool
	// OnRetry, when set, is called before each sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy is three attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: time.Second}
}

// DefaultRetryable retries transport and status failures. Responses that
// arrived but could not be decoded, and cancellation by the caller, are final.
func DefaultRetryable(err error) bool {
	if errors.Is(err, provider.ErrMalformed) || errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(err, ErrNoData)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// budget is spent. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return attempt, nil
		}
		if attempt == attempts || !retryable(err) {
			return attempt, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if serr := sleep(ctx, p.Delay); serr != nil {
			return attempt, errors.Join(err, serr)
		}
	}
	return attempts, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
