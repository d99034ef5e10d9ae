package runner

import (
	"context"
	"time"
)

const defaultRetryBackoff = 100 * time.Millisecond

// withRetry re-runs fn with doubling backoff until it succeeds or the
// attempt budget is spent. Only host fact reads (epoch, balance) go through
// here; contract operations carry settlement semantics and run exactly once.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if baseDelay <= 0 {
		baseDelay = defaultRetryBackoff
	}

	var err error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries || attempt == 0; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= maxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}
