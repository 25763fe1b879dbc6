package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/torosent/rttbench/internal/bus"
)

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, all errors retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// DefaultConnectPolicy retries transport failures three times with
// exponential backoff starting at 500ms.
func DefaultConnectPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		ShouldRetry: bus.IsTransportError,
		DelayFunc: func(attempt int, _ error) time.Duration {
			return 500 * time.Millisecond << (attempt - 1)
		},
	}
}

// Retry calls fn until it succeeds, the policy is exhausted, the error is not
// retryable, or ctx is done.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		// Don't delay after the last attempt.
		if attempt < attempts {
			if policy.ShouldRetry != nil && !policy.ShouldRetry(lastErr) {
				return lastErr
			}
			delay := policy.Delay
			if policy.DelayFunc != nil {
				delay = policy.DelayFunc(attempt, lastErr)
			}
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// OpenWithRetry opens a bus connection, retrying failures per policy.
func OpenWithRetry(ctx context.Context, opts bus.Options, policy RetryPolicy, logger *slog.Logger) (bus.Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var b bus.Bus
	attempt := 0
	err := Retry(ctx, policy, func(ctx context.Context) error {
		attempt++
		var err error
		b, err = bus.Open(ctx, opts)
		if err != nil {
			logger.Warn("connect failed", "attempt", attempt, "transport", opts.URL, "error", err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
