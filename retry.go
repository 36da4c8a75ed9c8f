package strata

import (
	"context"
	"errors"
	log "log/slog"
	"net"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff up to 5 retries.
// If retries are exhausted, gaveUpTask is invoked (when not nil) and the final error is returned.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(1 * time.Second)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), task); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}

// ShouldRetry reports whether the error is retryable (non-nil and not a known permanent failure).
// Backend repositories use it to decide whether to wrap an operation with Retry.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	// Context cancellations/timeouts are permanent from the caller's POV.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Build-time and data-level errors are never transient; a contended lock is
	// the one Error kind that yields to a backoff loop.
	var e Error
	if errors.As(err, &e) {
		return e.Code == LockAcquisitionFailure
	}

	// Non-timeout network errors (refused connection, unknown host) typically
	// resolve only with operator action; avoid tight retry loops on those.
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}

	return true
}
