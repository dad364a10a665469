package util

import (
	"context"
	"log/slog"
	"time"
)

// Retry calls fn up to maxAttempts times, doubling the delay between
// attempts starting from baseDelay. It returns nil on the first successful
// call, the last error if every attempt fails, or the context error if ctx
// is cancelled while waiting to retry. Failed attempts are logged at debug
// level.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		slog.Debug("retrying after error",
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"delay", delay,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return err
}
