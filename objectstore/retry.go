package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// retryBase is the first backoff interval; it doubles on every attempt.
var retryBase = 100 * time.Millisecond

// withRetry runs fn until it succeeds, fails permanently, or exhausts retries.
// Missing objects, permission errors and cancellation are never retried.
func withRetry(ctx context.Context, retries int, logger *slog.Logger, op string, p string, fn func(ctx context.Context) error) error {
	if retries < 0 {
		retries = 0
	}
	attempt := 0
	b := retry.WithMaxRetries(uint64(retries), retry.NewExponential(retryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil || !isTransient(err) {
			return err
		}
		logger.Warn("object store operation failed, retrying", "op", op, "path", p, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func notExist(p string, err error) error {
	return fmt.Errorf("%s: %w: %v", p, fs.ErrNotExist, err)
}

func permission(p string, err error) error {
	return fmt.Errorf("%s: %w: %v", p, fs.ErrPermission, err)
}
