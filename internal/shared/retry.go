package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryOnSQLiteConflict runs fn up to attempts times, backing off
// exponentially (base, 2*base, 4*base, ...) while it fails with a SQLite
// busy or locked error. Other errors are returned at once.
func RetryOnSQLiteConflict(ctx context.Context, op string, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !IsSQLiteConflictError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		delay := base * time.Duration(1<<i)
		slog.Debug("sqlite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
}
