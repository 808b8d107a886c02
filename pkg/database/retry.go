package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// MaxAttempts is the number of tries for a storage operation before
	// giving up.
	MaxAttempts = 3
	// BaseBackoff is the delay before the first retry; it doubles per
	// attempt.
	BaseBackoff = 100 * time.Millisecond
)

// WithRetry runs fn up to MaxAttempts times with exponential backoff between
// attempts, returning nil on the first success or the last error after
// exhaustion. Non-transient errors (no rows, constraint violations, bad SQL)
// surface immediately without retry; callers wrap the surfaced error as a
// storage failure where appropriate.
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := BaseBackoff
	var err error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}

// retryable reports whether err could succeed on a later attempt.
func retryable(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Integrity (23), data (22) and syntax/access (42) errors are
		// caller mistakes, not transient faults.
		for _, class := range []string{"23", "22", "42"} {
			if strings.HasPrefix(pgErr.Code, class) {
				return false
			}
		}
	}
	return true
}
