package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/kozaktomas/face-matcher/internal/catalog"
	"github.com/lib/pq"
)

const (
	// DefaultTimeout bounds every attempt against the database.
	DefaultTimeout = 5 * time.Second

	// maxAttempts is the first try plus one retry.
	maxAttempts = 2
)

// isTransient reports whether err means the database could not be reached or
// did not answer in time, as opposed to rejecting the request.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"53", // insufficient resources
			"57": // operator intervention (shutdown, query canceled)
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// retrier runs a database operation with a per-attempt timeout and a single
// retry on transient failures.
type retrier struct {
	timeout time.Duration
	logger  *slog.Logger
}

// do runs fn until it succeeds, fails permanently, or runs out of attempts.
// Exhausted transient failures become catalog.ErrUnavailable. A done parent
// context is reported as-is.
func (r retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		if !isTransient(err) {
			return fmt.Errorf("%s: %w", op, err)
		}

		lastErr = err
		if attempt < maxAttempts {
			r.logger.Warn("transient catalog failure, retrying",
				"op", op, "attempt", attempt, "error", err)
		}
	}
	return catalog.Unavailable(op, lastErr)
}
