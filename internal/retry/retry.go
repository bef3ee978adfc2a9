// Package retry re-runs store operations that failed transiently, with
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/compsearch/internal/store"
)

// Policy bounds retries of one operation.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// CallTimeout bounds each attempt. Zero means no per-attempt deadline.
	CallTimeout time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		CallTimeout:     30 * time.Second,
	}
}

// ExhaustedError is returned when every attempt failed transiently.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err is an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// Do calls fn until it succeeds, fails with an error that is not
// store.IsTransient, the policy runs out of attempts, or ctx is done.
// onRetry, when non-nil, is called before each backoff wait.
func Do[T any](ctx context.Context, p Policy, op string, logger *slog.Logger, onRetry func(error), fn func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := max(p.MaxAttempts, 1)

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	tries := 0
	var lastErr error
	operation := func() (T, error) {
		tries++
		callCtx, cancel := callContext(ctx, p.CallTimeout)
		defer cancel()

		v, err := fn(callCtx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		// A cancelled caller is never retried, even when the error looks transient.
		if ctx.Err() != nil || !store.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying after transient failure",
			"op", op,
			"attempt", tries,
			"wait", wait,
			"error", err,
		)
		if onRetry != nil {
			onRetry(err)
		}
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return v, nil
	}
	if lastErr != nil && store.IsTransient(lastErr) && ctx.Err() == nil {
		return v, &ExhaustedError{Op: op, Attempts: tries, Err: lastErr}
	}
	return v, err
}

func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
