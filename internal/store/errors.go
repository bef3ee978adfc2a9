package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get for keys that are not stored.
var ErrNotFound = errors.New("composition not found")

// ErrInvalidLimit is returned by paged reads given a non-positive limit.
// Unbounded fetches are never allowed.
var ErrInvalidLimit = errors.New("limit must be positive")

// CheckLimit validates a page size for FetchPending, FetchUnscored and TopScored.
func CheckLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidLimit, limit)
	}
	return nil
}

// TransientError wraps a store failure that is expected to succeed on retry:
// lost connections, timeouts, lock contention and serialization conflicts.
// Backends classify their driver errors into this type.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for op. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying unchanged.
// A per-call deadline expiring counts as transient; the caller's own
// context being cancelled does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// CatalogMismatchError is returned by BindCatalog when the store was built
// from a different catalog.
type CatalogMismatchError struct {
	Stored string
	Given  string
}

func (e *CatalogMismatchError) Error() string {
	return fmt.Sprintf("store was built from catalog %s, refusing to continue with catalog %s",
		short(e.Stored), short(e.Given))
}

// ConfigurationError marks the mismatch as fatal before any processing.
func (e *CatalogMismatchError) ConfigurationError() bool { return true }

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
