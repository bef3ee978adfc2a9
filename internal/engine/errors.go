package engine

import (
	"errors"
	"fmt"
)

// RunError reports why a run stopped before reaching Done.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run.
	RunID string

	// Err is the underlying cause.
	Err error
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeInvalidOptions indicates the engine was configured with unusable options.
	ErrCodeInvalidOptions RunErrorCode = "INVALID_OPTIONS"

	// ErrCodeCatalogMismatch indicates the store was built from another catalog.
	ErrCodeCatalogMismatch RunErrorCode = "CATALOG_MISMATCH"

	// ErrCodeRetriesExhausted indicates a store call kept failing transiently.
	ErrCodeRetriesExhausted RunErrorCode = "RETRIES_EXHAUSTED"

	// ErrCodeStore indicates a store call failed permanently.
	ErrCodeStore RunErrorCode = "STORE_FAILURE"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RunID != "" {
		msg += fmt.Sprintf(" (run=%s)", e.RunID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// ConfigurationError reports whether the run failed before doing any work
// because of how it was configured.
func (e *RunError) ConfigurationError() bool {
	return e.Code == ErrCodeInvalidOptions || e.Code == ErrCodeCatalogMismatch
}

// IsRetriesExhausted returns true if the error is a RunError for a store
// call that never stopped failing transiently.
// Uses errors.As to handle wrapped errors.
func IsRetriesExhausted(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeRetriesExhausted
	}
	return false
}

// IsCatalogMismatch returns true if the error is a catalog mismatch RunError.
func IsCatalogMismatch(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeCatalogMismatch
	}
	return false
}

func newOptionsError(msg string) *RunError {
	return &RunError{Code: ErrCodeInvalidOptions, Message: msg}
}
