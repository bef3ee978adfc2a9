package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/compsearch/internal/retry"
	"github.com/roach88/compsearch/internal/store"
)

func TestRunErrorMessage(t *testing.T) {
	err := &RunError{Code: ErrCodeStore, Message: "apply batch failed", RunID: "r1", Err: errors.New("disk full")}
	assert.Equal(t, "STORE_FAILURE: apply batch failed (run=r1): disk full", err.Error())

	bare := &RunError{Code: ErrCodeInvalidOptions, Message: "bad"}
	assert.Equal(t, "INVALID_OPTIONS: bad", bare.Error())
}

func TestRunErrorHelpers(t *testing.T) {
	exhausted := fmt.Errorf("run: %w", &RunError{Code: ErrCodeRetriesExhausted})
	assert.True(t, IsRetriesExhausted(exhausted))
	assert.False(t, IsCatalogMismatch(exhausted))
	assert.False(t, IsRetriesExhausted(errors.New("plain")))

	mismatch := &RunError{Code: ErrCodeCatalogMismatch}
	assert.True(t, IsCatalogMismatch(mismatch))
	assert.True(t, mismatch.ConfigurationError())
	assert.False(t, (&RunError{Code: ErrCodeStore}).ConfigurationError())
}

func TestStoreErrorClassification(t *testing.T) {
	inner := store.Transient("apply", errors.New("locked"))
	err := storeError("apply batch", &retry.ExhaustedError{Op: "apply batch", Attempts: 3, Err: inner})
	assert.True(t, IsRetriesExhausted(err))
	assert.True(t, store.IsTransient(err))

	err = storeError("seed", errors.New("syntax error"))
	var re *RunError
	assert.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeStore, re.Code)
}
