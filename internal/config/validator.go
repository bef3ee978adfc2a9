package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendMemory   = "memory"
)

// ValidBackends returns the list of valid store backends.
func ValidBackends() []string {
	return []string{BackendSQLite, BackendPostgres, BackendBadger, BackendMemory}
}

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats.
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "expand.max_size")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ConfigurationError marks validation failures as fatal startup errors.
func (e ValidationErrors) ConfigurationError() bool { return true }

// ConfigurationError is implemented by errors that must abort a run before
// any processing starts: invalid settings, invalid catalogs, invalid weight
// tables and a store built from a different catalog.
type ConfigurationError interface {
	error
	ConfigurationError() bool
}

// IsConfigurationError reports whether err, or any error it wraps, is a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce ConfigurationError
	return errors.As(err, &ce) && ce.ConfigurationError()
}

// Validate checks the Config for invalid values and returns all validation errors found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateExpand()...)
	errs = append(errs, c.validateRetry()...)
	errs = append(errs, c.validateScoring()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateProgress()...)

	return errs
}

func (c *Config) validateStore() []ValidationError {
	var errs []ValidationError
	s := c.Store

	if !slices.Contains(ValidBackends(), s.Backend) {
		errs = append(errs, ValidationError{
			Field:   "store.backend",
			Value:   s.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	switch s.Backend {
	case BackendSQLite, BackendBadger:
		if s.Path == "" && !s.InMemory {
			errs = append(errs, ValidationError{
				Field:   "store.path",
				Value:   s.Path,
				Message: fmt.Sprintf("is required for the %s backend unless store.in_memory is set", s.Backend),
			})
		}
	case BackendPostgres:
		if s.DSN == "" {
			errs = append(errs, ValidationError{
				Field:   "store.dsn",
				Value:   s.DSN,
				Message: "is required for the postgres backend",
			})
		}
		if s.MaxConns < 1 {
			errs = append(errs, ValidationError{
				Field:   "store.max_conns",
				Value:   s.MaxConns,
				Message: "must be at least 1",
			})
		}
	}

	if s.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "store.timeout",
			Value:   s.Timeout,
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateExpand() []ValidationError {
	var errs []ValidationError
	e := c.Expand

	if e.MaxSize < 1 {
		errs = append(errs, ValidationError{Field: "expand.max_size", Value: e.MaxSize, Message: "must be at least 1"})
	}
	if e.PageSize < 1 {
		errs = append(errs, ValidationError{Field: "expand.page_size", Value: e.PageSize, Message: "must be at least 1"})
	}
	if e.BatchSize < 1 {
		errs = append(errs, ValidationError{Field: "expand.batch_size", Value: e.BatchSize, Message: "must be at least 1"})
	}
	if e.Workers < 1 {
		errs = append(errs, ValidationError{Field: "expand.workers", Value: e.Workers, Message: "must be at least 1"})
	}
	if e.Writers < 1 {
		errs = append(errs, ValidationError{Field: "expand.writers", Value: e.Writers, Message: "must be at least 1"})
	}

	return errs
}

func (c *Config) validateRetry() []ValidationError {
	var errs []ValidationError
	r := c.Retry

	if r.MaxAttempts < 1 {
		errs = append(errs, ValidationError{Field: "retry.max_attempts", Value: r.MaxAttempts, Message: "must be at least 1"})
	}
	if r.InitialInterval <= 0 {
		errs = append(errs, ValidationError{Field: "retry.initial_interval", Value: r.InitialInterval, Message: "must be positive"})
	}
	if r.MaxInterval < r.InitialInterval {
		errs = append(errs, ValidationError{
			Field:   "retry.max_interval",
			Value:   r.MaxInterval,
			Message: fmt.Sprintf("must not be less than retry.initial_interval (%s)", r.InitialInterval),
		})
	}

	return errs
}

func (c *Config) validateScoring() []ValidationError {
	var errs []ValidationError
	s := c.Scoring

	if s.PageSize < 1 {
		errs = append(errs, ValidationError{Field: "scoring.page_size", Value: s.PageSize, Message: "must be at least 1"})
	}
	if s.Workers < 1 {
		errs = append(errs, ValidationError{Field: "scoring.workers", Value: s.Workers, Message: "must be at least 1"})
	}

	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}

	return errs
}

func (c *Config) validateProgress() []ValidationError {
	var errs []ValidationError

	if c.Progress.RedisAddr != "" && c.Progress.Channel == "" {
		errs = append(errs, ValidationError{
			Field:   "progress.channel",
			Value:   c.Progress.Channel,
			Message: "is required when progress.redis_addr is set",
		})
	}

	return errs
}
