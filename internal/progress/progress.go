// Package progress publishes run progress events to logs and, optionally,
// Redis pub/sub so that other processes can follow a long run.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Phases.
const (
	PhaseExpand = "expand"
	PhaseScore  = "score"
)

// Event is one progress update.
type Event struct {
	Run       string        `json:"run"`
	Phase     string        `json:"phase"`
	State     string        `json:"state"`
	Iteration int           `json:"iteration"`
	Fetched   int           `json:"fetched"`
	Children  int           `json:"children"`
	Inserted  int           `json:"inserted"`
	Batches   int           `json:"batches"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	// Rate is items processed per second during this iteration.
	Rate float64   `json:"rate"`
	Done bool      `json:"done"`
	At   time.Time `json:"at"`
}

// Reporter receives progress events. Report must not block for long;
// a failing reporter never fails the run.
type Reporter interface {
	Report(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Report(context.Context, Event) error { return nil }

// LogReporter writes events through slog.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter returns a reporter that logs at info level.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, ev Event) error {
	msg := "iteration complete"
	if ev.Done {
		msg = ev.Phase + " finished"
	}
	r.logger.InfoContext(ctx, msg,
		"phase", ev.Phase,
		"state", ev.State,
		"iteration", ev.Iteration,
		"fetched", ev.Fetched,
		"children", ev.Children,
		"inserted", ev.Inserted,
		"batches", ev.Batches,
		"elapsed", ev.Elapsed.Round(time.Millisecond),
		"rate", ev.Rate,
	)
	return nil
}

// Multi fans an event out to several reporters and joins their errors.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rate returns n per second over d, or 0 for a zero duration.
func Rate(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
