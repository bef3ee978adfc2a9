package score

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/metrics"
	"github.com/roach88/compsearch/internal/progress"
	"github.com/roach88/compsearch/internal/retry"
	"github.com/roach88/compsearch/internal/store"
)

const (
	DefaultPageSize = 10000
	DefaultWorkers  = 4
)

// Runner scores every unscored composition in a store, one bounded page at
// a time. Interrupted runs resume where they stopped.
type Runner struct {
	store    store.Scores
	scorer   *Scorer
	pageSize int
	workers  int
	policy   retry.Policy
	runID    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	reporter progress.Reporter
	tracer   trace.Tracer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPageSize sets how many compositions are fetched per page.
func WithPageSize(n int) RunnerOption {
	return func(r *Runner) { r.pageSize = n }
}

// WithWorkers sets how many goroutines score a page.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) { r.workers = n }
}

// WithRetryPolicy sets the retry policy for store calls.
func WithRetryPolicy(p retry.Policy) RunnerOption {
	return func(r *Runner) { r.policy = p }
}

// WithRunID tags logs and progress events.
func WithRunID(id string) RunnerOption {
	return func(r *Runner) { r.runID = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithReporter sets where progress events go.
func WithReporter(rep progress.Reporter) RunnerOption {
	return func(r *Runner) { r.reporter = rep }
}

// NewRunner creates a scoring runner over st.
func NewRunner(st store.Scores, s *Scorer, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    st,
		scorer:   s,
		pageSize: DefaultPageSize,
		workers:  DefaultWorkers,
		policy:   retry.DefaultPolicy(),
		tracer:   otel.Tracer("compsearch/score"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.runID != "" {
		r.logger = r.logger.With("run", r.runID)
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}
	if r.reporter == nil {
		r.reporter = progress.Nop{}
	}
	r.pageSize = max(r.pageSize, 1)
	r.workers = max(r.workers, 1)
	return r
}

// Result summarises a scoring pass.
type Result struct {
	Pages   int
	Scored  int
	Elapsed time.Duration
}

// Run scores pages until the store reports nothing unscored.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "score.Runner.Run",
		trace.WithAttributes(
			attribute.Int("page_size", r.pageSize),
			attribute.Int("workers", r.workers),
		),
	)
	defer span.End()

	start := time.Now()
	var res Result
	for {
		n, err := r.page(ctx, res.Pages+1)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "scoring failed")
			res.Elapsed = time.Since(start)
			return res, err
		}
		if n == 0 {
			break
		}
		res.Pages++
		res.Scored += n
	}

	res.Elapsed = time.Since(start)
	span.SetAttributes(attribute.Int("scored", res.Scored))
	span.SetStatus(codes.Ok, "")
	r.report(ctx, progress.Event{
		Iteration: res.Pages,
		Inserted:  res.Scored,
		Elapsed:   res.Elapsed,
		Rate:      progress.Rate(res.Scored, res.Elapsed),
		Done:      true,
	})
	return res, nil
}

func (r *Runner) page(ctx context.Context, iteration int) (int, error) {
	start := time.Now()

	page, err := retry.Do(ctx, r.policy, "fetch unscored", r.logger, nil,
		func(ctx context.Context) ([]comp.Composition, error) {
			return r.store.FetchUnscored(ctx, r.pageSize)
		})
	if err != nil {
		return 0, fmt.Errorf("fetch unscored: %w", err)
	}
	if len(page) == 0 {
		return 0, nil
	}

	records, err := r.scorePage(ctx, page)
	if err != nil {
		return 0, err
	}

	_, err = retry.Do(ctx, r.policy, "write scores", r.logger, nil,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.store.WriteScores(ctx, records)
		})
	if err != nil {
		return 0, fmt.Errorf("write scores: %w", err)
	}
	r.metrics.Scored.Add(float64(len(records)))

	elapsed := time.Since(start)
	r.report(ctx, progress.Event{
		Iteration: iteration,
		Fetched:   len(page),
		Inserted:  len(records),
		Elapsed:   elapsed,
		Rate:      progress.Rate(len(records), elapsed),
	})
	return len(records), nil
}

// scorePage splits page into one contiguous chunk per worker.
func (r *Runner) scorePage(ctx context.Context, page []comp.Composition) ([]store.ScoreRecord, error) {
	records := make([]store.ScoreRecord, len(page))
	chunk := (len(page) + r.workers - 1) / r.workers

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(page); lo += chunk {
		hi := min(lo+chunk, len(page))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%1024 == 0 && gctx.Err() != nil {
					return gctx.Err()
				}
				records[i] = store.ScoreRecord{Key: page[i].Key(), Score: r.scorer.Score(page[i])}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("score page: %w", err)
	}
	return records, nil
}

func (r *Runner) report(ctx context.Context, ev progress.Event) {
	ev.Run = r.runID
	ev.Phase = progress.PhaseScore
	ev.State = "scoring"
	if ev.Done {
		ev.State = "done"
	}
	ev.At = time.Now()
	if err := r.reporter.Report(ctx, ev); err != nil {
		r.logger.Warn("progress report failed", "error", err)
	}
}
