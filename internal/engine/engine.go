package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/metrics"
	"github.com/roach88/compsearch/internal/progress"
	"github.com/roach88/compsearch/internal/retry"
	"github.com/roach88/compsearch/internal/store"
)

// Store is the storage surface the engine drives.
type Store interface {
	store.Frontier
	BindCatalog(ctx context.Context, fingerprint string) error
}

// State is the engine's position in a run.
type State int32

const (
	StateIdle State = iota
	StateSeeding
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeeding:
		return "seeding"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Defaults for Options.
const (
	DefaultPageSize  = 10000
	DefaultBatchSize = 1000
	DefaultWorkers   = 4
	DefaultWriters   = 1
)

// Options sizes a run.
type Options struct {
	// MaxSize is the largest composition stored. Compositions of this size
	// are never expanded.
	MaxSize int
	// PageSize bounds each pending fetch.
	PageSize int
	// BatchSize is the number of expansions per atomic batch.
	BatchSize int
	// Workers expand a page concurrently.
	Workers int
	// Writers apply batches concurrently. 1 means a single writer.
	Writers int
	// Retry governs every store call.
	Retry retry.Policy
}

// DefaultOptions returns Options for maxSize with default sizing.
func DefaultOptions(maxSize int) Options {
	return Options{
		MaxSize:   maxSize,
		PageSize:  DefaultPageSize,
		BatchSize: DefaultBatchSize,
		Workers:   DefaultWorkers,
		Writers:   DefaultWriters,
		Retry:     retry.DefaultPolicy(),
	}
}

func (o Options) validate() error {
	switch {
	case o.MaxSize < 1:
		return newOptionsError(fmt.Sprintf("max size must be at least 1 (got %d)", o.MaxSize))
	case o.PageSize < 1:
		return newOptionsError(fmt.Sprintf("page size must be at least 1 (got %d)", o.PageSize))
	case o.BatchSize < 1:
		return newOptionsError(fmt.Sprintf("batch size must be at least 1 (got %d)", o.BatchSize))
	case o.Workers < 1:
		return newOptionsError(fmt.Sprintf("workers must be at least 1 (got %d)", o.Workers))
	case o.Writers < 1:
		return newOptionsError(fmt.Sprintf("writers must be at least 1 (got %d)", o.Writers))
	}
	return nil
}

// Engine runs the seed-then-drain search over one store and catalog.
type Engine struct {
	store    Store
	cat      *catalog.Catalog
	opts     Options
	runIDs   RunIDGenerator
	logger   *slog.Logger
	metrics  *metrics.Metrics
	reporter progress.Reporter
	tracer   trace.Tracer

	state  atomic.Int32
	totals counters
}

// EngineOption allows configuration of optional collaborators.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink. Default: unregistered collectors.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithReporter sets where per-iteration progress goes. Default: discarded.
func WithReporter(r progress.Reporter) EngineOption {
	return func(e *Engine) { e.reporter = r }
}

// WithRunIDGenerator sets how run ids are made. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) EngineOption {
	return func(e *Engine) { e.runIDs = g }
}

// WithTracerProvider sets the OpenTelemetry provider. Default: the global one.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) { e.tracer = tp.Tracer("compsearch/engine") }
}

// New creates an Engine. Invalid options are reported as a RunError with
// ErrCodeInvalidOptions, which is a configuration error.
func New(s Store, cat *catalog.Catalog, opts Options, o ...EngineOption) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, newOptionsError("catalog is required")
	}

	e := &Engine{
		store:  s,
		cat:    cat,
		opts:   opts,
		runIDs: UUIDv7Generator{},
		tracer: otel.Tracer("compsearch/engine"),
	}
	for _, opt := range o {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}
	if e.reporter == nil {
		e.reporter = progress.Nop{}
	}
	return e, nil
}

// State returns the current state. Safe from any goroutine.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Totals returns the totals accumulated by this engine so far.
// Safe from any goroutine.
func (e *Engine) Totals() Snapshot {
	return e.totals.snapshot()
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.metrics.State.Set(float64(s))
}

// Result summarises a finished run.
type Result struct {
	RunID   string
	Seeded  bool
	Totals  Snapshot
	Elapsed time.Duration
}

// Run seeds the store if it is empty and expands pending compositions until
// none remain below the size limit.
//
// Returning nil means the state is StateDone. On error every batch already
// applied stays durable and a later Run continues from there.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	runID := e.runIDs.Generate()
	logger := e.logger.With("run", runID)
	start := time.Now()
	before := e.totals.snapshot()

	ctx, span := e.tracer.Start(ctx, "engine.Run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.Int("max_size", e.opts.MaxSize),
			attribute.Int("page_size", e.opts.PageSize),
			attribute.Int("batch_size", e.opts.BatchSize),
		),
	)
	defer span.End()

	fail := func(err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		var re *RunError
		if errors.As(err, &re) && re.RunID == "" {
			re.RunID = runID
		}
		return Result{RunID: runID, Totals: diff(e.totals.snapshot(), before), Elapsed: time.Since(start)}, err
	}

	e.setState(StateSeeding)
	logger.Info("run starting",
		"max_size", e.opts.MaxSize,
		"entities", e.cat.NumEntities(),
		"page_size", e.opts.PageSize,
		"batch_size", e.opts.BatchSize,
		"workers", e.opts.Workers,
		"writers", e.opts.Writers,
	)

	seeded, err := e.seed(ctx, logger)
	if err != nil {
		return fail(err)
	}

	e.setState(StateDraining)
	for {
		n, err := e.iterate(ctx, runID, logger)
		if err != nil {
			return fail(err)
		}
		if n == 0 {
			break
		}
	}

	e.setState(StateDone)
	res := Result{
		RunID:   runID,
		Seeded:  seeded,
		Totals:  diff(e.totals.snapshot(), before),
		Elapsed: time.Since(start),
	}
	span.SetAttributes(
		attribute.Int64("expanded", res.Totals.Expanded),
		attribute.Int64("inserted", res.Totals.Inserted),
	)
	span.SetStatus(codes.Ok, "")
	logger.Info("run complete",
		"iterations", res.Totals.Iterations,
		"expanded", res.Totals.Expanded,
		"inserted", res.Totals.Inserted,
		"retries", res.Totals.Retries,
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	e.report(ctx, progress.Event{
		Run:       runID,
		State:     StateDone.String(),
		Iteration: int(res.Totals.Iterations),
		Inserted:  int(res.Totals.Inserted),
		Elapsed:   res.Elapsed,
		Rate:      progress.Rate(int(res.Totals.Expanded), res.Elapsed),
		Done:      true,
	}, logger)
	return res, nil
}

func (e *Engine) seed(ctx context.Context, logger *slog.Logger) (bool, error) {
	_, err := retry.Do(ctx, e.opts.Retry, "bind catalog", logger, e.onRetry,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.store.BindCatalog(ctx, e.cat.Fingerprint())
		})
	if err != nil {
		var mismatch *store.CatalogMismatchError
		if errors.As(err, &mismatch) {
			return false, &RunError{Code: ErrCodeCatalogMismatch, Message: "catalog does not match store", Err: err}
		}
		return false, storeError("bind catalog", err)
	}

	seeds := comp.Seeds(e.cat)
	seeded, err := retry.Do(ctx, e.opts.Retry, "seed", logger, e.onRetry,
		func(ctx context.Context) (bool, error) {
			return e.store.Seed(ctx, seeds)
		})
	if err != nil {
		return false, storeError("seed", err)
	}
	if seeded {
		logger.Info("seeded empty store", "compositions", len(seeds))
	} else {
		logger.Info("store already populated, resuming")
	}
	return seeded, nil
}

// iterate runs one fetch-expand-partition-apply cycle and returns the
// number of compositions fetched.
func (e *Engine) iterate(ctx context.Context, runID string, logger *slog.Logger) (int, error) {
	start := time.Now()

	page, err := retry.Do(ctx, e.opts.Retry, "fetch pending", logger, e.onRetry,
		func(ctx context.Context) ([]comp.Composition, error) {
			return e.store.FetchPending(ctx, e.opts.MaxSize, e.opts.PageSize)
		})
	if err != nil {
		return 0, storeError("fetch pending", err)
	}
	e.metrics.PageSize.Observe(float64(len(page)))
	if len(page) == 0 {
		return 0, nil
	}

	iteration := e.totals.iterations.Add(1)
	ctx, span := e.tracer.Start(ctx, "engine.iteration",
		trace.WithAttributes(
			attribute.Int64("iteration", iteration),
			attribute.Int("fetched", len(page)),
		),
	)
	defer span.End()

	expansions, children, err := e.expand(ctx, page)
	if err != nil {
		return 0, err
	}
	e.totals.children.Add(int64(children))
	e.metrics.Children.Add(float64(children))

	batches := Partition(expansions, e.opts.BatchSize)
	span.AddEvent("partitioned", trace.WithAttributes(
		attribute.Int("children", children),
		attribute.Int("batches", len(batches)),
	))

	inserted, err := e.applyAll(ctx, batches, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		return 0, err
	}

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("inserted", inserted))
	logger.Debug("iteration complete",
		"iteration", iteration,
		"fetched", len(page),
		"smallest", page[0].Size(),
		"largest", page[len(page)-1].Size(),
		"children", children,
		"inserted", inserted,
		"batches", len(batches),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	e.report(ctx, progress.Event{
		Run:       runID,
		State:     StateDraining.String(),
		Iteration: int(iteration),
		Fetched:   len(page),
		Children:  children,
		Inserted:  inserted,
		Batches:   len(batches),
		Elapsed:   elapsed,
		Rate:      progress.Rate(len(page), elapsed),
	}, logger)
	return len(page), nil
}

// expand applies the expansion rule to every composition of page on the
// worker pool. The result keeps page order.
func (e *Engine) expand(ctx context.Context, page []comp.Composition) ([]comp.Expansion, int, error) {
	out := make([]comp.Expansion, len(page))
	workers := min(e.opts.Workers, len(page))
	chunk := (len(page) + workers - 1) / workers

	var children atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(page); lo += chunk {
		hi := min(lo+chunk, len(page))
		g.Go(func() error {
			var n int
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				kids := comp.Expand(page[i], e.cat)
				out[i] = comp.Expansion{Source: page[i], Children: kids}
				n += len(kids)
			}
			children.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("expand page: %w", err)
	}
	return out, int(children.Load()), nil
}

// applyAll applies batches on at most Writers goroutines and returns the
// number of children inserted. The first failure cancels the remaining
// batches; batches already applied stay applied.
func (e *Engine) applyAll(ctx context.Context, batches []store.Batch, logger *slog.Logger) (int, error) {
	var inserted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Writers)
	for i, b := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := e.apply(gctx, i, b, logger)
			if err != nil {
				return err
			}
			inserted.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(inserted.Load()), err
	}
	return int(inserted.Load()), nil
}

func (e *Engine) apply(ctx context.Context, idx int, b store.Batch, logger *slog.Logger) (int, error) {
	start := time.Now()
	n, err := retry.Do(ctx, e.opts.Retry, "apply batch", logger.With("batch", idx),
		func(error) {
			e.onRetry(nil)
			e.metrics.Batches.WithLabelValues(metrics.ResultRetried).Inc()
		},
		func(ctx context.Context) (int, error) {
			return e.store.Apply(ctx, b)
		})
	e.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.Batches.WithLabelValues(metrics.ResultFailed).Inc()
		return 0, storeError("apply batch", err)
	}

	e.metrics.Batches.WithLabelValues(metrics.ResultApplied).Inc()
	e.metrics.Expanded.Add(float64(len(b.Sources)))
	e.metrics.Inserted.Add(float64(n))
	e.totals.batches.Add(1)
	e.totals.expanded.Add(int64(len(b.Sources)))
	e.totals.inserted.Add(int64(n))
	return n, nil
}

func (e *Engine) onRetry(error) {
	e.totals.retries.Add(1)
}

func (e *Engine) report(ctx context.Context, ev progress.Event, logger *slog.Logger) {
	ev.Phase = progress.PhaseExpand
	ev.At = time.Now()
	if err := e.reporter.Report(ctx, ev); err != nil {
		logger.Warn("progress report failed", "error", err)
	}
}

// storeError classifies a failed store call. Cancellation of the caller's
// context is passed through unchanged.
func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if retry.IsExhausted(err) {
		return &RunError{Code: ErrCodeRetriesExhausted, Message: op + " kept failing", Err: err}
	}
	return &RunError{Code: ErrCodeStore, Message: op + " failed", Err: err}
}

func diff(after, before Snapshot) Snapshot {
	return Snapshot{
		Iterations: after.Iterations - before.Iterations,
		Expanded:   after.Expanded - before.Expanded,
		Children:   after.Children - before.Children,
		Inserted:   after.Inserted - before.Inserted,
		Batches:    after.Batches - before.Batches,
		Retries:    after.Retries - before.Retries,
	}
}
