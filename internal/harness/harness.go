package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/engine"
	"github.com/roach88/compsearch/internal/score"
	"github.com/roach88/compsearch/internal/store"
	"github.com/roach88/compsearch/internal/store/memory"
	"github.com/roach88/compsearch/internal/store/sqlite"
)

// DefaultRunID is used when a scenario does not set run_id.
const DefaultRunID = "scenario-run"

const defaultTop = 3

// Harness executes scenarios.
type Harness struct {
	logger *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger routes engine and scorer logs to l. By default they are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// New creates a Harness.
func New(opts ...Option) *Harness {
	h := &Harness{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with a default Harness.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	return New().Run(ctx, s)
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh store. An error means the scenario could
// not be executed at all; failed assertions are reported in the Result.
func (h *Harness) Run(ctx context.Context, s *Scenario) (*Result, error) {
	cat, err := loadCatalog(s)
	if err != nil {
		return nil, err
	}

	st, err := openStore(s.Backend)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	runID := s.RunID
	if runID == "" {
		runID = DefaultRunID
	}
	runs := max(s.Runs, 1)

	opts := engine.DefaultOptions(s.MaxSize)
	if s.PageSize > 0 {
		opts.PageSize = s.PageSize
	}
	if s.BatchSize > 0 {
		opts.BatchSize = s.BatchSize
	}
	// one worker keeps progress logs in a stable order
	opts.Workers = 1

	snap := Snapshot{
		Scenario:    s.Name,
		RunID:       runID,
		Fingerprint: cat.Fingerprint(),
		MaxSize:     s.MaxSize,
	}

	for i := 0; i < runs; i++ {
		eng, err := engine.New(st, cat, opts,
			engine.WithLogger(h.logger),
			engine.WithRunIDGenerator(engine.NewFixedGenerator(runID)),
		)
		if err != nil {
			return nil, err
		}
		res, err := eng.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		snap.Runs = append(snap.Runs, RunRow{
			Seeded:     res.Seeded,
			Iterations: res.Totals.Iterations,
			Expanded:   res.Totals.Expanded,
			Children:   res.Totals.Children,
			Inserted:   res.Totals.Inserted,
		})
	}

	if s.Score {
		if err := h.runScoring(ctx, s, cat, st, runID); err != nil {
			return nil, err
		}
	}

	if err := fillSnapshot(ctx, &snap, s, cat, st); err != nil {
		return nil, err
	}

	result := NewResult()
	result.Snapshot = snap
	for _, msg := range EvaluateAssertions(ctx, s.Assertions, &AssertionContext{Store: st, Catalog: cat}) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) runScoring(ctx context.Context, s *Scenario, cat *catalog.Catalog, st store.Store, runID string) error {
	w, err := score.ResolveWeights(cat, s.Weights)
	if err != nil {
		return err
	}
	scorer, err := score.NewScorer(cat, w)
	if err != nil {
		return err
	}
	_, err = score.NewRunner(st, scorer,
		score.WithLogger(h.logger),
		score.WithRunID(runID),
		score.WithWorkers(1),
	).Run(ctx)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	return nil
}

func fillSnapshot(ctx context.Context, snap *Snapshot, s *Scenario, cat *catalog.Catalog, st store.Store) error {
	stats, err := st.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	snap.Sizes = make([]SizeRow, len(stats.Sizes))
	for i, sz := range stats.Sizes {
		snap.Sizes[i] = SizeRow{Size: sz.Size, Total: sz.Total, Pending: sz.Pending, Scored: sz.Scored}
	}

	if !s.Score {
		return nil
	}
	top := s.Top
	if top <= 0 {
		top = defaultTop
	}
	for _, sz := range stats.Sizes {
		best, err := st.TopScored(ctx, sz.Size, top)
		if err != nil {
			return fmt.Errorf("top scored: %w", err)
		}
		for _, b := range best {
			snap.Top = append(snap.Top, TopRow{
				Size:    sz.Size,
				Members: cat.Names(b.Composition.Members()),
				Score:   b.Score,
			})
		}
	}
	return nil
}

func loadCatalog(s *Scenario) (*catalog.Catalog, error) {
	if s.CatalogFile != "" {
		return catalog.LoadFile(s.CatalogFile)
	}
	raw, err := yaml.Marshal(&s.Catalog)
	if err != nil {
		return nil, fmt.Errorf("encode inline catalog: %w", err)
	}
	return catalog.LoadYAML(bytes.NewReader(raw))
}

func openStore(backend string) (store.Store, error) {
	switch backend {
	case "", BackendMemory:
		return memory.New(), nil
	case BackendSQLite:
		s, err := sqlite.Open(sqlite.MemoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}
