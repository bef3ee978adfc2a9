package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/config"
	"github.com/roach88/compsearch/internal/metrics"
	"github.com/roach88/compsearch/internal/progress"
	"github.com/roach88/compsearch/internal/retry"
	"github.com/roach88/compsearch/internal/store"
	"github.com/roach88/compsearch/internal/store/memory"
	"github.com/roach88/compsearch/internal/store/sqlite"
	"github.com/roach88/compsearch/internal/testutil"
)

func testOptions(maxSize int) Options {
	o := DefaultOptions(maxSize)
	o.Retry = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	return o
}

func newMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	t.Cleanup(func() { s.Close() })
	return s
}

func newEngine(t *testing.T, s Store, cat *catalog.Catalog, opts Options, o ...EngineOption) *Engine {
	t.Helper()
	o = append([]EngineOption{WithRunIDGenerator(testutil.NewFixedRunID(""))}, o...)
	e, err := New(s, cat, opts, o...)
	require.NoError(t, err)
	return e
}

// storedKeys lists every stored key through the unscored queue; the
// engine never writes scores.
func storedKeys(t *testing.T, s store.Scores) []comp.Key {
	t.Helper()
	cs, err := s.FetchUnscored(context.Background(), 1<<20)
	require.NoError(t, err)
	keys := make([]comp.Key, len(cs))
	for i, c := range cs {
		keys[i] = c.Key()
	}
	return keys
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	cat := testutil.PairCatalog(t)

	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"max size", func(o *Options) { o.MaxSize = 0 }},
		{"page size", func(o *Options) { o.PageSize = 0 }},
		{"batch size", func(o *Options) { o.BatchSize = -1 }},
		{"workers", func(o *Options) { o.Workers = 0 }},
		{"writers", func(o *Options) { o.Writers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(3)
			tt.modify(&opts)
			_, err := New(memory.New(), cat, opts)
			require.Error(t, err)
			assert.True(t, config.IsConfigurationError(err))
		})
	}

	_, err := New(memory.New(), nil, testOptions(3))
	assert.True(t, config.IsConfigurationError(err))
}

func TestRunPairConvergesOnOneChild(t *testing.T) {
	ctx := context.Background()
	cat := testutil.PairCatalog(t)
	s := newMemoryStore(t)
	e := newEngine(t, s, cat, testOptions(2))

	assert.Equal(t, StateIdle, e.State())
	res, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDone, e.State())
	assert.True(t, res.Seeded)
	assert.Equal(t, "test-run", res.RunID)

	assert.Equal(t, []comp.Key{"0", "0,1", "1"}, storedKeys(t, s))
	for _, k := range []comp.Key{"0", "1"} {
		rec, err := s.Get(ctx, k)
		require.NoError(t, err)
		assert.True(t, rec.Expanded, "%s expanded", k)
	}
	rec, err := s.Get(ctx, "0,1")
	require.NoError(t, err)
	assert.False(t, rec.Expanded, "compositions at the size limit are never expanded")
	assert.Equal(t, []catalog.EntityID{0, 1}, rec.Members)

	assert.Equal(t, int64(2), res.Totals.Expanded)
	assert.Equal(t, int64(2), res.Totals.Children)
	assert.Equal(t, int64(1), res.Totals.Inserted)
}

func TestRunMaxSizeOneOnlySeeds(t *testing.T) {
	cat := testutil.PairCatalog(t)
	s := newMemoryStore(t)
	res, err := newEngine(t, s, cat, testOptions(1)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []comp.Key{"0", "1"}, storedKeys(t, s))
	assert.Zero(t, res.Totals.Iterations)
}

func TestRunMatchesBruteForce(t *testing.T) {
	catalogs := map[string]*catalog.Catalog{
		"chain": testutil.ChainCatalog(t, 6),
		"mesh":  testutil.MeshCatalog(t),
		"x":     testutil.TraitXCatalog(t),
	}
	shapes := []struct {
		page, batch, workers, writers int
	}{
		{10000, 1000, 4, 1},
		{1, 1, 1, 1},
		{3, 2, 2, 3},
		{7, 5, 3, 2},
	}

	for name, cat := range catalogs {
		for maxSize := 1; maxSize <= 5; maxSize++ {
			want := testutil.ReachableKeys(cat, maxSize)
			for _, sh := range shapes {
				t.Run(fmt.Sprintf("%s/max%d/p%d-b%d-w%d-r%d", name, maxSize, sh.page, sh.batch, sh.workers, sh.writers), func(t *testing.T) {
					opts := testOptions(maxSize)
					opts.PageSize, opts.BatchSize, opts.Workers, opts.Writers = sh.page, sh.batch, sh.workers, sh.writers

					s := newMemoryStore(t)
					_, err := newEngine(t, s, cat, opts).Run(context.Background())
					require.NoError(t, err)
					assert.Equal(t, want, storedKeys(t, s))

					pending, err := s.FetchPending(context.Background(), maxSize, 1<<20)
					require.NoError(t, err)
					assert.Empty(t, pending)
				})
			}
		}
	}
}

func TestRunTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	cat := testutil.MeshCatalog(t)
	s := newMemoryStore(t)

	e := newEngine(t, s, cat, testOptions(4))
	first, err := e.Run(ctx)
	require.NoError(t, err)
	before := storedKeys(t, s)

	e2 := newEngine(t, s, cat, testOptions(4))
	second, err := e2.Run(ctx)
	require.NoError(t, err)
	assert.True(t, first.Seeded)
	assert.False(t, second.Seeded)
	assert.Zero(t, second.Totals.Inserted)
	assert.Zero(t, second.Totals.Iterations)
	assert.Equal(t, before, storedKeys(t, s))
}

func TestRunRaisingMaxSizeContinues(t *testing.T) {
	ctx := context.Background()
	cat := testutil.MeshCatalog(t)
	s := newMemoryStore(t)

	_, err := newEngine(t, s, cat, testOptions(2)).Run(ctx)
	require.NoError(t, err)
	_, err = newEngine(t, s, cat, testOptions(4)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.ReachableKeys(cat, 4), storedKeys(t, s))
}

// faultyStore wraps a Store and fails Apply calls chosen by fail.
type faultyStore struct {
	Store
	calls atomic.Int32
	fail  func(call int32) error
}

func (f *faultyStore) Apply(ctx context.Context, b store.Batch) (int, error) {
	if err := f.fail(f.calls.Add(1)); err != nil {
		return 0, err
	}
	return f.Store.Apply(ctx, b)
}

func TestRunRetriesTransientBatchFailures(t *testing.T) {
	cat := testutil.MeshCatalog(t)
	mem := newMemoryStore(t)
	fs := &faultyStore{Store: mem, fail: func(call int32) error {
		if call == 2 || call == 3 {
			return store.Transient("apply", errors.New("database is locked"))
		}
		return nil
	}}
	m := metrics.New(nil)

	opts := testOptions(4)
	opts.BatchSize = 2
	res, err := newEngine(t, fs, cat, opts, WithMetrics(m)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Totals.Retries)
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Batches.WithLabelValues(metrics.ResultRetried)))
	assert.Equal(t, testutil.ReachableKeys(cat, 4), storedKeys(t, mem))
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	cat := testutil.PairCatalog(t)
	fs := &faultyStore{Store: newMemoryStore(t), fail: func(int32) error {
		return store.Transient("apply", errors.New("connection refused"))
	}}
	e := newEngine(t, fs, cat, testOptions(2))

	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsRetriesExhausted(err))
	assert.False(t, config.IsConfigurationError(err))
	assert.Equal(t, int32(3), fs.calls.Load())
	assert.Equal(t, StateDraining, e.State())

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "test-run", re.RunID)
}

func TestRunResumesAfterPermanentFailure(t *testing.T) {
	ctx := context.Background()
	cat := testutil.MeshCatalog(t)
	mem := newMemoryStore(t)
	boom := errors.New("disk full")
	fs := &faultyStore{Store: mem, fail: func(call int32) error {
		if call == 4 {
			return boom
		}
		return nil
	}}

	opts := testOptions(4)
	opts.BatchSize = 2
	opts.PageSize = 5
	_, err := newEngine(t, fs, cat, opts).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeStore, re.Code)
	assert.Equal(t, int32(4), fs.calls.Load(), "permanent errors are not retried")

	partial := storedKeys(t, mem)
	assert.NotEmpty(t, partial)

	res, err := newEngine(t, mem, cat, opts).Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Seeded)
	assert.Equal(t, testutil.ReachableKeys(cat, 4), storedKeys(t, mem))
}

func TestRunRejectsOtherCatalog(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t)

	_, err := newEngine(t, s, testutil.PairCatalog(t), testOptions(2)).Run(ctx)
	require.NoError(t, err)

	_, err = newEngine(t, s, testutil.TraitXCatalog(t), testOptions(2)).Run(ctx)
	require.Error(t, err)
	assert.True(t, IsCatalogMismatch(err))
	assert.True(t, config.IsConfigurationError(err))
	assert.Equal(t, []comp.Key{"0", "0,1", "1"}, storedKeys(t, s), "nothing written")
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newEngine(t, newMemoryStore(t), testutil.MeshCatalog(t), testOptions(3))
	_, err := e.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, StateDone, e.State())
}

type recordingReporter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingReporter) Report(_ context.Context, ev progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func TestRunReportsProgress(t *testing.T) {
	cat := testutil.ChainCatalog(t, 4)
	rep := &recordingReporter{}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	opts := testOptions(3)
	opts.PageSize = 2
	res, err := newEngine(t, newMemoryStore(t), cat, opts, WithReporter(rep), WithLogger(logger)).Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, rep.events)
	last := rep.events[len(rep.events)-1]
	assert.True(t, last.Done)
	assert.Equal(t, "done", last.State)
	assert.Equal(t, progress.PhaseExpand, last.Phase)
	assert.Equal(t, int(res.Totals.Iterations), len(rep.events)-1)

	var inserted int
	for i, ev := range rep.events[:len(rep.events)-1] {
		assert.Equal(t, i+1, ev.Iteration)
		assert.Equal(t, "test-run", ev.Run)
		assert.LessOrEqual(t, ev.Fetched, 2)
		inserted += ev.Inserted
	}
	assert.Equal(t, int(res.Totals.Inserted), inserted)

	assert.Contains(t, logs.String(), "run=test-run")
	assert.Contains(t, logs.String(), "run complete")
}

func TestRunOnSQLite(t *testing.T) {
	cat := testutil.MeshCatalog(t)
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "compsearch.db"))
	require.NoError(t, err)
	defer s.Close()

	opts := testOptions(4)
	opts.PageSize = 6
	opts.BatchSize = 3
	opts.Writers = 2
	_, err = newEngine(t, s, cat, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testutil.ReachableKeys(cat, 4), storedKeys(t, s))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cat.Fingerprint(), st.Fingerprint)
	for _, sz := range st.Sizes {
		if sz.Size < 4 {
			assert.Zero(t, sz.Pending, "size %d", sz.Size)
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "seeding", StateSeeding.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestRunDefaultCatalogMatchesKnownCounts(t *testing.T) {
	if testing.Short() {
		t.Skip("expands the full default catalog")
	}
	cat, err := catalog.Default()
	require.NoError(t, err)

	s := newMemoryStore(t)
	res, err := newEngine(t, s, cat, testOptions(4), WithLogger(slog.New(slog.DiscardHandler))).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Seeded)
	assert.Equal(t, int64(317+2272+18275), res.Totals.Inserted)
	assert.Equal(t, int64(60+317+2272), res.Totals.Expanded)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []store.SizeStats{
		{Size: 1, Total: 60},
		{Size: 2, Total: 317},
		{Size: 3, Total: 2272},
		{Size: 4, Total: 18275, Pending: 18275},
	}, st.Sizes)
}
