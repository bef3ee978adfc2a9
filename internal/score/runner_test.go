package score

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/metrics"
	"github.com/roach88/compsearch/internal/retry"
	"github.com/roach88/compsearch/internal/store"
	"github.com/roach88/compsearch/internal/store/memory"
	fixtures "github.com/roach88/compsearch/internal/testutil"
)

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	_, err := st.InsertNew(ctx, []comp.Composition{
		comp.Singleton(0),
		comp.MustNew(0, 1),
		comp.MustNew(0, 1, 2),
		comp.MustNew(0, 1, 2, 3),
		comp.MustNew(2, 3),
	})
	require.NoError(t, err)
	return st
}

func TestRunnerScoresEverything(t *testing.T) {
	ctx := context.Background()
	cat := fixtures.TraitXCatalog(t)
	st := seededStore(t)
	s, err := NewScorer(cat, nil)
	require.NoError(t, err)

	m := metrics.New(nil)
	r := NewRunner(st, s, WithPageSize(2), WithWorkers(3), WithMetrics(m), WithRetryPolicy(fastRetry()))
	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Scored)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Scored))

	rec, err := st.Get(ctx, "0,1,2")
	require.NoError(t, err)
	assert.True(t, rec.Scored)
	assert.Equal(t, 2.0, rec.Score)

	left, err := st.FetchUnscored(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, left)

	// a second pass finds nothing
	res, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scored)
}

func TestRescoringReplacesScore(t *testing.T) {
	ctx := context.Background()
	cat := fixtures.TraitXCatalog(t)
	st := seededStore(t)
	x, _ := cat.TraitByName("X")

	plain, err := NewScorer(cat, nil)
	require.NoError(t, err)
	_, err = NewRunner(st, plain).Run(ctx)
	require.NoError(t, err)

	weighted, err := NewScorer(cat, Weights{x: {0, 5}})
	require.NoError(t, err)
	require.NoError(t, st.WriteScores(ctx, []store.ScoreRecord{{Key: "0,1,2", Score: weighted.Score(comp.MustNew(0, 1, 2))}}))

	rec, err := st.Get(ctx, "0,1,2")
	require.NoError(t, err)
	assert.Equal(t, 5.0, rec.Score, "rewriting a score replaces it")
}

// flakyScores fails the first WriteScores call transiently.
type flakyScores struct {
	store.Scores
	writes atomic.Int32
	err    error
}

func (f *flakyScores) WriteScores(ctx context.Context, recs []store.ScoreRecord) error {
	if f.writes.Add(1) == 1 {
		return f.err
	}
	return f.Scores.WriteScores(ctx, recs)
}

func TestRunnerRetriesTransientWrite(t *testing.T) {
	cat := fixtures.TraitXCatalog(t)
	st := &flakyScores{Scores: seededStore(t), err: store.Transient("write", errors.New("database is locked"))}
	s, err := NewScorer(cat, nil)
	require.NoError(t, err)

	res, err := NewRunner(st, s, WithRetryPolicy(fastRetry())).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Scored)
	assert.Equal(t, int32(2), st.writes.Load())
}

func TestRunnerStopsOnPermanentWrite(t *testing.T) {
	cat := fixtures.TraitXCatalog(t)
	boom := errors.New("disk full")
	st := &flakyScores{Scores: seededStore(t), err: boom}
	s, err := NewScorer(cat, nil)
	require.NoError(t, err)

	_, err = NewRunner(st, s, WithRetryPolicy(fastRetry())).Run(context.Background())
	assert.ErrorIs(t, err, boom)
}
