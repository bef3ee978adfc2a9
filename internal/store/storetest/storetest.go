// Package storetest is the conformance suite every store.Store backend runs.
//
// A backend test calls Run with a factory returning a fresh, empty store:
//
//	func TestConformance(t *testing.T) {
//		storetest.Run(t, func(t *testing.T) store.Store { return openTestStore(t) })
//	}
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/config"
	"github.com/roach88/compsearch/internal/store"
)

// Factory returns a new empty store. The factory registers its own cleanup.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores produced by open.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"SeedEmptyStore", testSeedEmptyStore},
		{"SeedIsNoopWhenNonEmpty", testSeedNoop},
		{"FetchPendingOrderAndBound", testFetchPendingOrder},
		{"FetchPendingRejectsNonPositiveLimit", testFetchPendingLimit},
		{"ExistsAndGet", testExistsAndGet},
		{"InsertNewIsIdempotent", testInsertNewIdempotent},
		{"MarkExpandedIsMonotonic", testMarkExpanded},
		{"ApplyInsertsAndMarks", testApply},
		{"ApplyTwiceIsNoop", testApplyTwice},
		{"DedupAcrossParents", testDedupAcrossParents},
		{"MembershipMaterialized", testMembership},
		{"ScoresLifecycle", testScores},
		{"TopScoredAndHistogram", testTopScored},
		{"Stats", testStats},
		{"BindCatalog", testBindCatalog},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func c(ids ...catalog.EntityID) comp.Composition { return comp.MustNew(ids...) }

func keysOf(cs []comp.Composition) []comp.Key {
	out := make([]comp.Key, len(cs))
	for i, x := range cs {
		out[i] = x.Key()
	}
	return out
}

func countAll(t *testing.T, s store.Store) int64 {
	t.Helper()
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	return st.Total
}

func testSeedEmptyStore(t *testing.T, s store.Store) {
	ctx := context.Background()

	seeded, err := s.Seed(ctx, []comp.Composition{c(0), c(1), c(2)})
	require.NoError(t, err)
	assert.True(t, seeded)

	pending, err := s.FetchPending(ctx, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, []comp.Key{"0", "1", "2"}, keysOf(pending))
}

func testSeedNoop(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.InsertNew(ctx, []comp.Composition{c(4, 5)})
	require.NoError(t, err)

	seeded, err := s.Seed(ctx, []comp.Composition{c(0), c(1)})
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.Equal(t, int64(1), countAll(t, s))

	ok, err := s.Exists(ctx, "0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testFetchPendingOrder(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.InsertNew(ctx, []comp.Composition{
		c(0, 2), c(0, 10), c(0, 1), c(5), c(1, 2, 3), c(3),
	})
	require.NoError(t, err)

	pending, err := s.FetchPending(ctx, 3, 100)
	require.NoError(t, err)
	assert.Equal(t, []comp.Key{"3", "5", "0,1", "0,10", "0,2"}, keysOf(pending),
		"ordered by size then bytewise key, size 3 excluded")

	page, err := s.FetchPending(ctx, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []comp.Key{"3", "5"}, keysOf(page))

	none, err := s.FetchPending(ctx, 1, 100)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)

	full, err := s.FetchPending(ctx, 4, 100)
	require.NoError(t, err)
	assert.Len(t, full, 6)
	assert.Equal(t, 3, full[5].Size())
	assert.Equal(t, []catalog.EntityID{1, 2, 3}, full[5].Members())
}

func testFetchPendingLimit(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, limit := range []int{0, -1} {
		_, err := s.FetchPending(ctx, 5, limit)
		require.Error(t, err)
		assert.True(t, errors.Is(err, store.ErrInvalidLimit))

		_, err = s.FetchUnscored(ctx, limit)
		assert.True(t, errors.Is(err, store.ErrInvalidLimit))

		_, err = s.TopScored(ctx, 1, limit)
		assert.True(t, errors.Is(err, store.ErrInvalidLimit))
	}
}

func testExistsAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.InsertNew(ctx, []comp.Composition{c(7, 3)})
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "3,7")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "7")
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := s.Get(ctx, "3,7")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Size)
	assert.False(t, rec.Expanded)
	assert.False(t, rec.Scored)

	_, err = s.Get(ctx, "1,2")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testInsertNewIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	set := []comp.Composition{c(1), c(1, 2), c(2, 3, 4)}

	n, err := s.InsertNew(ctx, set)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	before := countAll(t, s)

	n, err = s.InsertNew(ctx, set)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, before, countAll(t, s))

	n, err = s.InsertNew(ctx, []comp.Composition{c(1, 2), c(9)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.InsertNew(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testMarkExpanded(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.InsertNew(ctx, []comp.Composition{c(1), c(2)})
	require.NoError(t, err)

	require.NoError(t, s.MarkExpanded(ctx, []comp.Key{"1", "99"}))
	require.NoError(t, s.MarkExpanded(ctx, []comp.Key{"1"}))

	pending, err := s.FetchPending(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []comp.Key{"2"}, keysOf(pending))

	// Re-inserting an expanded key must not make it pending again.
	_, err = s.InsertNew(ctx, []comp.Composition{c(1)})
	require.NoError(t, err)
	rec, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, rec.Expanded)
}

func testApply(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Seed(ctx, []comp.Composition{c(0), c(1), c(2)})
	require.NoError(t, err)
	_, err = s.InsertNew(ctx, []comp.Composition{c(0, 2)})
	require.NoError(t, err)

	n, err := s.Apply(ctx, store.Batch{
		Sources:  []comp.Key{"0"},
		Children: []comp.Composition{c(0, 1), c(0, 2)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "existing child is filtered")

	rec, err := s.Get(ctx, "0")
	require.NoError(t, err)
	assert.True(t, rec.Expanded)

	pending, err := s.FetchPending(ctx, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []comp.Key{"1", "2", "0,1", "0,2"}, keysOf(pending))

	n, err = s.Apply(ctx, store.Batch{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testApplyTwice(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Seed(ctx, []comp.Composition{c(0), c(1)})
	require.NoError(t, err)
	b := store.Batch{Sources: []comp.Key{"0", "1"}, Children: []comp.Composition{c(0, 1)}}

	_, err = s.Apply(ctx, b)
	require.NoError(t, err)
	before, err := s.Stats(ctx)
	require.NoError(t, err)

	n, err := s.Apply(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, n)
	after, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// Two entities sharing one trait: both singletons expand to the same pair,
// which is stored exactly once and both sources end up expanded.
func testDedupAcrossParents(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Seed(ctx, []comp.Composition{c(0), c(1)})
	require.NoError(t, err)

	n1, err := s.Apply(ctx, store.Batch{Sources: []comp.Key{"0"}, Children: []comp.Composition{c(0, 1)}})
	require.NoError(t, err)
	n2, err := s.Apply(ctx, store.Batch{Sources: []comp.Key{"1"}, Children: []comp.Composition{c(1, 0)}})
	require.NoError(t, err)
	assert.Equal(t, 1, n1+n2)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, st.Sizes, 2)
	assert.Equal(t, store.SizeStats{Size: 1, Total: 2, Pending: 0}, st.Sizes[0])
	assert.Equal(t, store.SizeStats{Size: 2, Total: 1, Pending: 1}, st.Sizes[1])
}

func testMembership(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Seed(ctx, []comp.Composition{c(12)})
	require.NoError(t, err)
	_, err = s.Apply(ctx, store.Batch{
		Sources:  []comp.Key{"12"},
		Children: []comp.Composition{c(12, 3, 40)},
	})
	require.NoError(t, err)

	rec, err := s.Get(ctx, "3,12,40")
	require.NoError(t, err)
	assert.Equal(t, []catalog.EntityID{3, 12, 40}, rec.Members)

	rec, err = s.Get(ctx, "12")
	require.NoError(t, err)
	assert.Equal(t, []catalog.EntityID{12}, rec.Members)
}

func testScores(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.InsertNew(ctx, []comp.Composition{c(1), c(2), c(1, 2)})
	require.NoError(t, err)

	unscored, err := s.FetchUnscored(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []comp.Key{"1", "1,2"}, keysOf(unscored))

	require.NoError(t, s.WriteScores(ctx, []store.ScoreRecord{{Key: "1", Score: 0}, {Key: "1,2", Score: 3.5}}))

	unscored, err = s.FetchUnscored(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []comp.Key{"2"}, keysOf(unscored))

	// Upsert replaces.
	require.NoError(t, s.WriteScores(ctx, []store.ScoreRecord{{Key: "1,2", Score: 1.25}}))
	rec, err := s.Get(ctx, "1,2")
	require.NoError(t, err)
	assert.True(t, rec.Scored)
	assert.Equal(t, 1.25, rec.Score)

	require.NoError(t, s.WriteScores(ctx, nil))
}

func testTopScored(t *testing.T, s store.Store) {
	ctx := context.Background()

	pairs := []comp.Composition{c(1, 2), c(1, 3), c(2, 3), c(3, 4), c(1, 4)}
	_, err := s.InsertNew(ctx, append(pairs, c(1)))
	require.NoError(t, err)
	require.NoError(t, s.WriteScores(ctx, []store.ScoreRecord{
		{Key: "1,2", Score: 2},
		{Key: "1,3", Score: 5},
		{Key: "2,3", Score: 2},
		{Key: "3,4", Score: -1},
		{Key: "1", Score: 9},
	}))
	// Rescoring moves a composition in the ranking.
	require.NoError(t, s.WriteScores(ctx, []store.ScoreRecord{{Key: "1,4", Score: 0}, {Key: "1,3", Score: 1}}))

	top, err := s.TopScored(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, comp.Key("1,2"), top[0].Composition.Key())
	assert.Equal(t, 2.0, top[0].Score)
	assert.Equal(t, comp.Key("2,3"), top[1].Composition.Key())
	assert.Equal(t, comp.Key("1,3"), top[2].Composition.Key())
	assert.Equal(t, 1.0, top[2].Score)

	hist, err := s.ScoreHistogram(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []store.ScoreBucket{
		{Score: 2, Count: 2},
		{Score: 1, Count: 1},
		{Score: 0, Count: 1},
		{Score: -1, Count: 1},
	}, hist)

	empty, err := s.TopScored(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Total)
	assert.Empty(t, st.Sizes)

	_, err = s.Seed(ctx, []comp.Composition{c(0), c(1), c(2)})
	require.NoError(t, err)
	_, err = s.Apply(ctx, store.Batch{Sources: []comp.Key{"0"}, Children: []comp.Composition{c(0, 1), c(0, 2)}})
	require.NoError(t, err)
	require.NoError(t, s.WriteScores(ctx, []store.ScoreRecord{{Key: "0,1", Score: 1}}))
	require.NoError(t, s.BindCatalog(ctx, "fp-stats"))

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.SizeStats{
		{Size: 1, Total: 3, Pending: 2, Scored: 0},
		{Size: 2, Total: 2, Pending: 2, Scored: 1},
	}, st.Sizes)
	assert.Equal(t, int64(5), st.Total)
	assert.Equal(t, int64(4), st.Pending)
	assert.Equal(t, int64(1), st.Scored)
	assert.Equal(t, "fp-stats", st.Fingerprint)
}

func testBindCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.BindCatalog(ctx, "fp-a"))
	require.NoError(t, s.BindCatalog(ctx, "fp-a"))

	// Nothing built yet: rebinding is allowed.
	require.NoError(t, s.BindCatalog(ctx, "fp-b"))

	_, err := s.Seed(ctx, []comp.Composition{c(0)})
	require.NoError(t, err)
	require.NoError(t, s.BindCatalog(ctx, "fp-b"))

	err = s.BindCatalog(ctx, "fp-c")
	require.Error(t, err)
	var mismatch *store.CatalogMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "fp-b", mismatch.Stored)
	assert.Equal(t, "fp-c", mismatch.Given)
	assert.True(t, config.IsConfigurationError(err))
	assert.False(t, store.IsTransient(err))
}
