package badger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/store"
	"github.com/roach88/compsearch/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(InMemoryConfig())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestPersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.GCInterval = 0
	s, err := Open(cfg)
	require.NoError(t, err)
	_, err = s.Seed(ctx, []comp.Composition{comp.Singleton(3)})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	ok, err := s.Exists(ctx, "3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestGCRunnerStartsAndStops(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	s, err := Open(cfg)
	require.NoError(t, err)
	require.NotNil(t, s.gc)
	require.NoError(t, s.Close())
}

func TestRankOrdersBestFirst(t *testing.T) {
	scores := []float64{-3.5, 0, 2, 1.25, -0.5, 100, math.SmallestNonzeroFloat64}
	encoded := make([]string, len(scores))
	for i, sc := range scores {
		encoded[i] = string(rank(sc))
		assert.Equal(t, sc, unrank(rank(sc)), "round trip %v", sc)
	}
	sort.Strings(encoded)

	want := append([]float64(nil), scores...)
	sort.Sort(sort.Reverse(sort.Float64Slice(want)))
	for i, e := range encoded {
		assert.Equal(t, want[i], unrank([]byte(e)))
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(badger.ErrConflict))
	assert.True(t, isTransient(fmt.Errorf("commit: %w", badger.ErrConflict)))
	assert.False(t, isTransient(badger.ErrTxnTooBig))
}

func TestSizeOf(t *testing.T) {
	assert.Equal(t, 1, sizeOf("12"))
	assert.Equal(t, 3, sizeOf("1,2,30"))
}
