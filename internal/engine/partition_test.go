package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/comp"
	"github.com/roach88/compsearch/internal/store"
)

func expansion(src comp.Composition, children ...comp.Composition) comp.Expansion {
	return comp.Expansion{Source: src, Children: children}
}

func TestPartitionSplitsSharedChild(t *testing.T) {
	// {0} and {1} both produce {0,1}: they cannot share a batch.
	xs := []comp.Expansion{
		expansion(comp.Singleton(0), comp.MustNew(0, 1)),
		expansion(comp.Singleton(1), comp.MustNew(0, 1)),
	}
	got := Partition(xs, 10)
	require.Len(t, got, 2)
	assert.Equal(t, []comp.Key{"0"}, got[0].Sources)
	assert.Equal(t, []comp.Key{"1"}, got[1].Sources)
}

func TestPartitionRespectsTarget(t *testing.T) {
	var xs []comp.Expansion
	for i := 0; i < 7; i++ {
		xs = append(xs, expansion(comp.Singleton(catalog.EntityID(i))))
	}
	got := Partition(xs, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []comp.Key{"0", "1", "2"}, got[0].Sources)
	assert.Equal(t, []comp.Key{"3", "4", "5"}, got[1].Sources)
	assert.Equal(t, []comp.Key{"6"}, got[2].Sources)
}

func TestPartitionDeferredKeepOrder(t *testing.T) {
	xs := []comp.Expansion{
		expansion(comp.Singleton(0), comp.MustNew(0, 1)),
		expansion(comp.Singleton(1), comp.MustNew(0, 1)), // deferred
		expansion(comp.Singleton(2), comp.MustNew(2, 3)),
		expansion(comp.Singleton(3), comp.MustNew(2, 3)), // deferred
		expansion(comp.Singleton(4)),
	}
	got := Partition(xs, 10)
	require.Len(t, got, 2)
	assert.Equal(t, []comp.Key{"0", "2", "4"}, got[0].Sources)
	assert.Equal(t, []comp.Key{"1", "3"}, got[1].Sources)
}

func TestPartitionSourceCollidesWithChild(t *testing.T) {
	// {0}'s child {0,1} is itself a source in the same page.
	xs := []comp.Expansion{
		expansion(comp.Singleton(0), comp.MustNew(0, 1)),
		expansion(comp.MustNew(0, 1), comp.MustNew(0, 1, 2)),
	}
	got := Partition(xs, 10)
	assert.Len(t, got, 2)
}

func TestPartitionZeroTarget(t *testing.T) {
	xs := []comp.Expansion{expansion(comp.Singleton(0)), expansion(comp.Singleton(1))}
	assert.Len(t, Partition(xs, 0), 2)
}

func TestPartitionEmpty(t *testing.T) {
	assert.Empty(t, Partition(nil, 5))
}

// Every expansion lands in exactly one batch, batches never hold a key
// twice and never exceed the target, on the expansions of a real catalog.
func TestPartitionInvariantsOnDefaultCatalog(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	var xs []comp.Expansion
	for _, s := range comp.Seeds(cat) {
		xs = append(xs, comp.Expansion{Source: s, Children: comp.Expand(s, cat)})
	}
	for _, target := range []int{1, 4, 16, 1000} {
		batches := Partition(xs, target)

		seen := make(map[comp.Key]int)
		for _, b := range batches {
			assert.LessOrEqual(t, len(b.Sources), target)
			assertNoDuplicateKeys(t, b)
			for _, k := range b.Sources {
				seen[k]++
			}
		}
		assert.Len(t, seen, len(xs), "target %d", target)
		for k, n := range seen {
			assert.Equal(t, 1, n, "source %s placed %d times", k, n)
		}
	}
}

func assertNoDuplicateKeys(t *testing.T, b store.Batch) {
	t.Helper()
	keys := make(map[comp.Key]struct{})
	for _, k := range b.Sources {
		_, dup := keys[k]
		assert.False(t, dup, "duplicate %s", k)
		keys[k] = struct{}{}
	}
	for _, c := range b.Children {
		_, dup := keys[c.Key()]
		assert.False(t, dup, "duplicate %s", c.Key())
		keys[c.Key()] = struct{}{}
	}
}
