// Package testutil holds fixtures shared by package tests: small catalogs,
// a brute-force reachability oracle and deterministic run ids.
package testutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/catalog"
)

// BuildCatalog runs build against a fresh builder and fails t if the
// result is invalid.
func BuildCatalog(t testing.TB, build func(b *catalog.Builder)) *catalog.Catalog {
	t.Helper()
	b := catalog.NewBuilder()
	build(b)
	cat, err := b.Build()
	require.NoError(t, err)
	return cat
}

// PairCatalog holds A and B sharing trait T (threshold 2).
// Seeding yields {A} and {B}; both expand to the single child {A,B}.
func PairCatalog(t testing.TB) *catalog.Catalog {
	return BuildCatalog(t, func(b *catalog.Builder) {
		b.AddTrait("T", 2)
		b.AddEntity("A", 1, "T")
		b.AddEntity("B", 1, "T")
	})
}

// TraitXCatalog holds four entities on trait X (thresholds 2, 3, 5).
// The first three also carry trait Y (threshold 4), which they never reach.
func TraitXCatalog(t testing.TB) *catalog.Catalog {
	return BuildCatalog(t, func(b *catalog.Builder) {
		b.AddTrait("X", 2, 3, 5)
		b.AddTrait("Y", 4)
		b.AddEntity("X1", 1, "X", "Y")
		b.AddEntity("X2", 1, "X", "Y")
		b.AddEntity("X3", 1, "X", "Y")
		b.AddEntity("X4", 1, "X")
	})
}

// ChainCatalog holds n entities where entity i shares a trait with entity
// i+1 only, plus one isolated entity at the end. Compositions are exactly
// the contiguous runs of the chain, and the isolated singleton.
func ChainCatalog(t testing.TB, n int) *catalog.Catalog {
	return BuildCatalog(t, func(b *catalog.Builder) {
		for i := 0; i < n-1; i++ {
			b.AddTrait(fmt.Sprintf("link%d", i), 2)
		}
		b.AddTrait("alone", 1)
		for i := 0; i < n; i++ {
			var traits []string
			if i > 0 {
				traits = append(traits, fmt.Sprintf("link%d", i-1))
			}
			if i < n-1 {
				traits = append(traits, fmt.Sprintf("link%d", i))
			}
			b.AddEntity(fmt.Sprintf("e%d", i), 1, traits...)
		}
		b.AddEntity("loner", 1, "alone")
	})
}

// MeshCatalog holds a denser catalog: nine entities over five overlapping
// traits, with one entity carrying two traits nobody else has.
func MeshCatalog(t testing.TB) *catalog.Catalog {
	return BuildCatalog(t, func(b *catalog.Builder) {
		b.AddTrait("Arcane", 2, 4)
		b.AddTrait("Brawler", 2, 4, 6)
		b.AddTrait("Guard", 2)
		b.AddTrait("Scout", 1, 3)
		b.AddTrait("Solo", 1)
		b.AddEntity("Ash", 1, "Arcane", "Brawler")
		b.AddEntity("Birch", 2, "Arcane")
		b.AddEntity("Cedar", 3, "Brawler", "Guard")
		b.AddEntity("Dune", 1, "Guard")
		b.AddEntity("Elm", 2, "Scout")
		b.AddEntity("Fir", 4, "Scout", "Arcane")
		b.AddEntity("Gale", 5, "Brawler")
		b.AddEntity("Hale", 3, "Guard", "Scout")
		b.AddEntity("Ivy", 1, "Solo")
	})
}
