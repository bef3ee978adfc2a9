package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/compsearch/internal/comp"
)

func TestReachableKeysPair(t *testing.T) {
	assert.Equal(t, []comp.Key{"0", "0,1", "1"}, ReachableKeys(PairCatalog(t), 2))
	assert.Equal(t, []comp.Key{"0", "1"}, ReachableKeys(PairCatalog(t), 1))
}

func TestReachableKeysChain(t *testing.T) {
	// e0-e1-e2 plus loner (id 3): contiguous runs only, never {e0,e2}.
	got := ReachableKeys(ChainCatalog(t, 3), 3)
	assert.Equal(t, []comp.Key{"0", "0,1", "0,1,2", "1", "1,2", "2", "3"}, got)
}

func TestFixedRunID(t *testing.T) {
	g := NewFixedRunID("")
	assert.Equal(t, "test-run", g.Generate())
	assert.Equal(t, "run-7", NewFixedRunID("run-7").Generate())
}

func TestMeshCatalogBuilds(t *testing.T) {
	cat := MeshCatalog(t)
	assert.Equal(t, 9, cat.NumEntities())
	assert.Len(t, cat.Traits(), 5)
}
