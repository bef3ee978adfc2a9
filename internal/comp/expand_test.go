package comp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/catalog"
)

// chain: A-B share Red, B-C share Blue, D stands alone on Green.
func chainCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	b := catalog.NewBuilder()
	b.AddTrait("Red", 2)
	b.AddTrait("Blue", 2)
	b.AddTrait("Green", 1)
	b.AddEntity("A", 1, "Red")
	b.AddEntity("B", 1, "Red", "Blue")
	b.AddEntity("C", 1, "Blue")
	b.AddEntity("D", 1, "Green")
	cat, err := b.Build()
	require.NoError(t, err)
	return cat
}

func keys(cs []Composition) []Key {
	out := make([]Key, len(cs))
	for i, c := range cs {
		out[i] = c.Key()
	}
	return out
}

func TestSeeds(t *testing.T) {
	cat := chainCatalog(t)
	assert.Equal(t, []Key{"0", "1", "2", "3"}, keys(Seeds(cat)))
}

func TestExpandFollowsSharedTraits(t *testing.T) {
	cat := chainCatalog(t)

	assert.Equal(t, []Key{"0,1"}, keys(Expand(Singleton(0), cat)))
	assert.Equal(t, []Key{"0,1", "1,2"}, keys(Expand(Singleton(1), cat)))
	assert.Equal(t, []Key{"0,1,2"}, keys(Expand(MustNew(0, 1), cat)))
}

func TestExpandIsolatedEntityYieldsNothing(t *testing.T) {
	cat := chainCatalog(t)
	assert.Empty(t, Expand(Singleton(3), cat))
}

func TestExpandEntityWithoutTraits(t *testing.T) {
	b := catalog.NewBuilder()
	b.AddTrait("Red", 2)
	b.AddEntity("A", 1, "Red")
	b.AddEntity("B", 1, "Red")
	loner := b.AddEntity("Loner", 1)
	cat, err := b.Build()
	require.NoError(t, err)

	assert.Empty(t, Expand(Singleton(loner), cat))
	children := Expand(Singleton(0), cat)
	require.Len(t, children, 1)
	assert.Equal(t, Key("0,1"), children[0].Key())
}

func TestExpandSaturatedYieldsNothing(t *testing.T) {
	cat := chainCatalog(t)
	assert.Empty(t, Expand(MustNew(0, 1, 2), cat))
}

func TestExpansionKeys(t *testing.T) {
	cat := chainCatalog(t)
	src := Singleton(1)
	x := Expansion{Source: src, Children: Expand(src, cat)}
	assert.Equal(t, []Key{"1", "0,1", "1,2"}, x.Keys())
}

// Every child adds exactly one outsider that shares a trait with some member,
// and no eligible outsider is missed.
func TestExpandPropertiesOnDefaultCatalog(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	frontier := Seeds(cat)
	for depth := 0; depth < 2; depth++ {
		var next []Composition
		for i, parent := range frontier {
			if i%7 != 0 {
				continue // sample
			}
			children := Expand(parent, cat)
			assertValidExpansion(t, cat, parent, children)
			next = append(next, children...)
		}
		frontier = next
	}
}

func assertValidExpansion(t *testing.T, cat *catalog.Catalog, parent Composition, children []Composition) {
	t.Helper()

	parentTraits := cat.TraitCounts(parent.Members())
	var want []catalog.EntityID
	for _, e := range cat.Entities() {
		if parent.Contains(e.ID) {
			continue
		}
		for _, tr := range e.Traits {
			if parentTraits[tr] > 0 {
				want = append(want, e.ID)
				break
			}
		}
	}

	require.Len(t, children, len(want), "parent %s", parent)
	for i, child := range children {
		require.Equal(t, parent.Size()+1, child.Size())
		for _, m := range parent.Members() {
			require.True(t, child.Contains(m))
		}
		require.True(t, child.Contains(want[i]), "child %s should add %d", child, want[i])

		_, err := New(child.Members()...)
		require.NoError(t, err, "child %s has a duplicate entity", child)
	}
}
