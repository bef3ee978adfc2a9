package testutil

import (
	"sort"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/comp"
)

// ReachableKeys enumerates every subset of cat's entities with 1..maxSize
// members whose share-a-trait graph is connected, by brute force over all
// subsets. A set is reachable from a singleton by single-entity steps
// exactly when that graph is connected, so this is an independent oracle
// for a full expansion run. Only usable for small catalogs.
func ReachableKeys(cat *catalog.Catalog, maxSize int) []comp.Key {
	n := cat.NumEntities()
	if n > 20 {
		panic("ReachableKeys: catalog too large for brute force")
	}

	var keys []comp.Key
	for mask := 1; mask < 1<<n; mask++ {
		var members []catalog.EntityID
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				members = append(members, catalog.EntityID(i))
			}
		}
		if len(members) > maxSize {
			continue
		}
		if connected(cat, members) {
			keys = append(keys, comp.KeyOf(members))
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func connected(cat *catalog.Catalog, members []catalog.EntityID) bool {
	seen := make([]bool, len(members))
	seen[0] = true
	stack := []int{0}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		a, _ := cat.Entity(members[cur])
		for j := range members {
			if seen[j] {
				continue
			}
			b, _ := cat.Entity(members[j])
			if shareTrait(a, b) {
				seen[j] = true
				stack = append(stack, j)
			}
		}
	}
	for _, s := range seen {
		if !s {
			return false
		}
	}
	return true
}

func shareTrait(a, b catalog.Entity) bool {
	for _, t := range a.Traits {
		if b.HasTrait(t) {
			return true
		}
	}
	return false
}
