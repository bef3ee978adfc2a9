package comp

import (
	"github.com/roach88/compsearch/internal/catalog"
)

// Expand applies the one-step expansion rule to c.
//
// Every trait carried by a member contributes every entity carrying that
// trait; members themselves are excluded. The result has one child per
// remaining candidate, ordered by the added entity id, each exactly one
// member larger than c. A composition sharing no trait with any outsider
// yields nil.
//
// Expand never enforces a size bound. Callers are responsible for not
// expanding compositions that are already at the maximum size.
func Expand(c Composition, cat *catalog.Catalog) []Composition {
	candidates := make([]bool, cat.NumEntities())
	found := false
	for _, m := range c.members {
		e, ok := cat.Entity(m)
		if !ok {
			continue
		}
		for _, t := range e.Traits {
			for _, id := range cat.EntitiesWithTrait(t) {
				if !candidates[id] {
					candidates[id] = true
					found = true
				}
			}
		}
	}
	if !found {
		return nil
	}
	for _, m := range c.members {
		if int(m) < len(candidates) {
			candidates[m] = false
		}
	}

	var children []Composition
	for id, ok := range candidates {
		if ok {
			children = append(children, c.With(catalog.EntityID(id)))
		}
	}
	return children
}

// Expansion pairs a source composition with its children.
type Expansion struct {
	Source   Composition
	Children []Composition
}

// Keys returns {source} ∪ {children} as keys, source first.
func (x Expansion) Keys() []Key {
	keys := make([]Key, 0, len(x.Children)+1)
	keys = append(keys, x.Source.Key())
	for _, ch := range x.Children {
		keys = append(keys, ch.Key())
	}
	return keys
}
