package catalog

import (
	"fmt"
	"sort"
)

// EntityID is the stable identity of an entity, assigned at catalog build time.
type EntityID int

// TraitID is the stable identity of a trait, assigned at catalog build time.
type TraitID int

// Trait is an attribute shared by entities.
// Thresholds are strictly ascending member counts; each one crossed is a tier.
type Trait struct {
	ID         TraitID
	Name       string
	Thresholds []int
}

// Entity is a catalog item carrying one or more traits.
type Entity struct {
	ID     EntityID
	Name   string
	Cost   int
	Traits []TraitID
}

// HasTrait reports whether the entity carries trait t.
func (e Entity) HasTrait(t TraitID) bool {
	for _, id := range e.Traits {
		if id == t {
			return true
		}
	}
	return false
}

// Catalog is the immutable entity/trait registry.
//
// Entities and traits are indexed by id (ids are dense, starting at 0).
// The trait → entities index is precomputed so the expansion rule never
// allocates per lookup.
type Catalog struct {
	entities []Entity
	traits   []Trait

	byTrait      [][]EntityID // indexed by TraitID, ascending ids
	entityByName map[string]EntityID
	traitByName  map[string]TraitID

	fingerprint string
}

// Entities returns all entities in id order.
// The returned slice must not be modified.
func (c *Catalog) Entities() []Entity {
	return c.entities
}

// Traits returns all traits in id order.
// The returned slice must not be modified.
func (c *Catalog) Traits() []Trait {
	return c.traits
}

// NumEntities returns the number of entities.
func (c *Catalog) NumEntities() int {
	return len(c.entities)
}

// Entity returns the entity with the given id.
func (c *Catalog) Entity(id EntityID) (Entity, bool) {
	if id < 0 || int(id) >= len(c.entities) {
		return Entity{}, false
	}
	return c.entities[id], true
}

// Trait returns the trait with the given id.
func (c *Catalog) Trait(id TraitID) (Trait, bool) {
	if id < 0 || int(id) >= len(c.traits) {
		return Trait{}, false
	}
	return c.traits[id], true
}

// EntitiesWithTrait returns the ids of every entity carrying trait t, ascending.
// The returned slice must not be modified.
func (c *Catalog) EntitiesWithTrait(t TraitID) []EntityID {
	if t < 0 || int(t) >= len(c.byTrait) {
		return nil
	}
	return c.byTrait[t]
}

// EntityByName resolves an entity by its (NFC-normalized) name.
func (c *Catalog) EntityByName(name string) (EntityID, bool) {
	id, ok := c.entityByName[normalizeName(name)]
	return id, ok
}

// TraitByName resolves a trait by its (NFC-normalized) name.
func (c *Catalog) TraitByName(name string) (TraitID, bool) {
	id, ok := c.traitByName[normalizeName(name)]
	return id, ok
}

// Fingerprint returns the catalog's content digest. See Fingerprint in fingerprint.go.
func (c *Catalog) Fingerprint() string {
	return c.fingerprint
}

// Names maps entity ids to names, preserving the input order.
// Unknown ids are rendered as "#<id>".
func (c *Catalog) Names(ids []EntityID) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		if e, ok := c.Entity(id); ok {
			names[i] = e.Name
		} else {
			names[i] = fmt.Sprintf("#%d", id)
		}
	}
	return names
}

// TraitCounts returns, for each trait carried by at least one member, how
// many members carry it. Unknown ids are ignored.
func (c *Catalog) TraitCounts(members []EntityID) map[TraitID]int {
	counts := make(map[TraitID]int)
	for _, id := range members {
		e, ok := c.Entity(id)
		if !ok {
			continue
		}
		for _, t := range e.Traits {
			counts[t]++
		}
	}
	return counts
}

// SortedTraitIDs returns the keys of counts in ascending order.
func SortedTraitIDs(counts map[TraitID]int) []TraitID {
	ids := make([]TraitID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
