package catalog

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Builder assembles a Catalog and assigns ids in declaration order.
//
// Problems are collected rather than returned from each Add call so that a
// single Build reports everything wrong with a catalog file at once.
//
// A Builder is not safe for concurrent use. It must not be reused after Build.
type Builder struct {
	traits      []Trait
	entities    []Entity
	traitByName map[string]TraitID
	entityNames map[string]EntityID
	problems    []Problem
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		traitByName: make(map[string]TraitID),
		entityNames: make(map[string]EntityID),
	}
}

// AddTrait registers a trait and returns its id.
// Thresholds must be positive and strictly ascending.
func (b *Builder) AddTrait(name string, thresholds ...int) TraitID {
	name = normalizeName(name)
	id := TraitID(len(b.traits))

	if name == "" {
		b.problem("trait", fmt.Sprintf("trait #%d has an empty name", id))
	} else if _, dup := b.traitByName[name]; dup {
		b.problem("trait."+name, "duplicate trait name")
	} else {
		b.traitByName[name] = id
	}

	if len(thresholds) == 0 {
		b.problem("trait."+name, "at least one threshold is required")
	}
	for i, t := range thresholds {
		if t <= 0 {
			b.problem("trait."+name, fmt.Sprintf("threshold %d must be positive (got %d)", i, t))
		}
		if i > 0 && t <= thresholds[i-1] {
			b.problem("trait."+name, fmt.Sprintf("thresholds must be strictly ascending (%d after %d)", t, thresholds[i-1]))
		}
	}

	b.traits = append(b.traits, Trait{
		ID:         id,
		Name:       name,
		Thresholds: append([]int(nil), thresholds...),
	})
	return id
}

// AddEntity registers an entity carrying the named traits and returns its id.
// Every trait must have been added before the entity that references it.
// An entity without traits is valid; it never joins a larger composition.
func (b *Builder) AddEntity(name string, cost int, traits ...string) EntityID {
	name = normalizeName(name)
	id := EntityID(len(b.entities))

	if name == "" {
		b.problem("entity", fmt.Sprintf("entity #%d has an empty name", id))
	} else if _, dup := b.entityNames[name]; dup {
		b.problem("entity."+name, "duplicate entity name")
	} else {
		b.entityNames[name] = id
	}
	if cost < 0 {
		b.problem("entity."+name, fmt.Sprintf("cost must not be negative (got %d)", cost))
	}

	ids := make([]TraitID, 0, len(traits))
	seen := make(map[TraitID]bool, len(traits))
	for _, tn := range traits {
		tid, ok := b.traitByName[normalizeName(tn)]
		if !ok {
			b.problem("entity."+name, fmt.Sprintf("unknown trait %q", tn))
			continue
		}
		if seen[tid] {
			b.problem("entity."+name, fmt.Sprintf("trait %q listed twice", tn))
			continue
		}
		seen[tid] = true
		ids = append(ids, tid)
	}

	b.entities = append(b.entities, Entity{
		ID:     id,
		Name:   name,
		Cost:   cost,
		Traits: ids,
	})
	return id
}

// Build validates the accumulated definitions and returns the catalog.
// All problems are reported together in a single *Error.
func (b *Builder) Build() (*Catalog, error) {
	if len(b.entities) == 0 {
		b.problem("entity", "catalog has no entities")
	}
	if len(b.problems) > 0 {
		return nil, &Error{Problems: b.problems}
	}

	byTrait := make([][]EntityID, len(b.traits))
	for _, e := range b.entities {
		for _, t := range e.Traits {
			byTrait[t] = append(byTrait[t], e.ID)
		}
	}

	c := &Catalog{
		entities:     b.entities,
		traits:       b.traits,
		byTrait:      byTrait,
		entityByName: b.entityNames,
		traitByName:  b.traitByName,
	}
	c.fingerprint = Fingerprint(c)
	return c, nil
}

func (b *Builder) problem(field, msg string) {
	b.problems = append(b.problems, Problem{Field: field, Message: msg})
}

// normalizeName trims and NFC-normalizes a display name so that visually
// identical names from different editors resolve to the same id.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
