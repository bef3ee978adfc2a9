// Package comp defines compositions, their canonical keys, and the one-step
// expansion rule that grows the frontier.
//
// A composition is a set of distinct entity ids. Its canonical key is the
// ascending ids joined by ",", so two compositions are equal exactly when
// their keys are equal regardless of the order members were added in.
package comp

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/compsearch/internal/catalog"
)

// Key is the canonical, order-independent identity of a composition.
type Key string

// ErrMalformedKey is returned by ParseKey for strings that are not canonical keys.
var ErrMalformedKey = errors.New("malformed composition key")

// KeyOf returns the canonical key for ids. The input is not modified.
// Callers must not pass duplicate ids; see New for a checked constructor.
func KeyOf(ids []catalog.EntityID) Key {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return keyOfSorted(sorted)
}

func keyOfSorted(sorted []catalog.EntityID) Key {
	b := make([]byte, 0, len(sorted)*3)
	for i, id := range sorted {
		if i > 0 {
			b = append(b, ',')
		}
		b = strconv.AppendInt(b, int64(id), 10)
	}
	return Key(b)
}

// ParseKey inverts KeyOf. It rejects empty, non-numeric, negative, unsorted
// and duplicate entries so that every accepted key round-trips exactly.
func ParseKey(k Key) ([]catalog.EntityID, error) {
	if k == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedKey)
	}
	parts := strings.Split(string(k), ",")
	ids := make([]catalog.EntityID, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || strconv.Itoa(n) != p {
			return nil, fmt.Errorf("%w: %q: bad entry %q", ErrMalformedKey, k, p)
		}
		ids[i] = catalog.EntityID(n)
		if i > 0 && ids[i] <= ids[i-1] {
			return nil, fmt.Errorf("%w: %q: entries not strictly ascending", ErrMalformedKey, k)
		}
	}
	return ids, nil
}

// Composition is an immutable set of entity ids with its canonical key.
// The key and sorted members are computed once at construction.
type Composition struct {
	members []catalog.EntityID // ascending, distinct
	key     Key
}

// New builds a composition from ids in any order.
// It fails on an empty set or a repeated id.
func New(ids ...catalog.EntityID) (Composition, error) {
	if len(ids) == 0 {
		return Composition{}, errors.New("composition must have at least one member")
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return Composition{}, fmt.Errorf("duplicate entity %d in composition", sorted[i])
		}
	}
	return Composition{members: sorted, key: keyOfSorted(sorted)}, nil
}

// MustNew is New for literals in tests and fixtures. It panics on error.
func MustNew(ids ...catalog.EntityID) Composition {
	c, err := New(ids...)
	if err != nil {
		panic(err)
	}
	return c
}

// FromKey reconstructs a composition from a stored key.
func FromKey(k Key) (Composition, error) {
	ids, err := ParseKey(k)
	if err != nil {
		return Composition{}, err
	}
	return Composition{members: ids, key: k}, nil
}

// Singleton returns the one-member composition {id}.
func Singleton(id catalog.EntityID) Composition {
	return Composition{members: []catalog.EntityID{id}, key: keyOfSorted([]catalog.EntityID{id})}
}

// Key returns the canonical key.
func (c Composition) Key() Key { return c.key }

// Size returns the number of members.
func (c Composition) Size() int { return len(c.members) }

// Members returns the member ids in ascending order.
// The returned slice must not be modified.
func (c Composition) Members() []catalog.EntityID { return c.members }

// Contains reports whether id is a member.
func (c Composition) Contains(id catalog.EntityID) bool {
	_, found := slices.BinarySearch(c.members, id)
	return found
}

// With returns c ∪ {id}. The key is recomputed from the full member set.
// If id is already a member, c is returned unchanged.
func (c Composition) With(id catalog.EntityID) Composition {
	pos, found := slices.BinarySearch(c.members, id)
	if found {
		return c
	}
	members := make([]catalog.EntityID, 0, len(c.members)+1)
	members = append(members, c.members[:pos]...)
	members = append(members, id)
	members = append(members, c.members[pos:]...)
	return Composition{members: members, key: keyOfSorted(members)}
}

// Equal reports value equality over canonical keys.
func (c Composition) Equal(o Composition) bool { return c.key == o.key }

func (c Composition) String() string { return "{" + string(c.key) + "}" }

// Seeds returns one singleton composition per catalog entity, in id order.
func Seeds(cat *catalog.Catalog) []Composition {
	seeds := make([]Composition, 0, cat.NumEntities())
	for _, e := range cat.Entities() {
		seeds = append(seeds, Singleton(e.ID))
	}
	return seeds
}
