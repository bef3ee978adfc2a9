// Package score computes trait-threshold scores for compositions and runs
// the bounded scoring pass over a store.
//
// A composition earns, for every trait carried by its members, one point
// per threshold its member count reaches. A weight override replaces those
// points per threshold index; indices past the end of an override list
// earn nothing, and later thresholds are still checked. The first
// threshold not reached ends the walk for that trait.
package score

import (
	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/comp"
)

// Scorer scores compositions against a fixed catalog and weight table.
// It is immutable and safe for concurrent use.
type Scorer struct {
	cat     *catalog.Catalog
	weights Weights
}

// NewScorer validates w against cat. A nil w scores every threshold as 1.
func NewScorer(cat *catalog.Catalog, w Weights) (*Scorer, error) {
	if err := w.Validate(cat); err != nil {
		return nil, err
	}
	return &Scorer{cat: cat, weights: w}, nil
}

// Score returns the composition's score.
func (s *Scorer) Score(c comp.Composition) float64 {
	return Score(s.cat, s.weights, c.Members())
}

// Score is the pure scoring function. Traits are summed in ascending id
// order so the floating-point result is reproducible.
func Score(cat *catalog.Catalog, w Weights, members []catalog.EntityID) float64 {
	counts := cat.TraitCounts(members)

	var total float64
	for _, id := range catalog.SortedTraitIDs(counts) {
		tr, ok := cat.Trait(id)
		if !ok {
			continue
		}
		total += traitScore(tr.Thresholds, w[id], counts[id])
	}
	return total
}

func traitScore(thresholds []int, override []float64, count int) float64 {
	var s float64
	for idx, th := range thresholds {
		if count < th {
			break
		}
		switch {
		case len(override) == 0:
			s++
		case idx < len(override):
			s += override[idx]
		}
	}
	return s
}
