package score

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/compsearch/internal/catalog"
)

// Weights maps a trait to its per-threshold weights. Index i replaces the
// default weight of 1 for the trait's i-th threshold.
type Weights map[catalog.TraitID][]float64

// WeightError reports an unusable weight table entry.
type WeightError struct {
	Trait   string
	Message string
}

func (e *WeightError) Error() string {
	return fmt.Sprintf("invalid weights for trait %q: %s", e.Trait, e.Message)
}

// ConfigurationError marks weight problems as fatal before scoring starts.
func (e *WeightError) ConfigurationError() bool { return true }

// ResolveWeights converts a table keyed by trait name into Weights.
//
// Names are matched exactly first, then case-insensitively, since config
// keys may have been lowercased on the way in. Unknown traits, ambiguous
// names and lists longer than the trait's thresholds are rejected.
func ResolveWeights(cat *catalog.Catalog, byName map[string][]float64) (Weights, error) {
	w := make(Weights, len(byName))

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		id, err := lookupTrait(cat, name)
		if err != nil {
			return nil, err
		}
		if _, dup := w[id]; dup {
			return nil, &WeightError{Trait: name, Message: "trait given more than once"}
		}
		w[id] = append([]float64(nil), byName[name]...)
	}

	if err := w.Validate(cat); err != nil {
		return nil, err
	}
	return w, nil
}

// Validate checks that every entry names a known trait and is no longer
// than that trait's threshold list.
func (w Weights) Validate(cat *catalog.Catalog) error {
	ids := make([]int, 0, len(w))
	for id := range w {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	for _, i := range ids {
		id := catalog.TraitID(i)
		tr, ok := cat.Trait(id)
		if !ok {
			return &WeightError{Trait: fmt.Sprintf("#%d", id), Message: "unknown trait"}
		}
		if n := len(w[id]); n > len(tr.Thresholds) {
			return &WeightError{
				Trait:   tr.Name,
				Message: fmt.Sprintf("%d weights for %d thresholds", n, len(tr.Thresholds)),
			}
		}
	}
	return nil
}

func lookupTrait(cat *catalog.Catalog, name string) (catalog.TraitID, error) {
	if id, ok := cat.TraitByName(name); ok {
		return id, nil
	}

	found := -1
	for _, tr := range cat.Traits() {
		if strings.EqualFold(tr.Name, strings.TrimSpace(name)) {
			if found >= 0 {
				return 0, &WeightError{Trait: name, Message: "name matches more than one trait"}
			}
			found = int(tr.ID)
		}
	}
	if found < 0 {
		return 0, &WeightError{Trait: name, Message: "unknown trait"}
	}
	return catalog.TraitID(found), nil
}

// weightsFile is the on-disk shape of a weights file:
//
//	weights:
//	  Heavenly: [0, 1, 0, 1, 0, 1]
type weightsFile struct {
	Weights map[string][]float64 `yaml:"weights"`
}

// LoadWeightsFile reads a YAML weights file.
func LoadWeightsFile(path string) (map[string][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open weights %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var wf weightsFile
	if err := dec.Decode(&wf); err != nil {
		return nil, fmt.Errorf("parse weights %s: %w", path, err)
	}
	return wf.Weights, nil
}

// Merge combines weight tables by name. Later tables win per trait.
func Merge(tables ...map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64)
	for _, t := range tables {
		for name, ws := range t {
			for existing := range out {
				if strings.EqualFold(existing, name) {
					delete(out, existing)
				}
			}
			out[name] = ws
		}
	}
	return out
}
