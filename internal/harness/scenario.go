package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one end-to-end search scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is an inline catalog in the YAML catalog format.
	Catalog yaml.Node `yaml:"catalog,omitempty"`

	// CatalogFile is a catalog path, relative to the scenario file.
	// Exactly one of Catalog and CatalogFile must be set.
	CatalogFile string `yaml:"catalog_file,omitempty"`

	// MaxSize is the largest composition to enumerate.
	MaxSize int `yaml:"max_size"`

	// PageSize and BatchSize override the engine defaults when positive.
	PageSize  int `yaml:"page_size,omitempty"`
	BatchSize int `yaml:"batch_size,omitempty"`

	// Backend selects the store: "memory" (default) or "sqlite" (in memory).
	Backend string `yaml:"backend,omitempty"`

	// Runs is how many times the search runs against the same store.
	// Zero means once.
	Runs int `yaml:"runs,omitempty"`

	// Score runs the scoring pass after the search.
	Score bool `yaml:"score,omitempty"`

	// Weights are per-trait weight overrides for scoring.
	Weights map[string][]float64 `yaml:"weights,omitempty"`

	// Top is how many best compositions per size go into the snapshot.
	// Zero means three. Only used when Score is set.
	Top int `yaml:"top,omitempty"`

	// RunID is the fixed run id. Empty means "scenario-run".
	RunID string `yaml:"run_id,omitempty"`

	// Assertions validate the final store contents.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion checks one fact about the final store.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Size restricts count, pending and scored assertions to one size.
	// Zero means all sizes.
	Size int `yaml:"size,omitempty"`

	// Members names a composition by entity names (exists, expanded, score).
	Members []string `yaml:"members,omitempty"`

	// Expect is the expected value: a count, a bool or a score.
	Expect any `yaml:"expect"`
}

// Assertion type constants.
const (
	AssertCount    = "count"
	AssertPending  = "pending"
	AssertScored   = "scored"
	AssertExists   = "exists"
	AssertExpanded = "expanded"
	AssertScore    = "score"
)

// Backends a scenario may select.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// CatalogFile is resolved relative to the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.CatalogFile != "" && !filepath.IsAbs(scenario.CatalogFile) {
		scenario.CatalogFile = filepath.Join(filepath.Dir(path), scenario.CatalogFile)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	hasInline := !s.Catalog.IsZero()
	switch {
	case hasInline && s.CatalogFile != "":
		return fmt.Errorf("catalog and catalog_file are mutually exclusive")
	case !hasInline && s.CatalogFile == "":
		return fmt.Errorf("one of catalog or catalog_file is required")
	}

	if s.MaxSize < 1 {
		return fmt.Errorf("max_size must be at least 1")
	}

	switch s.Backend {
	case "", BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}

	if s.Runs < 0 {
		return fmt.Errorf("runs must be non-negative")
	}

	if len(s.Weights) > 0 && !s.Score {
		return fmt.Errorf("weights require score: true")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, s.Score); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, scored bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Expect == nil {
		return fmt.Errorf("assertions[%d]: expect is required", index)
	}

	switch a.Type {
	case AssertCount, AssertPending, AssertScored:
		if a.Size < 0 {
			return fmt.Errorf("assertions[%d]: size must be non-negative", index)
		}
		if _, ok := asInt(a.Expect); !ok {
			return fmt.Errorf("assertions[%d]: expect must be an integer for %s", index, a.Type)
		}
	case AssertExists, AssertExpanded:
		if len(a.Members) == 0 {
			return fmt.Errorf("assertions[%d]: members are required for %s", index, a.Type)
		}
		if _, ok := a.Expect.(bool); !ok {
			return fmt.Errorf("assertions[%d]: expect must be a boolean for %s", index, a.Type)
		}
	case AssertScore:
		if !scored {
			return fmt.Errorf("assertions[%d]: score assertions require score: true", index)
		}
		if len(a.Members) == 0 {
			return fmt.Errorf("assertions[%d]: members are required for score", index)
		}
		if _, ok := asFloat(a.Expect); !ok {
			return fmt.Errorf("assertions[%d]: expect must be a number for score", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
