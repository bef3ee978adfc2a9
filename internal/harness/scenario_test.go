package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalCatalog = `
catalog:
  traits: [{name: T, thresholds: [2]}]
  entities:
    - {name: A, cost: 1, traits: [T]}
    - {name: B, cost: 1, traits: [T]}
`

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/pair_basic.yaml")
	require.NoError(t, err)

	assert.Equal(t, "pair-basic", s.Name)
	assert.Equal(t, 2, s.MaxSize)
	assert.Equal(t, 2, s.Runs)
	assert.False(t, s.Catalog.IsZero())
	assert.Len(t, s.Assertions, 7)
	assert.Equal(t, AssertExists, s.Assertions[4].Type)
	assert.Equal(t, []string{"A", "B"}, s.Assertions[4].Members)
	assert.Equal(t, true, s.Assertions[4].Expect)
}

func TestLoadScenarioResolvesCatalogFile(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/mesh_scoring.yaml")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("testdata", "catalogs", "mesh.yaml"), s.CatalogFile)
	assert.True(t, s.Catalog.IsZero())
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: misspelled key
max_size: 2
assertion:
  - {type: count, expect: 1}
`+minimalCatalog)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenarioValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nmax_size: 2\nassertions: [{type: count, expect: 1}]\n" + minimalCatalog,
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nmax_size: 2\nassertions: [{type: count, expect: 1}]\n" + minimalCatalog,
			wantErr: "description is required",
		},
		{
			name:    "no catalog",
			content: "name: n\ndescription: d\nmax_size: 2\nassertions: [{type: count, expect: 1}]\n",
			wantErr: "one of catalog or catalog_file is required",
		},
		{
			name:    "both catalogs",
			content: "name: n\ndescription: d\ncatalog_file: x.yaml\nmax_size: 2\nassertions: [{type: count, expect: 1}]\n" + minimalCatalog,
			wantErr: "mutually exclusive",
		},
		{
			name:    "zero max size",
			content: "name: n\ndescription: d\nassertions: [{type: count, expect: 1}]\n" + minimalCatalog,
			wantErr: "max_size must be at least 1",
		},
		{
			name:    "unknown backend",
			content: "name: n\ndescription: d\nmax_size: 2\nbackend: mongo\nassertions: [{type: count, expect: 1}]\n" + minimalCatalog,
			wantErr: `unknown backend "mongo"`,
		},
		{
			name:    "weights without score",
			content: "name: n\ndescription: d\nmax_size: 2\nweights: {T: [1]}\nassertions: [{type: count, expect: 1}]\n" + minimalCatalog,
			wantErr: "weights require score: true",
		},
		{
			name:    "no assertions",
			content: "name: n\ndescription: d\nmax_size: 2\n" + minimalCatalog,
			wantErr: "assertions list is required",
		},
		{
			name:    "count expects integer",
			content: "name: n\ndescription: d\nmax_size: 2\nassertions: [{type: count, expect: lots}]\n" + minimalCatalog,
			wantErr: "expect must be an integer",
		},
		{
			name:    "exists needs members",
			content: "name: n\ndescription: d\nmax_size: 2\nassertions: [{type: exists, expect: true}]\n" + minimalCatalog,
			wantErr: "members are required for exists",
		},
		{
			name:    "expanded expects bool",
			content: "name: n\ndescription: d\nmax_size: 2\nassertions: [{type: expanded, members: [A], expect: 1}]\n" + minimalCatalog,
			wantErr: "expect must be a boolean",
		},
		{
			name:    "score without scoring",
			content: "name: n\ndescription: d\nmax_size: 2\nassertions: [{type: score, members: [A], expect: 1}]\n" + minimalCatalog,
			wantErr: "score assertions require score: true",
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\nmax_size: 2\nassertions: [{type: vibes, expect: 1}]\n" + minimalCatalog,
			wantErr: `unknown assertion type "vibes"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
