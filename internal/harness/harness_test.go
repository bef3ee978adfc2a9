package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/config"
)

func TestRunPairScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/pair_basic.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	snap := result.Snapshot
	assert.Equal(t, DefaultRunID, snap.RunID)
	require.Len(t, snap.Runs, 2)
	assert.True(t, snap.Runs[0].Seeded)
	assert.Equal(t, int64(1), snap.Runs[0].Inserted)
	assert.False(t, snap.Runs[1].Seeded)
	assert.Zero(t, snap.Runs[1].Iterations)
	assert.Empty(t, snap.Top)
}

func TestRunReportsFailedAssertions(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/pair_basic.yaml")
	require.NoError(t, err)
	s.Assertions = []Assertion{
		{Type: AssertCount, Size: 2, Expect: 5},
		{Type: AssertExists, Members: []string{"A", "B"}, Expect: false},
		{Type: AssertExpanded, Members: []string{"A", "B"}, Expect: true},
		{Type: AssertCount, Expect: 3},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "assertion 0")
	assert.Contains(t, result.Errors[0], "Expected: 5")
	assert.Contains(t, result.Errors[0], "Actual: 1")
	assert.Contains(t, result.Errors[1], "exists {A,B}")
	assert.Contains(t, result.Errors[2], "expanded {A,B}")
}

func TestRunUnknownMember(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/pair_basic.yaml")
	require.NoError(t, err)
	s.Assertions = []Assertion{{Type: AssertExists, Members: []string{"Z"}, Expect: true}}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `unknown entity "Z"`)
}

func TestRunMissingComposition(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/traitx_weights.yaml")
	require.NoError(t, err)
	s.MaxSize = 2
	s.Assertions = []Assertion{{Type: AssertScore, Members: []string{"X1", "X2", "X3"}, Expect: 2}}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "not stored")
}

func TestRunInvalidCatalog(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/pair_basic.yaml")
	require.NoError(t, err)
	s.CatalogFile = "testdata/catalogs/missing.yaml"

	_, err = Run(context.Background(), s)
	require.Error(t, err)
}

func TestRunUnknownWeightTrait(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/traitx_weights.yaml")
	require.NoError(t, err)
	s.Weights = map[string][]float64{"Z": {1}}

	_, err = Run(context.Background(), s)
	require.Error(t, err)
	assert.True(t, config.IsConfigurationError(err))
}

func TestAssertionErrorMessage(t *testing.T) {
	err := &AssertionError{Type: AssertCount, Subject: "size 2", Expected: "3", Actual: "1"}
	assert.Equal(t, "Assertion failed: count size 2\n  Expected: 3\n  Actual: 1", err.Error())
}

func TestSnapshotFingerprintMatchesCatalog(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/mesh_scoring.yaml")
	require.NoError(t, err)
	cat, err := catalog.LoadFile(s.CatalogFile)
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, cat.Fingerprint(), result.Snapshot.Fingerprint)
}
