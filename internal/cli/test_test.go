package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: pair
description: two entities sharing one trait
catalog:
  traits: [{name: T, thresholds: [2]}]
  entities:
    - {name: A, cost: 1, traits: [T]}
    - {name: B, cost: 1, traits: [T]}
max_size: 2
assertions:
  - {type: count, expect: 3}
  - {type: exists, members: [A, B], expect: true}
`

const failingScenario = `
name: wrong-count
description: expects more compositions than exist
catalog:
  traits: [{name: T, thresholds: [2]}]
  entities:
    - {name: A, cost: 1, traits: [T]}
    - {name: B, cost: 1, traits: [T]}
max_size: 2
assertions:
  - {type: count, expect: 4}
`

func TestTestCommandMissingArgs(t *testing.T) {
	_, _, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, _, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario path not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "test", filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err, out)

	var result TestResult
	decodeData(t, out, &result)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Passed)
	assert.Zero(t, result.Failed)
}

func TestTestCommandFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pair.yaml", passingScenario)
	writeFile(t, dir, "wrong.yaml", failingScenario)

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ pair")
	assert.Contains(t, out, "✗ wrong-count")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandFailureJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wrong.yaml", failingScenario)

	out, _, err := execute(t, "--format", "json", "test", dir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pair.yaml", passingScenario)
	writeFile(t, dir, "wrong.yaml", failingScenario)

	out, _, err := execute(t, "test", dir, "--filter", "pa*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommandGoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "pair.yaml", passingScenario)

	out, _, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	golden := filepath.Join(dir, "golden", "pair.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario": "pair"`)

	_, _, err = execute(t, "test", dir)
	require.NoError(t, err, "unchanged run matches its golden file")

	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0o644))
	out, _, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "snapshot does not match golden file")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\n")

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}
