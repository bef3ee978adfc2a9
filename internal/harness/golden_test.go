package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScenariosGolden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err)

		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestMarshalSnapshotIsStable(t *testing.T) {
	snap := Snapshot{Scenario: "s", RunID: "r", MaxSize: 2}
	a, err := MarshalSnapshot(snap)
	require.NoError(t, err)
	b, err := MarshalSnapshot(snap)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, byte('\n'), a[len(a)-1])
}
