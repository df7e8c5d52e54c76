package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScenariosMatchGolden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "scenario name must match its file name")
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/first_sync_two_devices.yaml")
	require.NoError(t, err)

	var renders []string
	for i := 0; i < 3; i++ {
		result, err := Run(scenario)
		require.NoError(t, err)
		snap := TraceSnapshot{
			ScenarioName: scenario.Name,
			Trace:        result.Trace,
			Devices:      result.Devices,
			Server:       result.Server,
		}
		renders = append(renders, string(snap.Render()))
	}
	require.Equal(t, renders[0], renders[1])
	require.Equal(t, renders[0], renders[2])
}
