package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/statesync/internal/canon"
)

// TraceSnapshot captures the trace and final state of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Devices      map[string]map[string]any
	Server       map[string]map[string]any
}

// toCanonicalMap converts a TraceSnapshot to plain maps and slices so the
// canonical encoder orders every key.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":    event.Seq,
			"device": event.Device,
			"action": event.Action,
		}
		if event.Collection != "" {
			eventMap["collection"] = event.Collection
		}
		if event.ID != "" {
			eventMap["id"] = event.ID
		}
		if event.Sync != nil {
			eventMap["pushed"] = event.Sync.Pushed
			eventMap["received"] = event.Sync.Received
			eventMap["dropped"] = event.Sync.Dropped
		}
		traceList[i] = eventMap
	}

	devices := make(map[string]any, len(s.Devices))
	for name, v := range s.Devices {
		devices[name] = v
	}
	server := make(map[string]any, len(s.Server))
	for id, v := range s.Server {
		server[id] = v
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"final": map[string]any{
			"devices": devices,
			"server":  server,
		},
	}
}

// Render returns the golden file contents for a result.
func (s *TraceSnapshot) Render() []byte {
	return []byte(canon.Canonical(s.toCanonicalMap()) + "\n")
}

// RunWithGolden executes a scenario, fails the test on any unmet expectation
// and compares the trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Devices:      result.Devices,
		Server:       result.Server,
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot.Render())
	return nil
}
