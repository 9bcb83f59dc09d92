package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/starcore/internal/canonical"
)

// Snapshot captures a scenario execution for golden comparison.
type Snapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Orderings    int          `json:"orderings"`
	Trace        []TraceEvent `json:"trace"`
	State        State        `json:"state"`
}

// SnapshotOf builds the snapshot of a result.
func SnapshotOf(name string, result *Result) Snapshot {
	return Snapshot{
		ScenarioName: name,
		Orderings:    result.Orderings,
		Trace:        result.Trace,
		State:        result.State,
	}
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario cannot be executed. A snapshot mismatch
// fails t via goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := canonical.Marshal(SnapshotOf(scenarioName, result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
