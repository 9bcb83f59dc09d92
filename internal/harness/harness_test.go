package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, yamlText string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(yamlText))
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	paths, err := Discover(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_PermuteCountsOrderings(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "out_of_order_backfill.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Orderings)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_PermuteDetectsDivergence(t *testing.T) {
	// Partial updates under the ignore policy: when the later message arrives
	// first, the earlier one is dropped and its field never lands.
	scenario := mustParse(t, `
name: diverging
description: partial updates do not commute
permute: true
messages:
  - type: demographics
    mrn: "1"
    event_time: 2024-03-01T09:00:00Z
    fields: { first_name: Ada }
  - type: demographics
    mrn: "1"
    event_time: 2024-03-01T10:00:00Z
    fields: { last_name: Lovelace }
assertions:
  - type: outcome
    seq: 2
    outcome: updated
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "arrival order [2 1] diverges")
	assert.Equal(t, 2, result.Orderings)

	// Same snapshot twice under backfill: both orders end on the same
	// current row, but only the late arrival leaves a backfilled copy.
	scenario = mustParse(t, `
name: diverging_history
description: identical snapshots keep different history
stale_policy: backfill
permute: true
messages:
  - type: demographics
    mrn: "1"
    event_time: 2024-03-01T09:00:00Z
    fields: { first_name: Ada }
  - type: demographics
    mrn: "1"
    event_time: 2024-03-01T10:00:00Z
    fields: { first_name: Ada }
assertions:
  - type: final_state
    mrn: "1"
    expect: { first_name: Ada }
`)

	result, err = Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "arrival order [2 1] diverges")
	assert.Contains(t, result.Errors[0], `"history":{"core_demographic":{"1":1},`)
	assert.Equal(t, 2, result.Orderings)
}

func TestRun_FailedAssertionsAreCollected(t *testing.T) {
	scenario := mustParse(t, `
name: wrong_expectations
description: every assertion here is wrong
messages:
  - type: demographics
    mrn: "1"
    event_time: 2024-03-01T09:00:00Z
    fields: { first_name: Ada }
assertions:
  - type: outcome
    seq: 1
    outcome: updated
  - type: final_state
    mrn: "1"
    expect: { first_name: Grace }
  - type: absent
    mrn: "1"
  - type: history_count
    mrn: "1"
    count: 3
  - type: live_mrn
    mrn: "1"
    live: "2"
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], `outcome "updated"`)
	assert.Contains(t, result.Errors[1], `field "first_name" = Grace`)
	assert.Contains(t, result.Errors[2], "no current row for mrn 1")
	assert.Contains(t, result.Errors[3], "3 historical copies")
	assert.Contains(t, result.Errors[4], "live as 1")
}

func TestRun_RedeliveryIsNoChange(t *testing.T) {
	scenario := mustParse(t, `
name: redelivery
description: the same message twice
messages:
  - type: demographics
    source_id: a
    mrn: "1"
    event_time: 2024-03-01T09:00:00Z
    fields: { first_name: Ada }
  - type: demographics
    source_id: a
    mrn: "1"
    event_time: 2024-03-01T09:00:00Z
    fields: { first_name: Ada }
assertions:
  - type: outcome
    seq: 2
    outcome: no_change
    stale: false
  - type: history_count
    mrn: "1"
    count: 0
`)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "a", result.Trace[1].EventID)
}

func TestRun_IsolatedBetweenRuns(t *testing.T) {
	scenario := mustParse(t, `
name: isolated
description: each run starts empty
messages:
  - type: demographics
    mrn: "1"
    event_time: 2024-03-01T09:00:00Z
    fields: { first_name: Ada }
assertions:
  - type: outcome
    seq: 1
    outcome: created
`)

	for range 2 {
		result, err := Run(scenario)
		require.NoError(t, err)
		assert.True(t, result.Pass, "errors: %v", result.Errors)
	}
}
