// Package harness runs patient-event scenarios against the update
// coordinator and checks what they leave behind.
//
// A scenario is a YAML file holding a batch of patient messages in the same
// format as an ingest event file, plus assertions on the per-message outcomes
// and on the final stored state.
//
// # Scenario Format
//
//	name: correction_then_merge
//	description: "A correction arrives before the merge"
//	stale_policy: backfill
//	permute: true
//	messages:
//	  - type: demographics
//	    source_id: adt-1
//	    mrn: "40800000"
//	    event_time: 2024-03-01T09:00:00Z
//	    fields: { first_name: Ada }
//	assertions:
//	  - type: outcome
//	    seq: 1
//	    outcome: created
//	  - type: final_state
//	    mrn: "40800000"
//	    expect: { first_name: Ada, last_name: null }
//	  - type: history_count
//	    mrn: "40800000"
//	    count: 0
//	  - type: live_mrn
//	    mrn: "40800001"
//	    live: "40800000"
//
// # Assertion Types
//
//   - outcome: the outcome, stale and backfilled flags or error code of one message
//   - final_state: a subset match on the current (or valid_at) demographics of an MRN
//   - absent: the MRN has no current demographics
//   - history_count: number of historical copies for an MRN of a kind
//   - live_mrn: where merge links resolve an MRN to
//
// # Arrival Order
//
// With permute set, the messages are applied in every possible order, each in
// a fresh store, and every order must end in the same current state as file
// order. Under the backfill policy every order must also keep the same number
// of historical copies per MRN. Outcome assertions always refer to the
// file-order run.
//
// # Deterministic Testing
//
// Each run uses in-memory tables and a stepping processing clock
// (testutil.NewDeterministicClock), so results compare byte for byte against
// golden snapshots.
package harness
