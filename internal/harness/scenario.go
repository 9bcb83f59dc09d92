package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/starcore/internal/coordinator"
	"github.com/roach88/starcore/internal/patient"
)

// maxPermuteMessages bounds permuted scenarios; 7 messages is 5040 runs.
const maxPermuteMessages = 7

// Scenario defines a patient-event scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// StalePolicy is the coordinator stale policy: "ignore" (default) or
	// "backfill".
	StalePolicy string `yaml:"stale_policy,omitempty"`

	// Permute runs every arrival order of Messages and requires them all to
	// converge on the file-order state.
	Permute bool `yaml:"permute,omitempty"`

	// Messages are patient messages in event-file format.
	Messages []any `yaml:"messages"`

	// Assertions validate outcomes and the final state.
	Assertions []Assertion `yaml:"assertions"`

	messages []patient.Message
	policy   coordinator.StalePolicy
}

// Assertion validates an outcome or the final state.
type Assertion struct {
	// Type is one of outcome, final_state, absent, history_count, live_mrn.
	Type string `yaml:"type"`

	// Seq selects the message (outcome).
	Seq int64 `yaml:"seq,omitempty"`

	// Outcome is the expected outcome name, e.g. "created" (outcome).
	Outcome string `yaml:"outcome,omitempty"`

	// Stale and Backfilled are checked when given (outcome).
	Stale      *bool `yaml:"stale,omitempty"`
	Backfilled *bool `yaml:"backfilled,omitempty"`

	// Error is the expected error code, e.g. "REJECTED" (outcome).
	Error string `yaml:"error,omitempty"`

	// Mrn selects the identity (final_state, absent, history_count, live_mrn).
	Mrn string `yaml:"mrn,omitempty"`

	// Kind selects the entity kind (history_count). Defaults to
	// core_demographic.
	Kind string `yaml:"kind,omitempty"`

	// ValidAt reads the version true at this valid time instead of the
	// current row (final_state).
	ValidAt time.Time `yaml:"valid_at,omitempty"`

	// AfterSeq reads as of the processing time right after that message
	// was applied, instead of the latest (final_state with valid_at).
	AfterSeq int64 `yaml:"after_seq,omitempty"`

	// Expect holds expected field values, null for absent (final_state).
	// Subset match: only listed fields are checked.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of historical copies (history_count).
	Count int `yaml:"count,omitempty"`

	// Live is the expected live MRN (live_mrn).
	Live string `yaml:"live,omitempty"`
}

// Assertion type constants.
const (
	AssertOutcome      = "outcome"
	AssertFinalState   = "final_state"
	AssertAbsent       = "absent"
	AssertHistoryCount = "history_count"
	AssertLiveMrn      = "live_mrn"
)

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Unknown fields are rejected so typos
// such as "assertion:" fail loudly.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// PatientMessages returns the decoded messages in file order.
func (s *Scenario) PatientMessages() []patient.Message {
	out := make([]patient.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// validateScenario checks required fields and decodes the messages.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Messages) == 0 {
		return fmt.Errorf("messages list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	policy, err := coordinator.ParseStalePolicy(s.StalePolicy)
	if err != nil {
		return fmt.Errorf("stale_policy: %w", err)
	}
	s.policy = policy

	msgs, err := patient.DecodeDocument(s.Messages)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}
	s.messages = msgs

	if s.Permute && len(msgs) > maxPermuteMessages {
		return fmt.Errorf("permute allows at most %d messages, got %d", maxPermuteMessages, len(msgs))
	}

	seqs := make(map[int64]bool, len(msgs))
	for _, m := range msgs {
		seqs[m.Seq] = true
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, seqs); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, seqs map[int64]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertOutcome:
		if !seqs[a.Seq] {
			return fmt.Errorf("assertions[%d]: seq %d does not name a message", index, a.Seq)
		}
		if a.Outcome == "" && a.Error == "" {
			return fmt.Errorf("assertions[%d]: outcome or error is required for outcome", index)
		}
	case AssertFinalState:
		if a.Mrn == "" {
			return fmt.Errorf("assertions[%d]: mrn is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
		if a.AfterSeq != 0 {
			if a.ValidAt.IsZero() {
				return fmt.Errorf("assertions[%d]: after_seq needs valid_at", index)
			}
			if !seqs[a.AfterSeq] {
				return fmt.Errorf("assertions[%d]: after_seq %d does not name a message", index, a.AfterSeq)
			}
		}
	case AssertAbsent:
		if a.Mrn == "" {
			return fmt.Errorf("assertions[%d]: mrn is required for absent", index)
		}
	case AssertHistoryCount:
		if a.Mrn == "" {
			return fmt.Errorf("assertions[%d]: mrn is required for history_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for history_count", index)
		}
		switch a.Kind {
		case "", patient.KindDemographics, patient.KindMrnLink:
		default:
			return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
		}
	case AssertLiveMrn:
		if a.Mrn == "" || a.Live == "" {
			return fmt.Errorf("assertions[%d]: mrn and live are required for live_mrn", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
