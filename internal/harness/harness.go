package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/starcore/internal/canonical"
	"github.com/roach88/starcore/internal/coordinator"
	"github.com/roach88/starcore/internal/patient"
	"github.com/roach88/starcore/internal/store"
	"github.com/roach88/starcore/internal/testutil"
)

// Harness is one isolated execution: fresh in-memory tables, a deterministic
// processing clock and the patient service over them.
type Harness struct {
	demographics *store.MemoryTable[patient.Demographics]
	links        *store.MemoryTable[patient.MrnLink]
	visits       *store.MemoryTable[patient.HospitalVisit]
	service      *patient.Service
	clock        *testutil.StepClock
	// appliedAt is the processing time reached after each message, by seq.
	appliedAt map[int64]time.Time
}

func newHarness(policy coordinator.StalePolicy) *Harness {
	h := &Harness{
		demographics: store.NewMemoryTable[patient.Demographics](patient.KindDemographics),
		links:        store.NewMemoryTable[patient.MrnLink](patient.KindMrnLink),
		visits:       store.NewMemoryTable[patient.HospitalVisit](patient.KindHospitalVisit),
		clock:        testutil.NewDeterministicClock(),
		appliedAt:    make(map[int64]time.Time),
	}
	h.service = patient.NewService(h.demographics, h.links, h.visits,
		coordinator.WithClock(h.clock),
		coordinator.WithStalePolicy(policy),
		coordinator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return h
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Apply the messages in file order to a fresh harness
//  2. With permute, replay every other order and compare final states
//  3. Evaluate assertions against the file-order run
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	msgs := scenario.PatientMessages()

	h := newHarness(scenario.policy)
	result := NewResult()
	result.Trace = h.apply(ctx, msgs)

	state, err := h.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.State = state
	result.Orderings = 1

	if scenario.Permute {
		want, err := h.orderState(ctx, scenario.policy, msgs, state)
		if err != nil {
			return nil, fmt.Errorf("failed to read final state: %w", err)
		}
		if err := checkOrderings(ctx, scenario.policy, msgs, want, result); err != nil {
			return nil, err
		}
	}

	actx := &AssertionContext{Ctx: ctx, Harness: h}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// orderState is what every arrival order must agree on. Under backfill a
// late event leaves a history row instead of being dropped, so the number of
// versions kept per identity must match too.
type orderState struct {
	State   State                     `json:"state"`
	History map[string]map[string]int `json:"history,omitempty"`
}

func (h *Harness) orderState(ctx context.Context, policy coordinator.StalePolicy, msgs []patient.Message, state State) (orderState, error) {
	out := orderState{State: state}
	if policy != coordinator.StaleBackfill {
		return out, nil
	}
	mrns := make(map[string]bool)
	encounters := make(map[string]bool)
	for _, m := range msgs {
		mrns[m.Mrn] = true
		if m.SurvivingMrn != "" {
			mrns[m.SurvivingMrn] = true
		}
		if m.Encounter != "" {
			encounters[m.Encounter] = true
		}
	}
	demo, err := historyCounts(ctx, h.demographics, mrns)
	if err != nil {
		return out, err
	}
	links, err := historyCounts(ctx, h.links, mrns)
	if err != nil {
		return out, err
	}
	visits, err := historyCounts(ctx, h.visits, encounters)
	if err != nil {
		return out, err
	}
	out.History = map[string]map[string]int{
		patient.KindDemographics:  demo,
		patient.KindMrnLink:       links,
		patient.KindHospitalVisit: visits,
	}
	return out, nil
}

func historyCounts[T any](ctx context.Context, table *store.MemoryTable[T], ids map[string]bool) (map[string]int, error) {
	out := make(map[string]int)
	for id := range ids {
		history, err := table.History(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("history %s/%s: %w", table.Kind(), id, err)
		}
		if len(history) > 0 {
			out[id] = len(history)
		}
	}
	return out, nil
}

// checkOrderings replays every arrival order other than file order and
// records the first one whose final state differs.
func checkOrderings(ctx context.Context, policy coordinator.StalePolicy, msgs []patient.Message, want orderState, result *Result) error {
	wantJSON, err := canonical.Marshal(want)
	if err != nil {
		return fmt.Errorf("failed to encode final state: %w", err)
	}

	first := true
	for order := range Permute(msgs).All() {
		if first {
			// Lexicographic enumeration starts with file order, already run.
			first = false
			continue
		}
		h := newHarness(policy)
		h.apply(ctx, order)
		state, err := h.snapshot(ctx)
		if err != nil {
			return fmt.Errorf("failed to read final state: %w", err)
		}
		got, err := h.orderState(ctx, policy, msgs, state)
		if err != nil {
			return fmt.Errorf("failed to read final state: %w", err)
		}
		result.Orderings++

		gotJSON, err := canonical.Marshal(got)
		if err != nil {
			return fmt.Errorf("failed to encode final state: %w", err)
		}
		if !bytes.Equal(gotJSON, wantJSON) {
			result.AddError(fmt.Sprintf("arrival order %s diverges from file order\n  Expected: %s\n  Actual: %s",
				orderString(order), wantJSON, gotJSON))
			return nil
		}
	}
	return nil
}

// apply feeds msgs to the service one at a time and traces each result.
// Failures are traced, not returned: a rejected message is part of the
// scenario.
func (h *Harness) apply(ctx context.Context, msgs []patient.Message) []TraceEvent {
	trace := make([]TraceEvent, 0, len(msgs))
	for _, msg := range msgs {
		applied, err := h.service.Apply(ctx, msg)
		ev := TraceEvent{
			Seq:     msg.Seq,
			EventID: applied.EventID,
			Type:    string(msg.Type),
			Mrn:     msg.Mrn,
			Kind:    applied.Kind,
		}
		if err != nil {
			ev.Error = errorCode(err)
		} else {
			ev.Outcome = applied.Outcome.String()
			ev.Stale = applied.Stale
			ev.Backfilled = applied.Backfilled
		}
		h.appliedAt[msg.Seq] = h.clock.Current()
		trace = append(trace, ev)
	}
	return trace
}

// snapshot captures the current data of every identity of every kind.
// Visits appear only once a scenario has created one.
func (h *Harness) snapshot(ctx context.Context) (State, error) {
	demo, err := currentData(ctx, h.demographics)
	if err != nil {
		return nil, err
	}
	links, err := currentData(ctx, h.links)
	if err != nil {
		return nil, err
	}
	visits, err := currentData(ctx, h.visits)
	if err != nil {
		return nil, err
	}
	state := State{
		patient.KindDemographics: demo,
		patient.KindMrnLink:      links,
	}
	if len(visits) > 0 {
		state[patient.KindHospitalVisit] = visits
	}
	return state, nil
}

func currentData[T any](ctx context.Context, table *store.MemoryTable[T]) (map[string]any, error) {
	ids, err := table.Identities(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(ids))
	for _, id := range ids {
		row, err := table.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", table.Kind(), id, err)
		}
		if row == nil {
			continue
		}
		data, err := toGeneric(row.Data)
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", table.Kind(), id, err)
		}
		out[id] = data
	}
	return out, nil
}

// toGeneric converts v to the generic form encoding/json decodes it into.
func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func errorCode(err error) string {
	var applyErr *coordinator.ApplyError
	if errors.As(err, &applyErr) {
		return string(applyErr.Code)
	}
	return err.Error()
}

func orderString(msgs []patient.Message) string {
	seqs := make([]string, len(msgs))
	for i, m := range msgs {
		seqs[i] = fmt.Sprint(m.Seq)
	}
	return "[" + strings.Join(seqs, " ") + "]"
}
