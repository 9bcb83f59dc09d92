package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/roach88/starcore/internal/patient"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			status := event.Outcome
			if event.Error != "" {
				status = event.Error
			}
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", event.Seq, event.Type, event.Mrn, status)
		}
	}

	return buf.String()
}

// assertOutcome checks the traced result of one message.
func assertOutcome(result *Result, assertion Assertion) error {
	event, ok := result.Find(assertion.Seq)
	if !ok {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("message with seq %d", assertion.Seq),
			Actual:   "not found in trace",
			Trace:    result.Trace,
		}
	}

	fail := func(expected, actual string) error {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("seq %d %s", assertion.Seq, expected),
			Actual:   actual,
			Trace:    result.Trace,
		}
	}

	if assertion.Error != "" || event.Error != "" {
		if event.Error != assertion.Error {
			return fail(fmt.Sprintf("error %q", assertion.Error), fmt.Sprintf("error %q, outcome %q", event.Error, event.Outcome))
		}
		return nil
	}
	if assertion.Outcome != event.Outcome {
		return fail(fmt.Sprintf("outcome %q", assertion.Outcome), fmt.Sprintf("outcome %q", event.Outcome))
	}
	if assertion.Stale != nil && *assertion.Stale != event.Stale {
		return fail(fmt.Sprintf("stale=%t", *assertion.Stale), fmt.Sprintf("stale=%t", event.Stale))
	}
	if assertion.Backfilled != nil && *assertion.Backfilled != event.Backfilled {
		return fail(fmt.Sprintf("backfilled=%t", *assertion.Backfilled), fmt.Sprintf("backfilled=%t", event.Backfilled))
	}
	return nil
}

// asOfLatest is the processing time used for valid_at reads: after every
// instant a harness clock produces.
var asOfLatest = time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC)

// assertFinalState checks expected demographics fields for an MRN using
// subset semantics. A null expectation means the field must be absent.
func assertFinalState(ctx context.Context, h *Harness, assertion Assertion) error {
	var (
		data  patient.Demographics
		found bool
		where = "current row"
	)
	if assertion.ValidAt.IsZero() {
		row, err := h.demographics.Load(ctx, assertion.Mrn)
		if err != nil {
			return err
		}
		if row != nil {
			data, found = row.Data, true
		}
	} else {
		where = "row valid at " + assertion.ValidAt.UTC().Format(time.RFC3339)
		storedAt := asOfLatest
		if assertion.AfterSeq != 0 {
			storedAt = h.appliedAt[assertion.AfterSeq]
			where += fmt.Sprintf(" as of seq %d", assertion.AfterSeq)
		}
		v, ok, err := h.demographics.AsOf(ctx, assertion.Mrn, assertion.ValidAt, storedAt)
		if err != nil {
			return err
		}
		data, found = v.Data, ok
	}

	if !found {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s for mrn %s", where, assertion.Mrn),
			Actual:   "row not found",
		}
	}

	generic, err := toGeneric(data)
	if err != nil {
		return err
	}
	actualRow := generic.(map[string]any)

	for _, key := range sortedKeys(assertion.Expect) {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in fields: %v", key, sortedKeys(actualRow)),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("mrn %s field %q = %v (%s)", assertion.Mrn, key, expectedValue, where),
				Actual:   fmt.Sprintf("field %q = %v", key, actualValue),
			}
		}
	}
	return nil
}

// assertAbsent checks that an MRN has no current demographics.
func assertAbsent(ctx context.Context, h *Harness, assertion Assertion) error {
	row, err := h.demographics.Load(ctx, assertion.Mrn)
	if err != nil {
		return err
	}
	if row != nil {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("no current row for mrn %s", assertion.Mrn),
			Actual:   fmt.Sprintf("current row valid from %s", row.ValidFrom.Format(time.RFC3339)),
		}
	}
	return nil
}

// assertHistoryCount checks the number of historical copies for an MRN.
func assertHistoryCount(ctx context.Context, h *Harness, assertion Assertion) error {
	kind := assertion.Kind
	if kind == "" {
		kind = patient.KindDemographics
	}

	var count int
	if kind == patient.KindMrnLink {
		hist, err := h.links.History(ctx, assertion.Mrn)
		if err != nil {
			return err
		}
		count = len(hist)
	} else {
		hist, err := h.demographics.History(ctx, assertion.Mrn)
		if err != nil {
			return err
		}
		count = len(hist)
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertHistoryCount,
			Expected: fmt.Sprintf("%d historical copies of %s %s", assertion.Count, kind, assertion.Mrn),
			Actual:   fmt.Sprintf("%d copies", count),
		}
	}
	return nil
}

// assertLiveMrn checks where merge links resolve an MRN.
func assertLiveMrn(ctx context.Context, h *Harness, assertion Assertion) error {
	live, err := h.service.LiveMrn(ctx, assertion.Mrn)
	if err != nil {
		return err
	}
	if live != assertion.Live {
		return &AssertionError{
			Type:     AssertLiveMrn,
			Expected: fmt.Sprintf("mrn %s live as %s", assertion.Mrn, assertion.Live),
			Actual:   fmt.Sprintf("live as %s", live),
		}
	}
	return nil
}

// stateValuesEqual compares an expectation from YAML with a value decoded
// from the stored JSON. Timestamps are compared as instants.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if exp, ok := expected.(string); ok {
		got, isString := actual.(string)
		if !isString {
			return false
		}
		if exp == got {
			return true
		}
		et, err1 := time.Parse(time.RFC3339Nano, exp)
		gt, err2 := time.Parse(time.RFC3339Nano, got)
		return err1 == nil && err2 == nil && et.Equal(gt)
	}
	return reflect.DeepEqual(expected, actual)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Ctx     context.Context
	Harness *Harness
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		if assertion.Type != AssertOutcome && (actx == nil || actx.Harness == nil) {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %s requires a harness", i, assertion.Type))
			continue
		}

		switch assertion.Type {
		case AssertOutcome:
			err = assertOutcome(result, assertion)
		case AssertFinalState:
			err = assertFinalState(actx.Ctx, actx.Harness, assertion)
		case AssertAbsent:
			err = assertAbsent(actx.Ctx, actx.Harness, assertion)
		case AssertHistoryCount:
			err = assertHistoryCount(actx.Ctx, actx.Harness, assertion)
		case AssertLiveMrn:
			err = assertLiveMrn(actx.Ctx, actx.Harness, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
