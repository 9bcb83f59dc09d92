package harness

// TraceEvent records what applying one message did.
type TraceEvent struct {
	Seq        int64  `json:"seq"`
	EventID    string `json:"event_id,omitempty"`
	Type       string `json:"type"`
	Mrn        string `json:"mrn"`
	Kind       string `json:"kind,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Stale      bool   `json:"stale,omitempty"`
	Backfilled bool   `json:"backfilled,omitempty"`
	// Error is the apply error code, or the message for errors without one.
	Error string `json:"error,omitempty"`
}

// State is the current data per kind and identity, in its JSON form.
type State map[string]map[string]any

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held and every ordering converged.
	Pass bool `json:"pass"`

	// Trace has one event per message, in file order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion and convergence failures.
	Errors []string `json:"errors,omitempty"`

	// State is the final current state of the file-order run.
	State State `json:"state"`

	// Orderings is how many arrival orders were run.
	Orderings int `json:"orderings"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  State{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Find returns the trace event for seq.
func (r *Result) Find(seq int64) (TraceEvent, bool) {
	for _, ev := range r.Trace {
		if ev.Seq == seq {
			return ev, true
		}
	}
	return TraceEvent{}, false
}
