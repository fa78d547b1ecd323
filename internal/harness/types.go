package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq int64 `json:"seq"`

	// Step is the step kind: signal, advance, provider, fetch, submit,
	// drain, clear or expect_queue.
	Step string `json:"step"`

	// Args echoes the step input.
	Args map[string]any `json:"args,omitempty"`

	// Outcome is the step result label, e.g. "network", "queued", "online".
	Outcome string `json:"outcome"`

	// Result holds outcome details.
	Result map[string]any `json:"result,omitempty"`

	// Error is the error kind when Outcome is "error".
	Error string `json:"error,omitempty"`

	// Calls is the number of provider calls the step made.
	Calls int `json:"calls,omitempty"`
}

// Label returns "step:outcome", the form assertions refer to events by.
func (e TraceEvent) Label() string {
	return e.Step + ":" + e.Outcome
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// State is the final engine state snapshot used by final_state.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends ev to the trace.
func (r *Result) AddEvent(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
