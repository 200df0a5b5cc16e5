package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64  `json:"seq" yaml:"seq"`
	Op      string `json:"op" yaml:"op"`
	At      string `json:"at,omitempty" yaml:"at,omitempty"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Outcome string `json:"outcome" yaml:"outcome"` // "ok" or an error code
	Result  any    `json:"result,omitempty" yaml:"result,omitempty"`
}

// Outcome of a step that succeeded.
const OutcomeOK = "ok"

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass" yaml:"pass"`

	// Trace contains one event per executed step, in order.
	Trace []TraceEvent `json:"trace" yaml:"trace"`

	// Errors contains step mismatches and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty" yaml:"errors,omitempty"`

	// Calls holds call step results by step id.
	Calls map[string]any `json:"calls,omitempty" yaml:"calls,omitempty"`

	// Persisted is the canonical JSON stored under the tree key at the end
	// of the run.
	Persisted []byte `json:"-" yaml:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Calls:  make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
