package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq        int    `json:"seq"`
	Device     string `json:"device"`
	Action     string `json:"action"`
	Collection string `json:"collection,omitempty"`
	ID         string `json:"id,omitempty"`

	// Sync is set for sync steps only.
	Sync *SyncOutcome `json:"sync,omitempty"`
}

// SyncOutcome holds the totals of a completed sync cycle.
type SyncOutcome struct {
	Pushed   int `json:"pushed"`
	Received int `json:"received"`
	Dropped  int `json:"dropped"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Devices holds each device's final state view, keyed by device name.
	Devices map[string]map[string]any `json:"devices"`

	// Server holds the final view of every server document, keyed by client id.
	Server map[string]map[string]any `json:"server"`
}

// NewResult creates a new passing result.
// Used as the starting point for scenario execution.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Devices: make(map[string]map[string]any),
		Server:  make(map[string]map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event, numbering it after the events before it.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
