package harness

import (
	"github.com/lumora/pulse/internal/model"
)

// TraceEvent is one dispatched action in the trace.
type TraceEvent struct {
	Seq           int          `json:"seq"`
	Action        string       `json:"action"`
	Subscriber    string       `json:"subscriber"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Params        model.Object `json:"params,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	// True if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every dispatched action in dispatch order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
