package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/cardlog/internal/state"
)

// TraceEntry records what one step did.
type TraceEntry struct {
	Step    int    `json:"step"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail,omitempty"`
	Outcome string `json:"outcome"`
}

// String renders the entry as one trace line.
func (e TraceEntry) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("%d %s -> %s", e.Step, e.Kind, e.Outcome)
	}
	return fmt.Sprintf("%d %s %s -> %s", e.Step, e.Kind, e.Detail, e.Outcome)
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per step, in order.
	Trace []TraceEntry `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Height is the live log height after the last step.
	Height int64 `json:"height"`

	// State is the folded state after the last step.
	State state.AppState `json:"-"`

	// Games is the number of records in the scenario's archive.
	Games int `json:"games"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
		State:  state.New(),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace entry for the 1-based step index.
func (r *Result) AddTrace(step int, kind, detail, outcome string) {
	r.Trace = append(r.Trace, TraceEntry{Step: step, Kind: kind, Detail: detail, Outcome: outcome})
}

// Text renders the trace and final state in the golden file format.
func (r *Result) Text(name string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, e := range r.Trace {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "final: height=%d phase=%s games=%d\n", r.Height, r.State.SP.Phase, r.Games)
	b.WriteString("players:")
	for _, id := range r.State.Order {
		fmt.Fprintf(&b, " %s=%s", id, r.State.Players[id])
	}
	b.WriteByte('\n')
	b.WriteString("scores:")
	for _, id := range r.State.Order {
		fmt.Fprintf(&b, " %s=%d", id, r.State.Scores[id])
	}
	b.WriteByte('\n')
	return []byte(b.String())
}
