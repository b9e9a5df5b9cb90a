package harness

import "github.com/roach88/entitycache/internal/value"

// TraceEvent is one graph notification recorded during a run.
type TraceEvent struct {
	Seq   int64  `json:"seq"`
	Step  int64  `json:"step"`
	Cache string `json:"cache"`
	Kind  string `json:"kind"`
	ID    int64  `json:"id"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step applied and every assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
	// Snapshot is the final graph state, see graph.Graph.Snapshot.
	Snapshot value.Object `json:"snapshot"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Snapshot: value.Object{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
