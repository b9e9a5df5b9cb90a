package harness

import (
	"fmt"

	"github.com/roach88/entitycache/internal/graph"
	"github.com/roach88/entitycache/internal/schema"
	"github.com/roach88/entitycache/internal/testutil"
)

// Run executes a scenario on a fresh graph.
//
// Steps are applied in order; a failing step is recorded as an error and
// the run continues. The returned error is reserved for scenarios that
// cannot run at all (bad schema).
func Run(scenario *Scenario) (*Result, error) {
	sch, err := loadSchema(scenario)
	if err != nil {
		return nil, err
	}

	g, err := graph.New(sch,
		graph.WithLogger(testutil.DiscardLogger()),
		graph.WithClock(testutil.NewDeterministicClock()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		op, err := step.FeedOp()
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
			continue
		}
		op.Seq = int64(i + 1)
		if err := g.Apply(op); err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		}
	}

	for _, ev := range g.Trace() {
		result.Trace = append(result.Trace, TraceEvent{
			Seq:   ev.Seq,
			Step:  ev.OpSeq,
			Cache: ev.Cache,
			Kind:  string(ev.Kind),
			ID:    ev.ID,
		})
	}
	result.Snapshot = g.Snapshot()

	for _, msg := range EvaluateAssertions(result, g, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func loadSchema(s *Scenario) (*schema.Schema, error) {
	if s.SchemaSource != "" {
		sch, err := schema.CompileString(s.SchemaSource, s.Name+".cue")
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema: %w", err)
		}
		return sch, nil
	}
	sch, err := schema.LoadDir(s.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return sch, nil
}
