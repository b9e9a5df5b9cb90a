package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/entitycache/internal/value"
)

// GoldenDir is where RunWithGolden keeps its fixtures.
const GoldenDir = "testdata/golden"

// Golden renders a run as canonical JSON: the scenario name, the trace and
// the final snapshot. Cleared events carry no id.
func Golden(name string, result *Result) ([]byte, error) {
	trace := make(value.Array, len(result.Trace))
	for i, ev := range result.Trace {
		obj := value.Obj(
			value.O("seq", value.Int(ev.Seq)),
			value.O("step", value.Int(ev.Step)),
			value.O("cache", value.String(ev.Cache)),
			value.O("kind", value.String(ev.Kind)),
		)
		if ev.Kind != "cleared" {
			obj["id"] = value.Int(ev.ID)
		}
		trace[i] = obj
	}
	return value.MarshalCanonical(value.Obj(
		value.O("scenario", value.String(name)),
		value.O("trace", trace),
		value.O("snapshot", result.Snapshot),
	))
}

// RunWithGolden runs scenario and compares its golden rendering against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Golden(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
