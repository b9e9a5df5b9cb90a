package harness

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/roach88/entitycache/internal/cache"
	"github.com/roach88/entitycache/internal/graph"
	"github.com/roach88/entitycache/internal/value"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d: %s %s %d\n", ev.Seq, ev.Step, ev.Cache, ev.Kind, ev.ID)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, g *graph.Graph, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, g, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, g *graph.Graph, a Assertion) error {
	switch a.Type {
	case AssertEventCount:
		return assertEventCount(result.Trace, a)
	case AssertOrder:
		return assertOrder(result.Trace, a)
	}

	c, ok := g.Cache(a.Cache)
	if !ok {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("cache %q", a.Cache), Actual: "no such cache"}
	}

	switch a.Type {
	case AssertCount:
		if c.Len() != *a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d entities in %s", *a.Count, a.Cache),
				Actual:   fmt.Sprintf("%d", c.Len()),
			}
		}
		return nil
	case AssertPresent, AssertAbsent:
		_, present := c.Get(a.ID)
		if present == (a.Type == AssertPresent) {
			return nil
		}
		actual := "absent"
		if present {
			actual = "present"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %d %s", a.Cache, a.ID, a.Type),
			Actual:   actual,
			Trace:    result.Trace,
		}
	}

	e, ok := c.Get(a.ID)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %d present", a.Cache, a.ID),
			Actual:   "absent",
			Trace:    result.Trace,
		}
	}

	switch a.Type {
	case AssertField:
		return assertField(e, a)
	case AssertResolved:
		return assertResolved(e, a)
	case AssertUnresolved:
		if target, ok := slotTarget(e, a); ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s %d %s[%d] unresolved", a.Cache, a.ID, a.Field, a.Slot),
				Actual:   fmt.Sprintf("resolved to %d", target.ID),
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertField(e *cache.Record, a Assertion) error {
	actual, has := e.Field(a.Field)
	if a.Value == nil {
		if !has || isNull(actual) {
			return nil
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s absent", a.Field),
			Actual:   render(actual),
		}
	}

	want, err := value.FromGo(a.Value)
	if err != nil {
		return fmt.Errorf("expected value: %w", err)
	}
	if !has {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s = %s", a.Field, render(want)), Actual: "absent"}
	}
	if !sameValue(want, actual) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s = %s", a.Field, render(want)),
			Actual:   render(actual),
		}
	}
	return nil
}

func assertResolved(e *cache.Record, a Assertion) error {
	target, ok := slotTarget(e, a)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %d %s[%d] resolved", a.Cache, a.ID, a.Field, a.Slot),
			Actual:   "unresolved",
		}
	}
	if a.Target != nil && target.ID != *a.Target {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s[%d] -> %d", a.Field, a.Slot, *a.Target),
			Actual:   fmt.Sprintf("-> %d", target.ID),
		}
	}
	return nil
}

// slotTarget returns the live entity bound to the asserted slot.
func slotTarget(e *cache.Record, a Assertion) (*cache.Record, bool) {
	refs := e.Links[a.Field]
	if a.Slot >= len(refs) {
		return nil, false
	}
	return refs[a.Slot].Get()
}

func assertEventCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if (a.Cache == "" || ev.Cache == a.Cache) && (a.Kind == "" || ev.Kind == a.Kind) {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d events (cache=%q kind=%q)", *a.Count, a.Cache, a.Kind),
			Actual:   fmt.Sprintf("%d events", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertOrder checks that the events occur in the given order; other
// events may occur in between.
func assertOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, want := range a.Events {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if ev.Cache == want.Cache && ev.Kind == want.Kind && ev.ID == want.ID {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("%s missing or out of order", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

func isNull(v value.Value) bool {
	_, null := v.(value.Null)
	return v == nil || null
}

// sameValue compares canonical encodings; object key order does not matter.
func sameValue(a, b value.Value) bool {
	ea, errA := value.MarshalCanonical(a)
	eb, errB := value.MarshalCanonical(b)
	return errA == nil && errB == nil && bytes.Equal(ea, eb)
}

func render(v value.Value) string {
	data, err := value.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
