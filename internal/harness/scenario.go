package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/entitycache/internal/feed"
	"github.com/roach88/entitycache/internal/value"
)

// Scenario is a harness test case.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Schema is a directory of CUE files, relative to the scenario file.
	Schema string `yaml:"schema,omitempty"`

	// SchemaSource is inline CUE, used instead of Schema.
	SchemaSource string `yaml:"schema_source,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one feed op.
type Step struct {
	Cache    string           `yaml:"cache"`
	Op       string           `yaml:"op"`
	Payloads []map[string]any `yaml:"payloads,omitempty"`
	IDs      []int64          `yaml:"ids,omitempty"`
}

// FeedOp converts the step into a validated feed op.
func (s Step) FeedOp() (feed.Op, error) {
	op := feed.Op{Cache: s.Cache, Kind: feed.Kind(s.Op), IDs: s.IDs}
	for i, p := range s.Payloads {
		v, err := value.FromGo(p)
		if err != nil {
			return feed.Op{}, fmt.Errorf("payloads[%d]: %w", i, err)
		}
		op.Payloads = append(op.Payloads, v.(value.Object))
	}
	if err := op.Validate(); err != nil {
		return feed.Op{}, err
	}
	return op, nil
}

// Assertion checks the final graph state or the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Cache string `yaml:"cache,omitempty"`
	ID    int64  `yaml:"id,omitempty"`

	// Field is a stored field (field) or a resolved field (resolved,
	// unresolved).
	Field string `yaml:"field,omitempty"`
	// Value is the expected field value; omitted means absent or null.
	Value any `yaml:"value,omitempty"`

	// Slot indexes list dependencies; 0 for single ones.
	Slot int `yaml:"slot,omitempty"`
	// Target is the expected resolved id (resolved).
	Target *int64 `yaml:"target,omitempty"`

	// Kind filters events (event_count): added, removed or cleared.
	Kind  string `yaml:"kind,omitempty"`
	Count *int   `yaml:"count,omitempty"`

	// Events must appear in the trace in this order (order).
	Events []EventRef `yaml:"events,omitempty"`
}

// EventRef names a trace event.
type EventRef struct {
	Cache string `yaml:"cache"`
	Kind  string `yaml:"kind"`
	ID    int64  `yaml:"id"`
}

func (e EventRef) String() string {
	return fmt.Sprintf("%s %s %d", e.Cache, e.Kind, e.ID)
}

// Assertion type constants.
const (
	AssertCount      = "count"
	AssertPresent    = "present"
	AssertAbsent     = "absent"
	AssertField      = "field"
	AssertResolved   = "resolved"
	AssertUnresolved = "unresolved"
	AssertEventCount = "event_count"
	AssertOrder      = "order"
)

// LoadScenario reads a scenario file. Unknown fields are rejected and a
// relative schema path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Schema == "" && s.SchemaSource == "":
		return fmt.Errorf("schema or schema_source is required")
	case s.Schema != "" && s.SchemaSource != "":
		return fmt.Errorf("schema and schema_source are mutually exclusive")
	case s.Schema != "":
		if _, err := os.Stat(s.Schema); os.IsNotExist(err) {
			return fmt.Errorf("schema directory not found: %s", s.Schema)
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if _, err := step.FeedOp(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertCount:
		if a.Cache == "" || a.Count == nil {
			return fmt.Errorf("%s requires cache and count", a.Type)
		}
	case AssertPresent, AssertAbsent:
		if a.Cache == "" {
			return fmt.Errorf("%s requires cache", a.Type)
		}
	case AssertField, AssertResolved, AssertUnresolved:
		if a.Cache == "" || a.Field == "" {
			return fmt.Errorf("%s requires cache and field", a.Type)
		}
		if a.Slot < 0 {
			return fmt.Errorf("slot must not be negative")
		}
	case AssertEventCount:
		if a.Count == nil {
			return fmt.Errorf("%s requires count", a.Type)
		}
	case AssertOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("%s requires at least two events", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
