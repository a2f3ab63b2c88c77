package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios feed behavioral events into a fresh engine under a fake
// clock and assert on the dispatched actions and final state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Defs is the path to the CUE definitions directory.
	// Relative paths resolve against the scenario file location.
	Defs string `yaml:"defs"`

	// Start pins the fake clock's starting instant (RFC 3339).
	// Defaults to 2025-06-01T00:00:00Z when empty.
	Start string `yaml:"start,omitempty"`

	// Steps is the sequence of events, clock advances, and cancels.
	Steps []Step `yaml:"steps"`

	// Assertions validate the dispatch trace and final state.
	// Supported types: dispatch_contains, dispatch_order, dispatch_count,
	// profile, instance
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario step. Exactly one of Event, Advance, or Cancel
// must be set.
type Step struct {
	// Event feeds a behavioral event into the engine.
	Event *EventStep `yaml:"event,omitempty"`

	// Advance moves the fake clock forward by the given number of
	// minutes, firing any automation steps that come due.
	Advance int `yaml:"advance,omitempty"`

	// Cancel cancels a running automation instance.
	Cancel *CancelStep `yaml:"cancel,omitempty"`
}

// EventStep is a single behavioral event.
type EventStep struct {
	// Subscriber is the subscriber id the event belongs to.
	Subscriber string `yaml:"subscriber"`

	// Kind is the event kind (e.g. "signup", "purchase").
	Kind string `yaml:"kind"`

	// Properties is the free-form event payload.
	Properties map[string]interface{} `yaml:"properties,omitempty"`
}

// CancelStep cancels one automation instance.
type CancelStep struct {
	Automation string `yaml:"automation"`
	Subscriber string `yaml:"subscriber"`
	Reason     string `yaml:"reason,omitempty"`
}

// Assertion validates the dispatch trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "dispatch_contains": an action was dispatched (subset match on params)
	// - "dispatch_order": actions were dispatched in order
	// - "dispatch_count": an action was dispatched exactly N times
	// - "profile": a subscriber profile has the expected shape
	// - "instance": an automation instance has the expected state
	Type string `yaml:"type"`

	// Action is the action type (used by dispatch_contains, dispatch_count).
	Action string `yaml:"action,omitempty"`

	// Actions is the expected dispatch order (used by dispatch_order).
	Actions []string `yaml:"actions,omitempty"`

	// Subscriber scopes the assertion to one subscriber.
	// Required for profile and instance; optional for dispatch assertions.
	Subscriber string `yaml:"subscriber,omitempty"`

	// Params are expected action params (used by dispatch_contains).
	// Subset match - only specified fields are validated.
	Params map[string]interface{} `yaml:"params,omitempty"`

	// Count is the expected number of dispatches (used by dispatch_count).
	Count int `yaml:"count,omitempty"`

	// Automation is the automation id (used by instance).
	Automation string `yaml:"automation,omitempty"`

	// Status is the expected instance status (used by instance).
	Status string `yaml:"status,omitempty"`

	// Segments is the expected segment set (used by profile). Exact match,
	// order-insensitive.
	Segments []string `yaml:"segments,omitempty"`

	// LifetimeValue is the expected lifetime value (used by profile).
	LifetimeValue *float64 `yaml:"lifetime_value,omitempty"`

	// Events is the expected recorded event count (used by profile).
	Events *int `yaml:"events,omitempty"`

	// Contact is the expected contact address (used by profile).
	Contact string `yaml:"contact,omitempty"`
}

// Assertion type constants.
const (
	AssertDispatchContains = "dispatch_contains"
	AssertDispatchOrder    = "dispatch_order"
	AssertDispatchCount    = "dispatch_count"
	AssertProfile          = "profile"
	AssertInstance         = "instance"
)

// defaultStart is the fake clock instant scenarios begin at unless
// they pin their own.
var defaultStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the defs path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like
	// "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve the defs path BEFORE validation
	if scenario.Defs != "" && !filepath.IsAbs(scenario.Defs) && basePath != "" {
		scenario.Defs = filepath.Join(basePath, scenario.Defs)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// startTime resolves the scenario's starting instant.
func (s *Scenario) startTime() (time.Time, error) {
	if s.Start == "" {
		return defaultStart, nil
	}
	t, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time %q: %w", s.Start, err)
	}
	return t.UTC(), nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Defs == "" {
		return fmt.Errorf("defs is required")
	}
	if info, err := os.Stat(s.Defs); os.IsNotExist(err) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("defs directory not found: %s", s.Defs)
	}

	if _, err := s.startTime(); err != nil {
		return err
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks that a step sets exactly one action.
func validateStep(index int, step *Step) error {
	set := 0
	if step.Event != nil {
		set++
	}
	if step.Advance != 0 {
		set++
	}
	if step.Cancel != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of event, advance, or cancel is required", index)
	}

	if step.Event != nil {
		if step.Event.Subscriber == "" {
			return fmt.Errorf("steps[%d].event: subscriber is required", index)
		}
		if step.Event.Kind == "" {
			return fmt.Errorf("steps[%d].event: kind is required", index)
		}
	}

	if step.Advance < 0 {
		return fmt.Errorf("steps[%d]: advance must be positive", index)
	}

	if step.Cancel != nil {
		if step.Cancel.Automation == "" {
			return fmt.Errorf("steps[%d].cancel: automation is required", index)
		}
		if step.Cancel.Subscriber == "" {
			return fmt.Errorf("steps[%d].cancel: subscriber is required", index)
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertDispatchContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for dispatch_contains", index)
		}
	case AssertDispatchOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for dispatch_order", index)
		}
	case AssertDispatchCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for dispatch_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for dispatch_count", index)
		}
	case AssertProfile:
		if a.Subscriber == "" {
			return fmt.Errorf("assertions[%d]: subscriber is required for profile", index)
		}
	case AssertInstance:
		if a.Automation == "" {
			return fmt.Errorf("assertions[%d]: automation is required for instance", index)
		}
		if a.Subscriber == "" {
			return fmt.Errorf("assertions[%d]: subscriber is required for instance", index)
		}
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for instance", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
