package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lumora/pulse/internal/engine"
	"github.com/lumora/pulse/internal/model"
	"github.com/lumora/pulse/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes the full trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nDispatch trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s -> %s\n", event.Seq, event.Action, event.Subscriber)
		}
	}

	return buf.String()
}

// AssertionContext provides engine access for state assertions.
type AssertionContext struct {
	Ctx    context.Context
	Engine *engine.Engine
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var msgs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertDispatchContains:
			err = assertDispatchContains(result.Trace, assertion)
		case AssertDispatchOrder:
			err = assertDispatchOrder(result.Trace, assertion)
		case AssertDispatchCount:
			err = assertDispatchCount(result.Trace, assertion)
		case AssertProfile:
			err = assertProfile(actx, assertion, result.Trace)
		case AssertInstance:
			err = assertInstance(actx, assertion, result.Trace)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}

	return msgs
}

// assertDispatchContains checks that the trace contains a dispatch
// matching the action, optional subscriber, and params (subset match).
func assertDispatchContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Action != assertion.Action {
			continue
		}
		if assertion.Subscriber != "" && event.Subscriber != assertion.Subscriber {
			continue
		}
		if matchParams(event.Params, assertion.Params) {
			return nil
		}
	}

	expected := fmt.Sprintf("action %s", assertion.Action)
	if assertion.Subscriber != "" {
		expected += " for " + assertion.Subscriber
	}
	if len(assertion.Params) > 0 {
		expected += fmt.Sprintf(" with params %v", assertion.Params)
	}
	return &AssertionError{
		Type:     AssertDispatchContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertDispatchOrder checks that actions appear in the given order.
// Actions don't need to be consecutive (intervening dispatches are allowed).
func assertDispatchOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, event := range trace {
		if assertion.Subscriber != "" && event.Subscriber != assertion.Subscriber {
			continue
		}
		if pos < len(assertion.Actions) && event.Action == assertion.Actions[pos] {
			pos++
		}
	}

	if pos < len(assertion.Actions) {
		return &AssertionError{
			Type:     AssertDispatchOrder,
			Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
			Actual:   fmt.Sprintf("only matched the first %d", pos),
			Trace:    trace,
		}
	}

	return nil
}

// assertDispatchCount checks that the action was dispatched exactly
// the given number of times.
func assertDispatchCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Action != assertion.Action {
			continue
		}
		if assertion.Subscriber != "" && event.Subscriber != assertion.Subscriber {
			continue
		}
		count++
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertDispatchCount,
			Expected: fmt.Sprintf("%d dispatch(es) of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d dispatch(es)", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertProfile checks a subscriber profile against the expected shape.
// Only the fields set on the assertion are validated.
func assertProfile(actx *AssertionContext, assertion Assertion, trace []TraceEvent) error {
	p, err := actx.Engine.GetProfile(actx.Ctx, assertion.Subscriber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &AssertionError{
				Type:     AssertProfile,
				Expected: fmt.Sprintf("profile for %s", assertion.Subscriber),
				Actual:   "profile not found",
				Trace:    trace,
			}
		}
		return fmt.Errorf("loading profile %s: %w", assertion.Subscriber, err)
	}

	if assertion.Contact != "" && p.Contact != assertion.Contact {
		return &AssertionError{
			Type:     AssertProfile,
			Expected: fmt.Sprintf("contact %q", assertion.Contact),
			Actual:   fmt.Sprintf("contact %q", p.Contact),
			Trace:    trace,
		}
	}

	if assertion.LifetimeValue != nil && p.LifetimeValue != *assertion.LifetimeValue {
		return &AssertionError{
			Type:     AssertProfile,
			Expected: fmt.Sprintf("lifetime value %v", *assertion.LifetimeValue),
			Actual:   fmt.Sprintf("lifetime value %v", p.LifetimeValue),
			Trace:    trace,
		}
	}

	if assertion.Events != nil && len(p.Events) != *assertion.Events {
		return &AssertionError{
			Type:     AssertProfile,
			Expected: fmt.Sprintf("%d recorded event(s)", *assertion.Events),
			Actual:   fmt.Sprintf("%d recorded event(s)", len(p.Events)),
			Trace:    trace,
		}
	}

	if assertion.Segments != nil && !sameStringSet(p.Segments, assertion.Segments) {
		return &AssertionError{
			Type:     AssertProfile,
			Expected: fmt.Sprintf("segments %v", assertion.Segments),
			Actual:   fmt.Sprintf("segments %v", p.Segments),
			Trace:    trace,
		}
	}

	return nil
}

// assertInstance checks an automation instance's status and step index.
func assertInstance(actx *AssertionContext, assertion Assertion, trace []TraceEvent) error {
	inst, err := actx.Engine.Instance(actx.Ctx, assertion.Automation, assertion.Subscriber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &AssertionError{
				Type:     AssertInstance,
				Expected: fmt.Sprintf("instance %s/%s", assertion.Automation, assertion.Subscriber),
				Actual:   "instance not found",
				Trace:    trace,
			}
		}
		return fmt.Errorf("loading instance %s/%s: %w", assertion.Automation, assertion.Subscriber, err)
	}

	if string(inst.Status) != assertion.Status {
		return &AssertionError{
			Type:     AssertInstance,
			Expected: fmt.Sprintf("status %s", assertion.Status),
			Actual:   fmt.Sprintf("status %s", inst.Status),
			Trace:    trace,
		}
	}

	return nil
}

// matchParams checks that actual params contain all expected values
// (subset match). Extra keys in actual are ignored.
func matchParams(actual model.Object, expected map[string]interface{}) bool {
	if len(expected) == 0 {
		return true
	}

	want, err := model.ObjectFromAny(expected)
	if err != nil {
		return false
	}

	for key, expectedVal := range want {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !model.Equal(actualVal, expectedVal) {
			return false
		}
	}

	return true
}

// sameStringSet reports whether two slices hold the same strings,
// ignoring order.
func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
