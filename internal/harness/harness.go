// Package harness provides a conformance testing framework for the
// personalization engine.
//
// Scenarios are YAML files that load a CUE definitions directory into a
// fresh engine over an in-memory database, feed behavioral events under
// a manually advanced clock, and assert on the actions the engine
// dispatched and the final profile and instance state. A recording
// dispatcher stands in for the external collaborators, so the trace is
// deterministic and comparable against golden files.
package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/compiler"
	"github.com/lumora/pulse/internal/dispatch"
	"github.com/lumora/pulse/internal/engine"
	"github.com/lumora/pulse/internal/model"
	"github.com/lumora/pulse/internal/store/sqlite"
	"github.com/lumora/pulse/internal/testutil"
)

// settleTimeout bounds how long a step waits for due automation work
// to drain before the scenario fails.
const settleTimeout = 2 * time.Second

// Harness executes one scenario against a fresh engine.
type Harness struct {
	engine     *engine.Engine
	store      *sqlite.Store
	clock      *testutil.FakeClock
	dispatched *recordingDispatcher
}

// recordingDispatcher captures every dispatched action instead of
// calling external collaborators. All deliveries succeed.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req dispatch.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, TraceEvent{
		Seq:           len(d.events),
		Action:        string(req.Action.Type),
		Subscriber:    req.SubscriberID,
		CorrelationID: req.CorrelationID,
		Params:        req.Action.Params,
	})
	return nil
}

func (d *recordingDispatcher) trace() []TraceEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]TraceEvent, len(d.events))
	copy(out, d.events)
	return out
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// The fake clock and fixed id generator make traces reproducible.
func Run(scenario *Scenario) (*Result, error) {
	start, err := scenario.startTime()
	if err != nil {
		return nil, err
	}

	defs, err := loadDefinitions(scenario.Defs)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}

	st, err := sqlite.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clk := testutil.NewFakeClock(start)
	dispatched := &recordingDispatcher{}

	eng, err := engine.New(engine.Deps{
		Profiles:    st,
		Instances:   st,
		Definitions: st,
		Dispatcher:  dispatched,
		Clock:       clk,
		IDs:         testutil.NewFixedIDGenerator("evt"),
		Logger:      zap.NewNop(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.LoadDefinitions(ctx, *defs); err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	h := &Harness{
		engine:     eng,
		store:      st,
		clock:      clk,
		dispatched: dispatched,
	}

	result := NewResult()
	if err := h.executeSteps(ctx, scenario.Steps); err != nil {
		return nil, err
	}

	// Let anything due at the final instant drain before asserting
	if err := h.settle(ctx); err != nil {
		return nil, err
	}

	result.Trace = dispatched.trace()

	actx := &AssertionContext{
		Ctx:    ctx,
		Engine: eng,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeSteps runs all scenario steps in order.
func (h *Harness) executeSteps(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		switch {
		case step.Event != nil:
			props, err := model.ObjectFromAny(step.Event.Properties)
			if err != nil {
				return fmt.Errorf("steps[%d]: invalid properties: %w", i, err)
			}
			if _, err := h.engine.TrackBehavior(ctx, step.Event.Subscriber, step.Event.Kind, props); err != nil {
				return fmt.Errorf("steps[%d]: track %q for %s: %w", i, step.Event.Kind, step.Event.Subscriber, err)
			}
			// Zero-delay automation steps come due at the trigger
			// instant; drain them so the trace order stays stable
			if err := h.settle(ctx); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}

		case step.Advance != 0:
			h.clock.Advance(time.Duration(step.Advance) * time.Minute)
			if err := h.settle(ctx); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}

		case step.Cancel != nil:
			if err := h.engine.CancelInstance(ctx, step.Cancel.Automation, step.Cancel.Subscriber, step.Cancel.Reason); err != nil {
				return fmt.Errorf("steps[%d]: cancel %s/%s: %w", i, step.Cancel.Automation, step.Cancel.Subscriber, err)
			}
		}
	}
	return nil
}

// settle waits until no active automation instance is due at the
// current fake instant. The zero-duration Advance fires timers the
// scheduler parked on already-passed deadlines, so progress never
// depends on goroutine interleaving.
func (h *Harness) settle(ctx context.Context) error {
	deadline := time.Now().Add(settleTimeout)
	for {
		h.clock.Advance(0)

		instances, err := h.store.ListActiveInstances(ctx)
		if err != nil {
			return fmt.Errorf("listing active instances: %w", err)
		}
		due := false
		now := h.clock.Now()
		for _, inst := range instances {
			if !inst.DueAt.After(now) {
				due = true
				break
			}
		}
		if !due {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("automation work did not settle within %s", settleTimeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// loadDefinitions compiles every CUE definition in a directory.
// Fails on the first compile error.
func loadDefinitions(dir string) (*engine.Definitions, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", err)
	}

	var defs engine.Definitions

	rulesVal := value.LookupPath(cue.ParsePath("rule"))
	if rulesVal.Exists() {
		iter, err := rulesVal.Fields()
		if err != nil {
			return nil, fmt.Errorf("iterating rules: %w", err)
		}
		for iter.Next() {
			rule, err := compiler.CompileRule(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", iter.Label(), err)
			}
			defs.Rules = append(defs.Rules, *rule)
		}
	}

	segmentsVal := value.LookupPath(cue.ParsePath("segment"))
	if segmentsVal.Exists() {
		iter, err := segmentsVal.Fields()
		if err != nil {
			return nil, fmt.Errorf("iterating segments: %w", err)
		}
		for iter.Next() {
			seg, err := compiler.CompileSegment(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("segment %s: %w", iter.Label(), err)
			}
			defs.Segments = append(defs.Segments, *seg)
		}
	}

	automationsVal := value.LookupPath(cue.ParsePath("automation"))
	if automationsVal.Exists() {
		iter, err := automationsVal.Fields()
		if err != nil {
			return nil, fmt.Errorf("iterating automations: %w", err)
		}
		for iter.Next() {
			auto, err := compiler.CompileAutomation(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("automation %s: %w", iter.Label(), err)
			}
			defs.Automations = append(defs.Automations, *auto)
		}
	}

	return &defs, nil
}
