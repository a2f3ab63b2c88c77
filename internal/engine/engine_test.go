package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/dispatch"
	"github.com/lumora/pulse/internal/model"
	"github.com/lumora/pulse/internal/store"
	"github.com/lumora/pulse/internal/store/sqlite"
	"github.com/lumora/pulse/internal/testutil"
)

var engineNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type traceDispatcher struct {
	mu       sync.Mutex
	requests []dispatch.Request
}

func (d *traceDispatcher) Dispatch(_ context.Context, req dispatch.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return nil
}

func (d *traceDispatcher) snapshot() []dispatch.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dispatch.Request, len(d.requests))
	copy(out, d.requests)
	return out
}

type engineFixture struct {
	engine     *Engine
	clk        *testutil.FakeClock
	dispatched *traceDispatcher
	repo       *sqlite.Store
}

func newEngineFixture(t *testing.T, defs Definitions) *engineFixture {
	t.Helper()
	repo, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	f := &engineFixture{
		clk:        testutil.NewFakeClock(engineNow),
		dispatched: &traceDispatcher{},
		repo:       repo,
	}
	f.engine, err = New(Deps{
		Profiles:    repo,
		Instances:   repo,
		Definitions: repo,
		Dispatcher:  f.dispatched,
		Clock:       f.clk,
		IDs:         testutil.NewFixedIDGenerator("evt"),
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, f.engine.LoadDefinitions(ctx, defs))
	require.NoError(t, f.engine.Start(ctx))
	return f
}

func discountRule(id string, priority int, threshold float64) model.PersonalizationRule {
	return model.PersonalizationRule{
		ID:       id,
		Priority: priority,
		Enabled:  true,
		Conditions: []model.RuleCondition{{
			Field:    "lifetimeValue",
			Operator: model.OpGreaterThan,
			Value:    model.Number(threshold),
		}},
		Actions: []model.RuleAction{{
			Type: model.ActionApplyDiscount,
			Params: model.Object{
				"discountKind": model.String("percentage"),
				"value":        model.Number(20),
			},
		}},
	}
}

func TestTrackBehavior_DispatchesMatchingRulesByPriority(t *testing.T) {
	r1 := discountRule("r1", 5, 100)
	r1.Actions = []model.RuleAction{{
		Type:   model.ActionShowContent,
		Params: model.Object{"contentId": model.String("banner-low")},
	}}
	r2 := discountRule("r2", 9, 100)
	r2.Actions = []model.RuleAction{{
		Type:   model.ActionShowContent,
		Params: model.Object{"contentId": model.String("banner-high")},
	}}
	f := newEngineFixture(t, Definitions{Rules: []model.PersonalizationRule{r1, r2}})

	_, err := f.engine.TrackBehavior(context.Background(), "sub_1", model.EventPurchase,
		model.Object{"value": model.Number(500)})
	require.NoError(t, err)

	reqs := f.dispatched.snapshot()
	require.Len(t, reqs, 2)
	assert.Equal(t, model.String("banner-high"), reqs[0].Action.Params["contentId"], "higher priority dispatches first")
	assert.Equal(t, model.String("banner-low"), reqs[1].Action.Params["contentId"])
}

func TestTrackBehavior_EndToEnd(t *testing.T) {
	defs := Definitions{
		Rules: []model.PersonalizationRule{discountRule("high-value-customer", 5, 500)},
		Segments: []model.SegmentDefinition{{
			Name: "vip-customers",
			Conditions: []model.RuleCondition{
				{Field: "lifetimeValue", Operator: model.OpGreaterThan, Value: model.Number(1000)},
				{Field: "behavior.bookings.length", Operator: model.OpGreaterThan, Value: model.Number(5)},
			},
		}},
		Automations: []model.Automation{{
			ID:     "welcome-series",
			Status: model.AutomationActive,
			Trigger: model.AutomationTrigger{
				Kind: model.EventSignup,
				Conditions: []model.RuleCondition{{
					Field:    "createdAt",
					Operator: model.OpInLastDays,
					Value:    model.Number(7),
				}},
			},
			Steps: []model.AutomationStep{{
				DelayMinutes: 60,
				Action: model.RuleAction{
					Type:   model.ActionSendEmail,
					Params: model.Object{"templateId": model.String("welcome-1")},
				},
			}},
		}},
	}
	f := newEngineFixture(t, defs)
	ctx := context.Background()

	// Six bookings worth 200 each, spread over a month
	_, err := f.engine.TrackBehavior(ctx, "sub_1", model.EventProfileUpdate,
		model.Object{"contact": model.String("amelie@example.com")})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		f.clk.Advance(5 * 24 * time.Hour)
		_, err = f.engine.TrackBehavior(ctx, "sub_1", model.EventBooking,
			model.Object{"value": model.Number(200)})
		require.NoError(t, err)
	}

	p, err := f.engine.GetProfile(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, 1200.0, p.LifetimeValue)
	assert.True(t, p.InSegment("vip-customers"))

	// The discount rule matched on the later bookings
	var discounts int
	for _, req := range f.dispatched.snapshot() {
		if req.Action.Type == model.ActionApplyDiscount {
			discounts++
		}
	}
	assert.Greater(t, discounts, 0)

	// A signup event now does not start welcome-series: the profile is
	// a month old, outside the trigger window
	_, err = f.engine.TrackBehavior(ctx, "sub_1", model.EventSignup, nil)
	require.NoError(t, err)
	_, err = f.engine.Instance(ctx, "welcome-series", "sub_1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTrackBehavior_StartsMatchingAutomation(t *testing.T) {
	defs := Definitions{
		Automations: []model.Automation{{
			ID:      "welcome-series",
			Status:  model.AutomationActive,
			Trigger: model.AutomationTrigger{Kind: model.EventSignup},
			Steps: []model.AutomationStep{{
				DelayMinutes: 60,
				Action: model.RuleAction{
					Type:   model.ActionSendEmail,
					Params: model.Object{"templateId": model.String("welcome-1")},
				},
			}},
		}},
	}
	f := newEngineFixture(t, defs)
	ctx := context.Background()

	_, err := f.engine.TrackBehavior(ctx, "sub_1", model.EventSignup,
		model.Object{"contact": model.String("amelie@example.com")})
	require.NoError(t, err)

	inst, err := f.engine.Instance(ctx, "welcome-series", "sub_1")
	require.NoError(t, err)
	assert.Equal(t, model.InstanceActive, inst.Status)
	assert.True(t, inst.DueAt.Equal(engineNow.Add(time.Hour)))
}

func TestRuleAdmin_PersistsAcrossRestore(t *testing.T) {
	f := newEngineFixture(t, Definitions{})
	ctx := context.Background()

	require.NoError(t, f.engine.AddRule(ctx, discountRule("r1", 5, 100)))
	require.Error(t, f.engine.AddRule(ctx, discountRule("r1", 5, 100)), "duplicate id rejected")

	enabled := false
	require.NoError(t, f.engine.UpdateRule(ctx, "r1", &enabled, nil))

	// A fresh engine over the same storage sees the edited rule
	restored, err := New(Deps{
		Profiles:    f.repo,
		Instances:   f.repo,
		Definitions: f.repo,
		Dispatcher:  &traceDispatcher{},
		Clock:       f.clk,
		IDs:         testutil.NewFixedIDGenerator("evt"),
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx))

	ruleSet := restored.Rules()
	require.Len(t, ruleSet, 1)
	assert.Equal(t, "r1", ruleSet[0].ID)
	assert.False(t, ruleSet[0].Enabled)

	require.NoError(t, f.engine.RemoveRule(ctx, "r1"))
	assert.Error(t, f.engine.RemoveRule(ctx, "r1"))
	assert.Empty(t, f.engine.Rules())
}

func TestSegmentAdmin_RecomputesStoredProfiles(t *testing.T) {
	f := newEngineFixture(t, Definitions{})
	ctx := context.Background()

	_, err := f.engine.TrackBehavior(ctx, "sub_1", model.EventPurchase,
		model.Object{"value": model.Number(2000)})
	require.NoError(t, err)

	require.NoError(t, f.engine.AddSegmentDefinition(ctx, model.SegmentDefinition{
		Name: "high-value",
		Conditions: []model.RuleCondition{{
			Field:    "lifetimeValue",
			Operator: model.OpGreaterThan,
			Value:    model.Number(1000),
		}},
	}))

	p, err := f.engine.GetProfile(ctx, "sub_1")
	require.NoError(t, err)
	assert.True(t, p.InSegment("high-value"))

	require.NoError(t, f.engine.RemoveSegmentDefinition(ctx, "high-value"))
	p, err = f.engine.GetProfile(ctx, "sub_1")
	require.NoError(t, err)
	assert.False(t, p.InSegment("high-value"))
}

func TestAutomationAdmin_PauseStopsTriggers(t *testing.T) {
	defs := Definitions{
		Automations: []model.Automation{{
			ID:      "welcome-series",
			Status:  model.AutomationActive,
			Trigger: model.AutomationTrigger{Kind: model.EventSignup},
			Steps: []model.AutomationStep{{
				DelayMinutes: 60,
				Action: model.RuleAction{
					Type:   model.ActionSendEmail,
					Params: model.Object{"templateId": model.String("welcome-1")},
				},
			}},
		}},
	}
	f := newEngineFixture(t, defs)
	ctx := context.Background()

	require.NoError(t, f.engine.PauseAutomation(ctx, "welcome-series"))
	_, err := f.engine.TrackBehavior(ctx, "sub_1", model.EventSignup, nil)
	require.NoError(t, err)
	_, err = f.engine.Instance(ctx, "welcome-series", "sub_1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, f.engine.ResumeAutomation(ctx, "welcome-series"))
	_, err = f.engine.TrackBehavior(ctx, "sub_2", model.EventSignup, nil)
	require.NoError(t, err)
	inst, err := f.engine.Instance(ctx, "welcome-series", "sub_2")
	require.NoError(t, err)
	assert.Equal(t, model.InstanceActive, inst.Status)

	assert.Error(t, f.engine.PauseAutomation(ctx, "nope"))
}

func TestCancelInstance(t *testing.T) {
	defs := Definitions{
		Automations: []model.Automation{{
			ID:      "welcome-series",
			Status:  model.AutomationActive,
			Trigger: model.AutomationTrigger{Kind: model.EventSignup},
			Steps: []model.AutomationStep{{
				DelayMinutes: 60,
				Action: model.RuleAction{
					Type:   model.ActionSendEmail,
					Params: model.Object{"templateId": model.String("welcome-1")},
				},
			}},
		}},
	}
	f := newEngineFixture(t, defs)
	ctx := context.Background()

	_, err := f.engine.TrackBehavior(ctx, "sub_1", model.EventSignup, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.CancelInstance(ctx, "welcome-series", "sub_1", "unsubscribed"))

	inst, err := f.engine.Instance(ctx, "welcome-series", "sub_1")
	require.NoError(t, err)
	assert.Equal(t, model.InstanceCancelled, inst.Status)
	assert.Equal(t, "unsubscribed", inst.FailureReason)
}
