package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/model"
)

var rulesNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func makeRule(id string, priority int, conds ...model.RuleCondition) model.PersonalizationRule {
	return model.PersonalizationRule{
		ID:         id,
		Conditions: conds,
		Actions: []model.RuleAction{
			{Type: model.ActionTrackEvent, Params: model.Object{"name": model.String(id)}},
		},
		Priority: priority,
		Enabled:  true,
	}
}

func highValueCond() model.RuleCondition {
	return model.RuleCondition{Field: "lifetimeValue", Operator: model.OpGreaterThan, Value: model.Number(500)}
}

func TestApply_PriorityDescending(t *testing.T) {
	r1 := makeRule("r1", 5, highValueCond())
	r2 := makeRule("r2", 9, highValueCond())
	eng, err := NewEngine([]model.PersonalizationRule{r1, r2}, zap.NewNop())
	require.NoError(t, err)

	snap := model.Object{"lifetimeValue": model.Number(1200)}
	got := eng.Apply(snap, rulesNow)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].RuleID, "higher priority dispatches first")
	assert.Equal(t, "r1", got[1].RuleID)
}

func TestApply_StableTieBreakByDeclarationOrder(t *testing.T) {
	a := makeRule("a", 5)
	b := makeRule("b", 5)
	c := makeRule("c", 5)
	eng, err := NewEngine([]model.PersonalizationRule{a, b, c}, zap.NewNop())
	require.NoError(t, err)

	got := eng.Apply(model.Object{}, rulesNow)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].RuleID, got[1].RuleID, got[2].RuleID})
}

func TestApply_SkipsDisabledRules(t *testing.T) {
	r := makeRule("r1", 1)
	r.Enabled = false
	eng, err := NewEngine([]model.PersonalizationRule{r}, zap.NewNop())
	require.NoError(t, err)

	assert.Empty(t, eng.Apply(model.Object{}, rulesNow))
}

func TestApply_NoShortCircuit(t *testing.T) {
	// Both rules match; firing one must not suppress the other
	r1 := makeRule("r1", 9, highValueCond())
	r2 := makeRule("r2", 1, highValueCond())
	eng, err := NewEngine([]model.PersonalizationRule{r1, r2}, zap.NewNop())
	require.NoError(t, err)

	snap := model.Object{"lifetimeValue": model.Number(600)}
	assert.Len(t, eng.Apply(snap, rulesNow), 2)
}

func TestApply_FlattensActionsInRuleOrder(t *testing.T) {
	r := model.PersonalizationRule{
		ID:      "multi",
		Enabled: true,
		Actions: []model.RuleAction{
			{Type: model.ActionSendEmail, Params: model.Object{"templateId": model.String("welcome")}},
			{Type: model.ActionTrackEvent, Params: model.Object{"name": model.String("welcomed")}},
		},
	}
	eng, err := NewEngine([]model.PersonalizationRule{r}, zap.NewNop())
	require.NoError(t, err)

	got := eng.Apply(model.Object{}, rulesNow)
	require.Len(t, got, 2)
	assert.Equal(t, model.ActionSendEmail, got[0].Action.Type)
	assert.Equal(t, model.ActionTrackEvent, got[1].Action.Type)
}

func TestAdd_RejectsDuplicateAndInvalid(t *testing.T) {
	eng, err := NewEngine(nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, eng.Add(makeRule("r1", 1)))
	assert.Error(t, eng.Add(makeRule("r1", 2)), "duplicate id")

	bad := makeRule("r2", 1)
	bad.Actions = nil
	assert.Error(t, eng.Add(bad), "rule without actions")

	bad = makeRule("r3", 1, model.RuleCondition{Field: "x", Operator: model.Operator("regex")})
	assert.Error(t, eng.Add(bad), "unknown operator")

	bad = makeRule("r4", 1)
	bad.Actions = []model.RuleAction{{Type: model.ActionType("explode")}}
	assert.Error(t, eng.Add(bad), "unknown action type")
}

func TestUpdate_EditsEnabledAndPriorityOnly(t *testing.T) {
	eng, err := NewEngine([]model.PersonalizationRule{makeRule("r1", 1), makeRule("r2", 1)}, zap.NewNop())
	require.NoError(t, err)

	disabled := false
	prio := 10
	require.NoError(t, eng.Update("r1", &disabled, &prio))

	rulesOut := eng.Rules()
	assert.False(t, rulesOut[0].Enabled)
	assert.Equal(t, 10, rulesOut[0].Priority)
	assert.Equal(t, "r1", rulesOut[0].ID, "update keeps declaration position")

	assert.Error(t, eng.Update("missing", &disabled, nil))
}

func TestRemove(t *testing.T) {
	eng, err := NewEngine([]model.PersonalizationRule{makeRule("r1", 1)}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, eng.Remove("r1"))
	assert.Empty(t, eng.Rules())
	assert.Error(t, eng.Remove("r1"))
}
