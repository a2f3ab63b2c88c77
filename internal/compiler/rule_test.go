package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/pulse/internal/model"
)

func TestCompileRuleBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		rule: "curly-hair-banner": {
			kind:     "content"
			priority: 9

			conditions: [{
				field:    "preferences.hairType"
				operator: "equals"
				value:    "curly"
			}]

			actions: [{
				type: "show_content"
				params: { contentId: "curly-banner" }
			}]
		}
	`)

	require.NoError(t, v.Err())
	ruleVal := v.LookupPath(cue.ParsePath(`rule."curly-hair-banner"`))

	rule, err := CompileRule(ruleVal)
	require.NoError(t, err)

	assert.Equal(t, "curly-hair-banner", rule.ID)
	assert.Equal(t, "content", rule.Kind)
	assert.Equal(t, 9, rule.Priority)
	assert.True(t, rule.Enabled, "enabled defaults to true")
	require.Len(t, rule.Conditions, 1)
	assert.Equal(t, "preferences.hairType", rule.Conditions[0].Field)
	assert.Equal(t, model.OpEquals, rule.Conditions[0].Operator)
	assert.Equal(t, model.String("curly"), rule.Conditions[0].Value)
	require.Len(t, rule.Actions, 1)
	assert.Equal(t, model.ActionShowContent, rule.Actions[0].Type)
	assert.Equal(t, model.String("curly-banner"), rule.Actions[0].Params["contentId"])
}

func TestCompileRuleDisabled(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		rule: "retired": {
			enabled: false
			actions: [{ type: "track_event", params: { name: "noop" } }]
		}
	`)

	require.NoError(t, v.Err())
	rule, err := CompileRule(v.LookupPath(cue.ParsePath(`rule."retired"`)))
	require.NoError(t, err)
	assert.False(t, rule.Enabled)
}

func TestCompileRuleValueKinds(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		rule: "mixed": {
			conditions: [
				{ field: "lifetimeValue", operator: "greater_than", value: 500 },
				{ field: "preferences.scent", operator: "in", value: ["citrus", "floral"] },
				{ field: "preferences.optedIn", operator: "equals", value: true },
			]
			actions: [{ type: "apply_discount", params: { discountKind: "percentage", value: 20 } }]
		}
	`)

	require.NoError(t, v.Err())
	rule, err := CompileRule(v.LookupPath(cue.ParsePath(`rule."mixed"`)))
	require.NoError(t, err)

	require.Len(t, rule.Conditions, 3)
	assert.Equal(t, model.Number(500), rule.Conditions[0].Value)
	assert.Equal(t, model.Array{model.String("citrus"), model.String("floral")}, rule.Conditions[1].Value)
	assert.Equal(t, model.Bool(true), rule.Conditions[2].Value)
	assert.Equal(t, model.Number(20), rule.Actions[0].Params["value"])
}

func TestCompileRuleMissingActions(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		rule: "empty": {
			conditions: [{ field: "x", operator: "exists" }]
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileRule(v.LookupPath(cue.ParsePath(`rule."empty"`)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action")
}

func TestCompileRuleUnknownOperator(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		rule: "bad-op": {
			conditions: [{ field: "x", operator: "sounds_like", value: "y" }]
			actions: [{ type: "track_event", params: { name: "n" } }]
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileRule(v.LookupPath(cue.ParsePath(`rule."bad-op"`)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sounds_like")
}

func TestCompileRuleUnknownActionType(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		rule: "bad-action": {
			actions: [{ type: "teleport" }]
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileRule(v.LookupPath(cue.ParsePath(`rule."bad-action"`)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}
