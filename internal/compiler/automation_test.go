package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/pulse/internal/model"
)

func TestCompileAutomationBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		automation: "welcome-series": {
			trigger: {
				kind:         "signup"
				delayMinutes: 5
				conditions: [{ field: "createdAt", operator: "in_last_days", value: 7 }]
			}
			steps: [
				{
					action: { type: "send_email", params: { templateId: "welcome-1" } }
				},
				{
					delayMinutes: 1440
					conditions: [{ field: "behavior.bookings.length", operator: "equals", value: 0 }]
					action: { type: "send_email", params: { templateId: "welcome-2" } }
				},
			]
		}
	`)

	require.NoError(t, v.Err())
	a, err := CompileAutomation(v.LookupPath(cue.ParsePath(`automation."welcome-series"`)))
	require.NoError(t, err)

	assert.Equal(t, "welcome-series", a.ID)
	assert.Equal(t, model.AutomationActive, a.Status, "status defaults to active")
	assert.False(t, a.AllowRetrigger)
	assert.Equal(t, "signup", a.Trigger.Kind)
	assert.Equal(t, 5, a.Trigger.DelayMinutes)
	require.Len(t, a.Trigger.Conditions, 1)

	require.Len(t, a.Steps, 2)
	assert.Equal(t, 0, a.Steps[0].Order)
	assert.Equal(t, 0, a.Steps[0].DelayMinutes)
	assert.Equal(t, 1, a.Steps[1].Order, "order defaults to list position")
	assert.Equal(t, 1440, a.Steps[1].DelayMinutes)
	assert.Equal(t, model.ActionSendEmail, a.Steps[1].Action.Type)
	require.Len(t, a.Steps[1].Conditions, 1)
}

func TestCompileAutomationPaused(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		automation: "on-hold": {
			status:         "paused"
			allowRetrigger: true
			trigger: { kind: "purchase" }
			steps: [{ action: { type: "track_event", params: { name: "followup" } } }]
		}
	`)

	require.NoError(t, v.Err())
	a, err := CompileAutomation(v.LookupPath(cue.ParsePath(`automation."on-hold"`)))
	require.NoError(t, err)
	assert.Equal(t, model.AutomationPaused, a.Status)
	assert.True(t, a.AllowRetrigger)
}

func TestCompileAutomationInvalidStatus(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		automation: "bad": {
			status:  "archived"
			trigger: { kind: "signup" }
			steps: [{ action: { type: "track_event", params: { name: "n" } } }]
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileAutomation(v.LookupPath(cue.ParsePath(`automation."bad"`)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archived")
}

func TestCompileAutomationMissingTrigger(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		automation: "bad": {
			steps: [{ action: { type: "track_event", params: { name: "n" } } }]
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileAutomation(v.LookupPath(cue.ParsePath(`automation."bad"`)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trigger")
}

func TestCompileAutomationNoSteps(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		automation: "bad": {
			trigger: { kind: "signup" }
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileAutomation(v.LookupPath(cue.ParsePath(`automation."bad"`)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step")
}

func TestCompileAutomationNegativeDelay(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		automation: "bad": {
			trigger: { kind: "signup", delayMinutes: -5 }
			steps: [{ action: { type: "track_event", params: { name: "n" } } }]
		}
	`)

	require.NoError(t, v.Err())
	_, err := CompileAutomation(v.LookupPath(cue.ParsePath(`automation."bad"`)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative")
}
