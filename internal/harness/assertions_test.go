package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora/pulse/internal/model"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 0, Action: "show_content", Subscriber: "sub_1", Params: model.Object{"contentId": model.String("banner")}},
		{Seq: 1, Action: "send_email", Subscriber: "sub_1", Params: model.Object{"templateId": model.String("welcome-1")}},
		{Seq: 2, Action: "send_email", Subscriber: "sub_2", Params: model.Object{"templateId": model.String("welcome-1")}},
		{Seq: 3, Action: "apply_discount", Subscriber: "sub_1", Params: model.Object{"discountKind": model.String("percentage"), "value": model.Number(15)}},
	}
}

func TestAssertDispatchContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertDispatchContains(trace, Assertion{
		Action: "send_email",
	}))
	assert.NoError(t, assertDispatchContains(trace, Assertion{
		Action:     "apply_discount",
		Subscriber: "sub_1",
		Params:     map[string]interface{}{"value": 15},
	}))

	err := assertDispatchContains(trace, Assertion{
		Action:     "apply_discount",
		Subscriber: "sub_2",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in trace")

	err = assertDispatchContains(trace, Assertion{
		Action: "send_email",
		Params: map[string]interface{}{"templateId": "welcome-9"},
	})
	require.Error(t, err)
}

func TestAssertDispatchOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertDispatchOrder(trace, Assertion{
		Actions: []string{"show_content", "send_email", "apply_discount"},
	}))

	// Scoped to one subscriber, intervening dispatches are skipped
	assert.NoError(t, assertDispatchOrder(trace, Assertion{
		Subscriber: "sub_1",
		Actions:    []string{"send_email", "apply_discount"},
	}))

	err := assertDispatchOrder(trace, Assertion{
		Actions: []string{"apply_discount", "show_content"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch_order")
}

func TestAssertDispatchCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertDispatchCount(trace, Assertion{Action: "send_email", Count: 2}))
	assert.NoError(t, assertDispatchCount(trace, Assertion{Action: "send_email", Subscriber: "sub_2", Count: 1}))
	assert.NoError(t, assertDispatchCount(trace, Assertion{Action: "track_event", Count: 0}))

	err := assertDispatchCount(trace, Assertion{Action: "send_email", Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 dispatch(es)")
}

func TestMatchParams(t *testing.T) {
	params := model.Object{
		"templateId": model.String("welcome-1"),
		"value":      model.Number(15),
	}

	assert.True(t, matchParams(params, nil))
	assert.True(t, matchParams(params, map[string]interface{}{"templateId": "welcome-1"}))
	assert.True(t, matchParams(params, map[string]interface{}{"value": 15}))
	assert.False(t, matchParams(params, map[string]interface{}{"templateId": "other"}))
	assert.False(t, matchParams(params, map[string]interface{}{"missing": true}))
}

func TestSameStringSet(t *testing.T) {
	assert.True(t, sameStringSet(nil, nil))
	assert.True(t, sameStringSet([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, sameStringSet([]string{"a"}, []string{"a", "b"}))
	assert.False(t, sameStringSet([]string{"a", "c"}, []string{"a", "b"}))
}
