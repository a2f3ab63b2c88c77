package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_WelcomeSeriesScenario(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/welcome-series.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	require.Len(t, result.Trace, 3)
	assert.Equal(t, "show_content", result.Trace[0].Action)
	assert.Equal(t, "welcome-series:sub_1:0", result.Trace[1].CorrelationID)
	assert.Equal(t, "welcome-series:sub_1:1", result.Trace[2].CorrelationID)
}

func TestRun_CancelStopsSeries(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/cancel-stops-series.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	emails := 0
	for _, event := range result.Trace {
		if event.Action == "send_email" {
			emails++
		}
	}
	assert.Equal(t, 1, emails)
}

func TestRun_FailedAssertionReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "too-many-emails",
		Description: "expects more emails than the series sends",
		Defs:        "testdata/defs",
		Steps: []Step{
			{Event: &EventStep{Subscriber: "sub_2", Kind: "signup"}},
			{Advance: 5},
		},
		Assertions: []Assertion{
			{Type: AssertDispatchCount, Action: "send_email", Count: 5},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "dispatch_count")
}

func TestRun_UnknownEventKindStartsNothing(t *testing.T) {
	scenario := &Scenario{
		Name:        "no-trigger",
		Description: "a non-trigger event records on the profile but starts no automation",
		Defs:        "testdata/defs",
		Steps: []Step{
			{Event: &EventStep{Subscriber: "sub_3", Kind: "page_view"}},
			{Advance: 120},
		},
		Assertions: []Assertion{
			{Type: AssertDispatchCount, Action: "send_email", Count: 0},
			{Type: AssertProfile, Subscriber: "sub_3", Events: intPtr(1)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_MissingDefsDirErrors(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad-defs",
		Description: "points at a directory with no CUE files",
		Defs:        "testdata/scenarios",
		Steps:       []Step{{Advance: 5}},
		Assertions:  []Assertion{{Type: AssertDispatchCount, Action: "send_email", Count: 0}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definitions")
}

func intPtr(n int) *int { return &n }
