package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var profileNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func TestNewUserProfile(t *testing.T) {
	p := NewUserProfile("sub_1", profileNow)
	assert.Equal(t, "sub_1", p.ID)
	assert.Equal(t, profileNow, p.CreatedAt)
	assert.Equal(t, profileNow, p.LastActivity)
	assert.NotNil(t, p.Preferences)
	assert.Empty(t, p.Segments)
}

func TestSnapshot_CategorizesBehavior(t *testing.T) {
	p := NewUserProfile("sub_1", profileNow)
	p.Events = []BehavioralEvent{
		{ID: "e1", Kind: EventBooking, Properties: Object{}, Timestamp: profileNow},
		{ID: "e2", Kind: EventPageView, Properties: Object{"path": String("/shop")}, Timestamp: profileNow},
		{ID: "e3", Kind: EventBooking, Properties: Object{}, Timestamp: profileNow},
		{ID: "e4", Kind: EventEmailOpen, Properties: Object{}, Timestamp: profileNow},
	}

	snap := p.Snapshot()
	behavior, ok := snap["behavior"].(Object)
	require.True(t, ok)

	assert.Len(t, behavior["events"], 4)
	assert.Len(t, behavior["bookings"], 2)
	assert.Len(t, behavior["pageViews"], 1)
	assert.Len(t, behavior["emailEngagements"], 1)
	assert.Equal(t, Array{}, behavior["purchases"], "empty categories still resolve")
}

func TestSnapshot_TimestampsAreRFC3339(t *testing.T) {
	p := NewUserProfile("sub_1", profileNow)
	snap := p.Snapshot()
	created, ok := snap["createdAt"].(String)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339, string(created))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(profileNow))
}

func TestClone_IsDeep(t *testing.T) {
	p := NewUserProfile("sub_1", profileNow)
	p.Preferences["hairType"] = String("curly")
	p.Events = append(p.Events, BehavioralEvent{ID: "e1", Kind: EventPageView, Properties: Object{}, Timestamp: profileNow})
	p.Segments = append(p.Segments, "vip")

	clone := p.Clone()
	clone.Preferences["hairType"] = String("straight")
	clone.Segments[0] = "mutated"
	clone.Events = append(clone.Events, BehavioralEvent{ID: "e2"})

	assert.Equal(t, String("curly"), p.Preferences["hairType"])
	assert.Equal(t, "vip", p.Segments[0])
	assert.Len(t, p.Events, 1)
}

func TestInSegment(t *testing.T) {
	p := NewUserProfile("sub_1", profileNow)
	p.Segments = []string{"vip-customers"}
	assert.True(t, p.InSegment("vip-customers"))
	assert.False(t, p.InSegment("new-subscribers"))
}
