package api

import (
	"time"

	"github.com/lumora/pulse/internal/model"
)

// TrackEventRequest is the body of POST /subscribers/:id/events.
type TrackEventRequest struct {
	Kind       string                 `json:"kind" binding:"required"`
	Properties map[string]interface{} `json:"properties"`
}

// TrackEventResponse acknowledges an ingested event.
type TrackEventResponse struct {
	SubscriberID string   `json:"subscriberId"`
	Segments     []string `json:"segments"`
	EventCount   int      `json:"eventCount"`
}

// ProfileResponse is the read model of GET /subscribers/:id.
type ProfileResponse struct {
	ID            string                 `json:"id"`
	Contact       string                 `json:"contact"`
	Name          string                 `json:"name,omitempty"`
	Preferences   map[string]interface{} `json:"preferences"`
	Segments      []string               `json:"segments"`
	LifetimeValue float64                `json:"lifetimeValue"`
	LastActivity  time.Time              `json:"lastActivity"`
	CreatedAt     time.Time              `json:"createdAt"`
	EventCount    int                    `json:"eventCount"`
}

func profileResponse(p *model.UserProfile) ProfileResponse {
	prefs, _ := model.ToAny(p.Preferences).(map[string]interface{})
	return ProfileResponse{
		ID:            p.ID,
		Contact:       p.Contact,
		Name:          p.Name,
		Preferences:   prefs,
		Segments:      p.Segments,
		LifetimeValue: p.LifetimeValue,
		LastActivity:  p.LastActivity,
		CreatedAt:     p.CreatedAt,
		EventCount:    len(p.Events),
	}
}

// UpdateRuleRequest is the body of PATCH /rules/:id. Absent fields are
// left unchanged.
type UpdateRuleRequest struct {
	Enabled  *bool `json:"enabled"`
	Priority *int  `json:"priority"`
}

// CancelInstanceRequest is the optional body of instance cancellation.
type CancelInstanceRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
