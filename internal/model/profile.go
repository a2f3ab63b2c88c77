package model

import "time"

// Well-known behavioral event kinds. The engine accepts arbitrary kinds;
// these are the ones the profile snapshot categorizes for path access.
const (
	EventPageView        = "page_view"
	EventEmailOpen       = "email_open"
	EventEmailClick      = "email_click"
	EventBooking         = "booking"
	EventPurchase        = "purchase"
	EventSignup          = "signup"
	EventProfileUpdate   = "profile_update"
	EventEmailUnsubscribe = "email_unsubscribe"
)

// behaviorCategories maps event kinds to the list name they appear under
// in the snapshot's "behavior" object.
var behaviorCategories = map[string]string{
	EventPageView:   "pageViews",
	EventEmailOpen:  "emailEngagements",
	EventEmailClick: "emailEngagements",
	EventBooking:    "bookings",
	EventPurchase:   "purchases",
}

// BehavioralEvent is an immutable, append-only record of subscriber
// behavior. Never mutated after creation.
type BehavioralEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Properties Object    `json:"properties"`
	Timestamp  time.Time `json:"timestamp"`
}

// UserProfile is the durable per-subscriber aggregate. Owned exclusively
// by the profile store; all mutation goes through it.
type UserProfile struct {
	ID            string    `json:"id"`
	Contact       string    `json:"contact"`
	Name          string    `json:"name,omitempty"`
	Preferences   Object    `json:"preferences"`
	Events        []BehavioralEvent `json:"events"`
	Segments      []string  `json:"segments"`
	LifetimeValue float64   `json:"lifetime_value"`
	LastActivity  time.Time `json:"last_activity"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewUserProfile creates a profile for a first-seen subscriber id.
func NewUserProfile(id string, now time.Time) *UserProfile {
	return &UserProfile{
		ID:           id,
		Preferences:  Object{},
		Events:       []BehavioralEvent{},
		Segments:     []string{},
		LastActivity: now,
		CreatedAt:    now,
	}
}

// InSegment reports whether the profile currently belongs to the named segment.
func (p *UserProfile) InSegment(name string) bool {
	for _, s := range p.Segments {
		if s == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the profile. The profile store hands out
// clones so readers never observe concurrent mutation.
func (p *UserProfile) Clone() *UserProfile {
	cp := *p
	cp.Preferences = cloneObject(p.Preferences)
	cp.Events = make([]BehavioralEvent, len(p.Events))
	copy(cp.Events, p.Events)
	cp.Segments = make([]string, len(p.Segments))
	copy(cp.Segments, p.Segments)
	return &cp
}

func cloneObject(o Object) Object {
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case Object:
		return cloneObject(val)
	default:
		// Scalars are immutable
		return v
	}
}

// Snapshot converts the profile into a Value tree for condition evaluation.
//
// Layout:
//
//	id, contact, name           scalar identity fields
//	preferences.*               free-form preference bag
//	segments                    array of segment names
//	lifetimeValue               number
//	lastActivity, createdAt     RFC 3339 strings
//	behavior.events             full chronological event log
//	behavior.bookings           events with kind "booking", oldest first
//	behavior.purchases          events with kind "purchase"
//	behavior.pageViews          events with kind "page_view"
//	behavior.emailEngagements   email_open and email_click events
//
// Each event renders as {kind, properties, timestamp}.
func (p *UserProfile) Snapshot() Object {
	segments := make(Array, len(p.Segments))
	for i, s := range p.Segments {
		segments[i] = String(s)
	}

	events := make(Array, 0, len(p.Events))
	behavior := Object{}
	for _, ev := range p.Events {
		rendered := Object{
			"kind":       String(ev.Kind),
			"properties": cloneObject(ev.Properties),
			"timestamp":  String(ev.Timestamp.UTC().Format(time.RFC3339)),
		}
		events = append(events, rendered)
		if category, ok := behaviorCategories[ev.Kind]; ok {
			list, _ := behavior[category].(Array)
			behavior[category] = append(list, rendered)
		}
	}
	behavior["events"] = events
	// Empty categories still resolve so ".length" reads 0, not absent
	for _, category := range []string{"pageViews", "emailEngagements", "bookings", "purchases"} {
		if _, ok := behavior[category]; !ok {
			behavior[category] = Array{}
		}
	}

	snap := Object{
		"id":            String(p.ID),
		"contact":       String(p.Contact),
		"preferences":   cloneObject(p.Preferences),
		"segments":      segments,
		"lifetimeValue": Number(p.LifetimeValue),
		"lastActivity":  String(p.LastActivity.UTC().Format(time.RFC3339)),
		"createdAt":     String(p.CreatedAt.UTC().Format(time.RFC3339)),
		"behavior":      behavior,
	}
	if p.Name != "" {
		snap["name"] = String(p.Name)
	}
	return snap
}
