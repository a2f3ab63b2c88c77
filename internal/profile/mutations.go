package profile

import "github.com/lumora/pulse/internal/model"

// applyEvent folds one event into the profile. The event itself is
// always appended; kind-specific side effects update the aggregate
// fields conditions read.
func applyEvent(p *model.UserProfile, event model.BehavioralEvent) {
	p.Events = append(p.Events, event)
	p.LastActivity = event.Timestamp

	switch event.Kind {
	case model.EventPurchase, model.EventBooking:
		if v, ok := event.Properties["value"].(model.Number); ok {
			p.LifetimeValue += float64(v)
		}
	case model.EventSignup:
		if v, ok := event.Properties["contact"].(model.String); ok && p.Contact == "" {
			p.Contact = string(v)
		}
		if v, ok := event.Properties["name"].(model.String); ok && p.Name == "" {
			p.Name = string(v)
		}
	case model.EventProfileUpdate:
		applyProfileUpdate(p, event.Properties)
	}
}

// applyProfileUpdate merges explicit attribute changes. A
// "preferences" object merges key by key over the existing bag;
// "contact" and "name" overwrite when present.
func applyProfileUpdate(p *model.UserProfile, props model.Object) {
	if v, ok := props["contact"].(model.String); ok {
		p.Contact = string(v)
	}
	if v, ok := props["name"].(model.String); ok {
		p.Name = string(v)
	}
	if prefs, ok := props["preferences"].(model.Object); ok {
		for k, v := range prefs {
			if _, isNull := v.(model.Null); isNull {
				delete(p.Preferences, k)
				continue
			}
			p.Preferences[k] = v
		}
	}
}
