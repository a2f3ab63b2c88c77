package model

import (
	"encoding/json"
	"fmt"
)

// Operator is the closed set of condition operators.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
	OpInLastDays  Operator = "in_last_days"
)

// validOperators indexes the closed operator set.
var validOperators = map[Operator]bool{
	OpEquals:      true,
	OpNotEquals:   true,
	OpContains:    true,
	OpGreaterThan: true,
	OpLessThan:    true,
	OpIn:          true,
	OpNotIn:       true,
	OpExists:      true,
	OpNotExists:   true,
	OpInLastDays:  true,
}

// Valid reports whether the operator is part of the closed set.
func (op Operator) Valid() bool {
	return validOperators[op]
}

// RuleCondition is a single field/operator/value predicate against a
// profile snapshot. Field is a dotted path, e.g. "preferences.hairType"
// or "behavior.bookings.length".
type RuleCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler, decoding the free-form
// value operand into the tagged Value type.
func (c *RuleCondition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Field    string          `json:"field"`
		Operator Operator        `json:"operator"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Field = raw.Field
	c.Operator = raw.Operator
	c.Value = nil
	if len(raw.Value) > 0 {
		v, err := UnmarshalValue(raw.Value)
		if err != nil {
			return fmt.Errorf("condition %q value: %w", raw.Field, err)
		}
		c.Value = v
	}
	return nil
}

// ActionType tags the RuleAction variant.
type ActionType string

const (
	ActionShowContent   ActionType = "show_content"
	ActionSendEmail     ActionType = "send_email"
	ActionApplyDiscount ActionType = "apply_discount"
	ActionTrackEvent    ActionType = "track_event"
)

// validActionTypes indexes the closed action set.
var validActionTypes = map[ActionType]bool{
	ActionShowContent:   true,
	ActionSendEmail:     true,
	ActionApplyDiscount: true,
	ActionTrackEvent:    true,
}

// Valid reports whether the action type is part of the closed set.
func (t ActionType) Valid() bool {
	return validActionTypes[t]
}

// RuleAction is a tagged action variant with a free-form parameter bag.
//
// Expected params per type:
//
//	show_content:   contentId, payload (optional object)
//	send_email:     templateId; personalization fields are merged in by
//	                the dispatcher from the profile
//	apply_discount: discountKind ("percentage" | "fixed"), value
//	track_event:    name, properties (optional object)
type RuleAction struct {
	Type   ActionType `json:"type"`
	Params Object     `json:"params"`
}

// PersonalizationRule maps profile state to actions. Conditions are
// AND-combined. Immutable once loaded except for Enabled/Priority edits
// via explicit management operations.
type PersonalizationRule struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind,omitempty"`
	Conditions []RuleCondition `json:"conditions"`
	Actions    []RuleAction    `json:"actions"`
	Priority   int             `json:"priority"`
	Enabled    bool            `json:"enabled"`
}

// SegmentDefinition names an AND-combined condition list. Independent of
// rules; recomputed against every profile mutation.
type SegmentDefinition struct {
	Name       string          `json:"name"`
	Conditions []RuleCondition `json:"conditions"`
}
