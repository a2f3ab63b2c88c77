package model

import "time"

// AutomationStatus is the definition-level status.
type AutomationStatus string

const (
	AutomationActive AutomationStatus = "active"
	AutomationPaused AutomationStatus = "paused"
	AutomationDraft  AutomationStatus = "draft"
)

// InstanceStatus is the per-(automation, subscriber) run status.
type InstanceStatus string

const (
	InstanceActive    InstanceStatus = "active"
	InstanceCompleted InstanceStatus = "completed"
	InstanceCancelled InstanceStatus = "cancelled"
)

// AutomationTrigger gates instance creation. Kind names the behavioral
// event kind that can start the automation; Conditions are re-checked
// against the profile at trigger time. DelayMinutes offsets the first
// step's due time.
type AutomationTrigger struct {
	Kind         string          `json:"kind"`
	DelayMinutes int             `json:"delay_minutes"`
	Conditions   []RuleCondition `json:"conditions,omitempty"`
}

// AutomationStep is one delayed, optionally gated step. DelayMinutes is
// relative to the trigger (first step) or the previous step's fire time.
// Conditions, when present, are re-checked against the current profile
// immediately before firing; a failed gate skips the action but the
// instance still advances.
type AutomationStep struct {
	Order        int             `json:"order"`
	DelayMinutes int             `json:"delay_minutes"`
	Action       RuleAction      `json:"action"`
	Conditions   []RuleCondition `json:"conditions,omitempty"`
}

// Automation is an immutable multi-step sequence definition, loaded at
// startup. Status edits go through explicit pause/resume operations.
type Automation struct {
	ID             string            `json:"id"`
	Trigger        AutomationTrigger `json:"trigger"`
	Steps          []AutomationStep  `json:"steps"`
	Status         AutomationStatus  `json:"status"`
	AllowRetrigger bool              `json:"allow_retrigger,omitempty"`
}

// AutomationInstance is the mutable run state of one automation for one
// subscriber. One live (status active) instance per (automation,
// subscriber) pair is an invariant.
type AutomationInstance struct {
	AutomationID     string         `json:"automation_id"`
	SubscriberID     string         `json:"subscriber_id"`
	CurrentStepIndex int            `json:"current_step_index"`
	DueAt            time.Time      `json:"due_at"`
	Status           InstanceStatus `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	FailureReason    string         `json:"failure_reason,omitempty"`
}
