package store

import (
	"context"
	"errors"

	"github.com/lumora/pulse/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ProfileRepository persists subscriber profiles and their append-only
// event logs.
type ProfileRepository interface {
	// GetProfile returns the profile with its full event log in arrival
	// order. Returns ErrNotFound for an unseen subscriber id.
	GetProfile(ctx context.Context, subscriberID string) (*model.UserProfile, error)

	// PutProfile upserts the profile's scalar fields and segment set and
	// appends newEvents to the event log, atomically. Events already
	// stored (by id) are skipped, so a retried write stays idempotent.
	PutProfile(ctx context.Context, profile *model.UserProfile, newEvents []model.BehavioralEvent) error

	// SubscriberIDs lists every stored subscriber id.
	SubscriberIDs(ctx context.Context) ([]string, error)
}

// InstanceRepository persists automation run state. The (automation_id,
// subscriber_id) pair is the primary key; a re-trigger overwrites the
// previous terminal record.
type InstanceRepository interface {
	// GetInstance returns the instance for the pair, or ErrNotFound.
	GetInstance(ctx context.Context, automationID, subscriberID string) (*model.AutomationInstance, error)

	// PutInstance upserts the instance.
	PutInstance(ctx context.Context, instance *model.AutomationInstance) error

	// ListActiveInstances returns every instance with status active, for
	// schedule recovery after restart.
	ListActiveInstances(ctx context.Context) ([]*model.AutomationInstance, error)
}

// DefinitionRepository persists rule, segment, and automation
// definitions. Definition counts are modest (tens), so rule writes
// replace the whole ordered set rather than patching rows.
type DefinitionRepository interface {
	// ReplaceRules stores the rule set in declaration order.
	ReplaceRules(ctx context.Context, rules []model.PersonalizationRule) error

	// ListRules returns the rule set in declaration order.
	ListRules(ctx context.Context) ([]model.PersonalizationRule, error)

	// PutSegment upserts a segment definition by name.
	PutSegment(ctx context.Context, def model.SegmentDefinition) error

	// DeleteSegment removes a segment definition. Unknown names are a no-op.
	DeleteSegment(ctx context.Context, name string) error

	// ListSegments returns all segment definitions.
	ListSegments(ctx context.Context) ([]model.SegmentDefinition, error)

	// PutAutomation upserts an automation definition by id.
	PutAutomation(ctx context.Context, automation model.Automation) error

	// ListAutomations returns all automation definitions.
	ListAutomations(ctx context.Context) ([]model.Automation, error)
}
