package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/clock"
	"github.com/lumora/pulse/internal/condition"
	"github.com/lumora/pulse/internal/dispatch"
	"github.com/lumora/pulse/internal/model"
	"github.com/lumora/pulse/internal/store"
)

// repoRetryDelay spaces out re-fires after a repository error so a due
// instance is never silently dropped until restart.
const repoRetryDelay = 30 * time.Second

// ProfileReader supplies the current profile for trigger and step gates.
type ProfileReader interface {
	Get(ctx context.Context, subscriberID string) (*model.UserProfile, error)
}

// ActionDispatcher executes a step action against its collaborator.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) error
}

// Orchestrator owns automation definitions and instance lifecycles.
type Orchestrator struct {
	instances  store.InstanceRepository
	profiles   ProfileReader
	dispatcher ActionDispatcher
	clk        clock.Clock
	logger     *zap.Logger

	mu   sync.RWMutex
	defs map[string]model.Automation

	locks *instanceLocks
	sched *scheduler

	// runCtx is the lifetime context set by Start; scheduler fires
	// derive their dispatch contexts from it.
	runCtx context.Context
}

// NewOrchestrator wires the orchestrator. Call Load to install
// definitions and Start to recover persisted instances and begin
// scheduling.
func NewOrchestrator(instances store.InstanceRepository, profiles ProfileReader, dispatcher ActionDispatcher, clk clock.Clock, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		instances:  instances,
		profiles:   profiles,
		dispatcher: dispatcher,
		clk:        clk,
		logger:     logger,
		defs:       make(map[string]model.Automation),
		locks:      newInstanceLocks(),
		runCtx:     context.Background(),
	}
	o.sched = newScheduler(clk, o.fire, logger)
	return o
}

// Validate checks an automation definition statically.
func Validate(a model.Automation) error {
	if a.ID == "" {
		return fmt.Errorf("automation id is required")
	}
	if a.Trigger.Kind == "" {
		return fmt.Errorf("automation %q: trigger kind is required", a.ID)
	}
	if a.Trigger.DelayMinutes < 0 {
		return fmt.Errorf("automation %q: negative trigger delay", a.ID)
	}
	for _, c := range a.Trigger.Conditions {
		if err := condition.Validate(c); err != nil {
			return fmt.Errorf("automation %q trigger: %w", a.ID, err)
		}
	}
	if len(a.Steps) == 0 {
		return fmt.Errorf("automation %q: at least one step is required", a.ID)
	}
	for i, step := range a.Steps {
		if step.DelayMinutes < 0 {
			return fmt.Errorf("automation %q step %d: negative delay", a.ID, i)
		}
		if !step.Action.Type.Valid() {
			return fmt.Errorf("automation %q step %d: unknown action type %q", a.ID, i, step.Action.Type)
		}
		for _, c := range step.Conditions {
			if err := condition.Validate(c); err != nil {
				return fmt.Errorf("automation %q step %d: %w", a.ID, i, err)
			}
		}
	}
	return nil
}

// Load replaces the definition set. Steps are ordered by their declared
// order field.
func (o *Orchestrator) Load(autos []model.Automation) error {
	defs := make(map[string]model.Automation, len(autos))
	for _, a := range autos {
		if err := Validate(a); err != nil {
			return err
		}
		if _, dup := defs[a.ID]; dup {
			return fmt.Errorf("duplicate automation id %q", a.ID)
		}
		sort.SliceStable(a.Steps, func(i, j int) bool { return a.Steps[i].Order < a.Steps[j].Order })
		defs[a.ID] = a
	}
	o.mu.Lock()
	o.defs = defs
	o.mu.Unlock()
	return nil
}

// Upsert installs or replaces one definition. Running instances of a
// replaced automation keep advancing against the new definition.
func (o *Orchestrator) Upsert(a model.Automation) error {
	if err := Validate(a); err != nil {
		return err
	}
	sort.SliceStable(a.Steps, func(i, j int) bool { return a.Steps[i].Order < a.Steps[j].Order })
	o.mu.Lock()
	o.defs[a.ID] = a
	o.mu.Unlock()
	return nil
}

// SetStatus changes a definition's status. Pausing stops new triggers;
// already-active instances keep running.
func (o *Orchestrator) SetStatus(automationID string, status model.AutomationStatus) (model.Automation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.defs[automationID]
	if !ok {
		return model.Automation{}, fmt.Errorf("unknown automation %q", automationID)
	}
	a.Status = status
	o.defs[automationID] = a
	return a, nil
}

// Automations returns the definitions sorted by id.
func (o *Orchestrator) Automations() []model.Automation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]model.Automation, 0, len(o.defs))
	for _, a := range o.defs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Definition returns one automation definition by id.
func (o *Orchestrator) Definition(automationID string) (model.Automation, bool) {
	return o.definition(automationID)
}

func (o *Orchestrator) definition(automationID string) (model.Automation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.defs[automationID]
	return a, ok
}

// Start recovers persisted active instances into the schedule and runs
// the scheduler until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.runCtx = ctx
	recovered, err := o.instances.ListActiveInstances(ctx)
	if err != nil {
		return fmt.Errorf("recover instances: %w", err)
	}
	now := o.clk.Now()
	for _, inst := range recovered {
		key := instanceKey{automationID: inst.AutomationID, subscriberID: inst.SubscriberID}
		if _, ok := o.definition(inst.AutomationID); !ok {
			o.logger.Warn("active instance references unknown automation, cancelling",
				zap.String("automation_id", inst.AutomationID),
				zap.String("subscriber_id", inst.SubscriberID),
			)
			inst.Status = model.InstanceCancelled
			inst.FailureReason = "automation definition removed"
			if err := o.instances.PutInstance(ctx, inst); err != nil {
				return err
			}
			continue
		}
		dueAt := inst.DueAt
		if dueAt.Before(now) {
			dueAt = now
		}
		o.sched.Schedule(key, dueAt)
	}
	if len(recovered) > 0 {
		o.logger.Info("recovered automation schedule", zap.Int("instances", len(recovered)))
	}
	go o.sched.Run(ctx)
	return nil
}

// HandleEvent starts instances for every active automation whose
// trigger kind matches the event and whose trigger conditions match the
// profile.
func (o *Orchestrator) HandleEvent(ctx context.Context, eventKind string, profile *model.UserProfile) error {
	now := o.clk.Now()
	snapshot := profile.Snapshot()
	for _, a := range o.Automations() {
		if a.Status != model.AutomationActive || a.Trigger.Kind != eventKind {
			continue
		}
		if !condition.MatchAll(snapshot, a.Trigger.Conditions, now) {
			continue
		}
		if err := o.Trigger(ctx, a.ID, profile.ID); err != nil {
			return err
		}
	}
	return nil
}

// Trigger starts an instance of the automation for the subscriber.
//
// A trigger while an instance is live is a no-op, as is a trigger on a
// paused or draft automation. After an instance reaches a terminal
// state the automation restarts only when its definition allows
// re-triggering.
func (o *Orchestrator) Trigger(ctx context.Context, automationID, subscriberID string) error {
	a, ok := o.definition(automationID)
	if !ok {
		return fmt.Errorf("unknown automation %q", automationID)
	}
	if a.Status != model.AutomationActive {
		return nil
	}

	key := instanceKey{automationID: automationID, subscriberID: subscriberID}
	o.locks.Lock(key)
	defer o.locks.Unlock(key)

	existing, err := o.instances.GetInstance(ctx, automationID, subscriberID)
	switch {
	case err == nil:
		if existing.Status == model.InstanceActive {
			return nil
		}
		if !a.AllowRetrigger {
			return nil
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return err
	}

	now := o.clk.Now()
	delay := time.Duration(a.Trigger.DelayMinutes+a.Steps[0].DelayMinutes) * time.Minute
	inst := &model.AutomationInstance{
		AutomationID:     automationID,
		SubscriberID:     subscriberID,
		CurrentStepIndex: 0,
		DueAt:            now.Add(delay),
		Status:           model.InstanceActive,
		StartedAt:        now,
	}
	if err := o.instances.PutInstance(ctx, inst); err != nil {
		return fmt.Errorf("persist instance %s/%s: %w", automationID, subscriberID, err)
	}
	o.sched.Schedule(key, inst.DueAt)

	o.logger.Info("automation triggered",
		zap.String("automation_id", automationID),
		zap.String("subscriber_id", subscriberID),
		zap.Time("due_at", inst.DueAt),
	)
	return nil
}

// Cancel terminates a live instance, recording the reason. Cancelling
// a missing or already-terminal instance is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, automationID, subscriberID, reason string) error {
	key := instanceKey{automationID: automationID, subscriberID: subscriberID}
	o.locks.Lock(key)
	defer o.locks.Unlock(key)

	inst, err := o.instances.GetInstance(ctx, automationID, subscriberID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if inst.Status != model.InstanceActive {
		return nil
	}
	inst.Status = model.InstanceCancelled
	inst.FailureReason = reason
	if err := o.instances.PutInstance(ctx, inst); err != nil {
		return err
	}
	o.logger.Info("instance cancelled",
		zap.String("automation_id", automationID),
		zap.String("subscriber_id", subscriberID),
		zap.String("reason", reason),
	)
	return nil
}

// Instance returns the run state for the pair, or store.ErrNotFound.
func (o *Orchestrator) Instance(ctx context.Context, automationID, subscriberID string) (*model.AutomationInstance, error) {
	return o.instances.GetInstance(ctx, automationID, subscriberID)
}

// fire advances one due instance: gate the current step against the
// live profile, dispatch its action, and commit the step transition.
// The instance lock is released around the profile read and dispatch.
func (o *Orchestrator) fire(key instanceKey) {
	ctx := o.runCtx

	o.locks.Lock(key)
	inst, err := o.instances.GetInstance(ctx, key.automationID, key.subscriberID)
	if err != nil {
		o.locks.Unlock(key)
		if !errors.Is(err, store.ErrNotFound) {
			o.logger.Error("instance read failed, retrying",
				zap.String("automation_id", key.automationID),
				zap.String("subscriber_id", key.subscriberID),
				zap.Error(err),
			)
			o.sched.Schedule(key, o.clk.Now().Add(repoRetryDelay))
		}
		return
	}
	if inst.Status != model.InstanceActive {
		o.locks.Unlock(key)
		return
	}
	now := o.clk.Now()
	if inst.DueAt.After(now) {
		// Stale schedule entry from before a re-trigger
		o.sched.Schedule(key, inst.DueAt)
		o.locks.Unlock(key)
		return
	}
	stepIndex := inst.CurrentStepIndex
	o.locks.Unlock(key)

	a, ok := o.definition(key.automationID)
	if !ok || stepIndex >= len(a.Steps) {
		o.fail(ctx, key, stepIndex, "automation definition removed")
		return
	}
	step := a.Steps[stepIndex]

	profile, err := o.profiles.Get(ctx, key.subscriberID)
	if err != nil {
		o.fail(ctx, key, stepIndex, fmt.Sprintf("profile unavailable: %v", err))
		return
	}

	if condition.MatchAll(profile.Snapshot(), step.Conditions, now) {
		err := o.dispatcher.Dispatch(ctx, dispatch.Request{
			SubscriberID:  key.subscriberID,
			Contact:       profile.Contact,
			CorrelationID: fmt.Sprintf("%s:%s:%d", key.automationID, key.subscriberID, stepIndex),
			Action:        step.Action,
		})
		if err != nil {
			o.logger.Warn("step dispatch failed",
				zap.String("automation_id", key.automationID),
				zap.String("subscriber_id", key.subscriberID),
				zap.Int("step", stepIndex),
				zap.Error(err),
			)
			o.fail(ctx, key, stepIndex, fmt.Sprintf("step %d dispatch: %v", stepIndex, err))
			return
		}
	} else {
		o.logger.Debug("step gate failed, skipping action",
			zap.String("automation_id", key.automationID),
			zap.String("subscriber_id", key.subscriberID),
			zap.Int("step", stepIndex),
		)
	}

	o.commit(ctx, key, stepIndex, len(a.Steps))
}

// commit records the outcome of a fired step: completion after the last
// step, otherwise advance to the next step and schedule it.
func (o *Orchestrator) commit(ctx context.Context, key instanceKey, firedStep, totalSteps int) {
	o.locks.Lock(key)
	defer o.locks.Unlock(key)

	inst, err := o.instances.GetInstance(ctx, key.automationID, key.subscriberID)
	if err != nil || inst.Status != model.InstanceActive || inst.CurrentStepIndex != firedStep {
		// Cancelled or re-triggered while dispatching
		return
	}

	if firedStep+1 >= totalSteps {
		inst.Status = model.InstanceCompleted
	} else {
		a, ok := o.definition(key.automationID)
		if !ok {
			return
		}
		inst.CurrentStepIndex = firedStep + 1
		inst.DueAt = o.clk.Now().Add(time.Duration(a.Steps[firedStep+1].DelayMinutes) * time.Minute)
	}
	if err := o.instances.PutInstance(ctx, inst); err != nil {
		o.logger.Error("instance commit failed, retrying",
			zap.String("automation_id", key.automationID),
			zap.String("subscriber_id", key.subscriberID),
			zap.Error(err),
		)
		// The retried fire repeats the step's action; collaborators
		// deduplicate on the correlation id, which names the step.
		o.sched.Schedule(key, o.clk.Now().Add(repoRetryDelay))
		return
	}
	if inst.Status == model.InstanceActive {
		o.sched.Schedule(key, inst.DueAt)
	} else {
		o.logger.Info("automation completed",
			zap.String("automation_id", key.automationID),
			zap.String("subscriber_id", key.subscriberID),
		)
	}
}

// fail marks the instance cancelled with a recorded reason, so a
// dispatch failure never leaves it stuck active with a stale due time.
func (o *Orchestrator) fail(ctx context.Context, key instanceKey, firedStep int, reason string) {
	o.locks.Lock(key)
	defer o.locks.Unlock(key)

	inst, err := o.instances.GetInstance(ctx, key.automationID, key.subscriberID)
	if err != nil || inst.Status != model.InstanceActive || inst.CurrentStepIndex != firedStep {
		return
	}
	inst.Status = model.InstanceCancelled
	inst.FailureReason = reason
	if err := o.instances.PutInstance(ctx, inst); err != nil {
		o.logger.Error("instance cancel failed",
			zap.String("automation_id", key.automationID),
			zap.String("subscriber_id", key.subscriberID),
			zap.Error(err),
		)
	}
}
