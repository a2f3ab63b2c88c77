package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/automation"
	"github.com/lumora/pulse/internal/clock"
	"github.com/lumora/pulse/internal/dispatch"
	"github.com/lumora/pulse/internal/ids"
	"github.com/lumora/pulse/internal/model"
	"github.com/lumora/pulse/internal/profile"
	"github.com/lumora/pulse/internal/rules"
	"github.com/lumora/pulse/internal/segment"
	"github.com/lumora/pulse/internal/store"
)

// Definitions is the loadable definition set: rules in declaration
// order, segments, and automations.
type Definitions struct {
	Rules       []model.PersonalizationRule
	Segments    []model.SegmentDefinition
	Automations []model.Automation
}

// Deps carries everything the engine needs wired in.
type Deps struct {
	Profiles    store.ProfileRepository
	Instances   store.InstanceRepository
	Definitions store.DefinitionRepository
	Dispatcher  automation.ActionDispatcher
	Clock       clock.Clock
	IDs         ids.Generator
	Logger      *zap.Logger
}

// Engine wires the personalization core together.
type Engine struct {
	profiles   *profile.Store
	rules      *rules.Engine
	segments   *segment.Calculator
	orch       *automation.Orchestrator
	dispatcher automation.ActionDispatcher
	defs       store.DefinitionRepository
	clk        clock.Clock
	logger     *zap.Logger

	// adminMu serializes definition management so the persisted
	// definition set never interleaves with a concurrent edit.
	adminMu sync.Mutex
}

// New builds an engine with empty definitions. Call LoadDefinitions or
// Restore before Start.
func New(deps Deps) (*Engine, error) {
	segments, err := segment.NewCalculator(nil)
	if err != nil {
		return nil, err
	}
	ruleEngine, err := rules.NewEngine(nil, deps.Logger)
	if err != nil {
		return nil, err
	}
	profiles := profile.NewStore(deps.Profiles, segments, deps.Clock, deps.IDs, deps.Logger)
	orch := automation.NewOrchestrator(deps.Instances, profiles, deps.Dispatcher, deps.Clock, deps.Logger)

	return &Engine{
		profiles:   profiles,
		rules:      ruleEngine,
		segments:   segments,
		orch:       orch,
		dispatcher: deps.Dispatcher,
		defs:       deps.Definitions,
		clk:        deps.Clock,
		logger:     deps.Logger,
	}, nil
}

// LoadDefinitions validates, persists, and installs a definition set,
// replacing whatever was installed before.
func (e *Engine) LoadDefinitions(ctx context.Context, d Definitions) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	// Validate everything before touching storage
	if _, err := rules.NewEngine(d.Rules, zap.NewNop()); err != nil {
		return err
	}
	if _, err := segment.NewCalculator(d.Segments); err != nil {
		return err
	}
	for _, a := range d.Automations {
		if err := automation.Validate(a); err != nil {
			return err
		}
	}

	if err := e.defs.ReplaceRules(ctx, d.Rules); err != nil {
		return fmt.Errorf("persist rules: %w", err)
	}
	for _, def := range d.Segments {
		if err := e.defs.PutSegment(ctx, def); err != nil {
			return fmt.Errorf("persist segment %q: %w", def.Name, err)
		}
	}
	for _, a := range d.Automations {
		if err := e.defs.PutAutomation(ctx, a); err != nil {
			return fmt.Errorf("persist automation %q: %w", a.ID, err)
		}
	}

	if err := e.rules.Replace(d.Rules); err != nil {
		return err
	}
	if err := e.segments.Replace(d.Segments); err != nil {
		return err
	}
	if err := e.orch.Load(d.Automations); err != nil {
		return err
	}

	e.logger.Info("definitions loaded",
		zap.Int("rules", len(d.Rules)),
		zap.Int("segments", len(d.Segments)),
		zap.Int("automations", len(d.Automations)),
	)
	return nil
}

// Restore installs the definition set persisted by a previous process.
func (e *Engine) Restore(ctx context.Context) error {
	ruleSet, err := e.defs.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("restore rules: %w", err)
	}
	segments, err := e.defs.ListSegments(ctx)
	if err != nil {
		return fmt.Errorf("restore segments: %w", err)
	}
	automations, err := e.defs.ListAutomations(ctx)
	if err != nil {
		return fmt.Errorf("restore automations: %w", err)
	}

	if err := e.rules.Replace(ruleSet); err != nil {
		return err
	}
	if err := e.segments.Replace(segments); err != nil {
		return err
	}
	if err := e.orch.Load(automations); err != nil {
		return err
	}
	return nil
}

// Start recovers the automation schedule and begins firing due steps.
// Runs until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	return e.orch.Start(ctx)
}

// TrackBehavior ingests one behavioral event: the profile is updated
// and re-segmented, matching rules dispatch their actions, and matching
// automation triggers start instances.
//
// Dispatch failures are logged but never fail ingestion; a persistence
// failure does, since the event was not recorded.
func (e *Engine) TrackBehavior(ctx context.Context, subscriberID, kind string, properties model.Object) (*model.UserProfile, error) {
	p, err := e.profiles.Track(ctx, subscriberID, kind, properties)
	if err != nil {
		return nil, err
	}

	now := e.clk.Now()
	for _, da := range e.rules.Apply(p.Snapshot(), now) {
		err := e.dispatcher.Dispatch(ctx, dispatch.Request{
			SubscriberID: p.ID,
			Contact:      p.Contact,
			Action:       da.Action,
		})
		if err != nil {
			e.logger.Warn("rule action dispatch failed",
				zap.String("rule_id", da.RuleID),
				zap.String("subscriber_id", p.ID),
				zap.Error(err),
			)
		}
	}

	if err := e.orch.HandleEvent(ctx, kind, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProfile returns the subscriber's profile, or store.ErrNotFound.
func (e *Engine) GetProfile(ctx context.Context, subscriberID string) (*model.UserProfile, error) {
	return e.profiles.Get(ctx, subscriberID)
}

// AddRule appends a rule to the declaration order.
func (e *Engine) AddRule(ctx context.Context, rule model.PersonalizationRule) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	candidate := append(e.rules.Rules(), rule)
	if _, err := rules.NewEngine(candidate, zap.NewNop()); err != nil {
		return err
	}
	if err := e.defs.ReplaceRules(ctx, candidate); err != nil {
		return fmt.Errorf("persist rules: %w", err)
	}
	return e.rules.Add(rule)
}

// UpdateRule edits a rule's enabled flag and priority. Nil pointers
// leave a field unchanged.
func (e *Engine) UpdateRule(ctx context.Context, id string, enabled *bool, priority *int) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	candidate := e.rules.Rules()
	found := false
	for i := range candidate {
		if candidate[i].ID == id {
			if enabled != nil {
				candidate[i].Enabled = *enabled
			}
			if priority != nil {
				candidate[i].Priority = *priority
			}
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown rule id: %s", id)
	}
	if err := e.defs.ReplaceRules(ctx, candidate); err != nil {
		return fmt.Errorf("persist rules: %w", err)
	}
	return e.rules.Update(id, enabled, priority)
}

// RemoveRule deletes a rule from the set.
func (e *Engine) RemoveRule(ctx context.Context, id string) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	current := e.rules.Rules()
	candidate := make([]model.PersonalizationRule, 0, len(current))
	found := false
	for _, r := range current {
		if r.ID == id {
			found = true
			continue
		}
		candidate = append(candidate, r)
	}
	if !found {
		return fmt.Errorf("unknown rule id: %s", id)
	}
	if err := e.defs.ReplaceRules(ctx, candidate); err != nil {
		return fmt.Errorf("persist rules: %w", err)
	}
	return e.rules.Remove(id)
}

// Rules returns the rule set in declaration order.
func (e *Engine) Rules() []model.PersonalizationRule {
	return e.rules.Rules()
}

// AddSegmentDefinition registers a segment definition and re-segments
// every stored profile against the updated set.
func (e *Engine) AddSegmentDefinition(ctx context.Context, def model.SegmentDefinition) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	if err := e.defs.PutSegment(ctx, def); err != nil {
		return fmt.Errorf("persist segment %q: %w", def.Name, err)
	}
	if err := e.segments.Add(def); err != nil {
		return err
	}
	return e.profiles.RecomputeAll(ctx)
}

// RemoveSegmentDefinition removes a segment definition and re-segments
// every stored profile.
func (e *Engine) RemoveSegmentDefinition(ctx context.Context, name string) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	if err := e.defs.DeleteSegment(ctx, name); err != nil {
		return fmt.Errorf("delete segment %q: %w", name, err)
	}
	e.segments.Remove(name)
	return e.profiles.RecomputeAll(ctx)
}

// SegmentDefinitions returns the registered definitions sorted by name.
func (e *Engine) SegmentDefinitions() []model.SegmentDefinition {
	return e.segments.Definitions()
}

// PauseAutomation stops new instances of the automation from starting.
// Already-active instances keep running.
func (e *Engine) PauseAutomation(ctx context.Context, automationID string) error {
	return e.setAutomationStatus(ctx, automationID, model.AutomationPaused)
}

// ResumeAutomation re-enables triggering of a paused automation.
func (e *Engine) ResumeAutomation(ctx context.Context, automationID string) error {
	return e.setAutomationStatus(ctx, automationID, model.AutomationActive)
}

func (e *Engine) setAutomationStatus(ctx context.Context, automationID string, status model.AutomationStatus) error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	a, ok := e.orch.Definition(automationID)
	if !ok {
		return fmt.Errorf("unknown automation %q", automationID)
	}
	a.Status = status
	if err := e.defs.PutAutomation(ctx, a); err != nil {
		return fmt.Errorf("persist automation %q: %w", automationID, err)
	}
	_, err := e.orch.SetStatus(automationID, status)
	return err
}

// Automations returns the automation definitions sorted by id.
func (e *Engine) Automations() []model.Automation {
	return e.orch.Automations()
}

// CancelInstance terminates a live automation instance for a
// subscriber, recording the reason. Unknown or terminal instances are a
// no-op.
func (e *Engine) CancelInstance(ctx context.Context, automationID, subscriberID, reason string) error {
	return e.orch.Cancel(ctx, automationID, subscriberID, reason)
}

// Instance returns the run state for the pair, or store.ErrNotFound.
func (e *Engine) Instance(ctx context.Context, automationID, subscriberID string) (*model.AutomationInstance, error) {
	return e.orch.Instance(ctx, automationID, subscriberID)
}
