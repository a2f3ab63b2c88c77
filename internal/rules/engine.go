package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/condition"
	"github.com/lumora/pulse/internal/model"
)

// DispatchedAction is one action owed to a subscriber as a consequence of
// a matched rule, in dispatch order.
type DispatchedAction struct {
	RuleID string
	Action model.RuleAction
}

// Engine evaluates the registered rule set against profile snapshots.
//
// Thread-safety: rule management and Apply may run concurrently; a
// read-write mutex guards the rule slice. The slice keeps declaration
// order, which Apply's stable sort relies on for priority ties.
type Engine struct {
	mu     sync.RWMutex
	rules  []model.PersonalizationRule
	logger *zap.Logger
}

// NewEngine creates an Engine with the given initial rules, validating
// each before registration.
func NewEngine(ruleSet []model.PersonalizationRule, logger *zap.Logger) (*Engine, error) {
	e := &Engine{logger: logger}
	for _, rule := range ruleSet {
		if err := e.Add(rule); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// validateRule checks structural validity of a rule.
func validateRule(rule model.PersonalizationRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule requires an id")
	}
	if len(rule.Actions) == 0 {
		return fmt.Errorf("rule %q has no actions", rule.ID)
	}
	for i, cond := range rule.Conditions {
		if err := condition.Validate(cond); err != nil {
			return fmt.Errorf("rule %q condition %d: %w", rule.ID, i, err)
		}
	}
	for i, action := range rule.Actions {
		if !action.Type.Valid() {
			return fmt.Errorf("rule %q action %d: unknown action type %q", rule.ID, i, action.Type)
		}
	}
	return nil
}

// Add registers a rule at the end of the declaration order.
// Duplicate ids are rejected.
func (e *Engine) Add(rule model.PersonalizationRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.rules {
		if existing.ID == rule.ID {
			return fmt.Errorf("duplicate rule id: %s", rule.ID)
		}
	}
	e.rules = append(e.rules, rule)
	return nil
}

// Update edits the mutable fields of a rule: enabled and priority.
// Nil pointers leave a field unchanged. The rule keeps its declaration
// position, preserving the tie-break order.
func (e *Engine) Update(id string, enabled *bool, priority *int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			if enabled != nil {
				e.rules[i].Enabled = *enabled
			}
			if priority != nil {
				e.rules[i].Priority = *priority
			}
			return nil
		}
	}
	return fmt.Errorf("unknown rule id: %s", id)
}

// Remove deletes a rule from the set.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("unknown rule id: %s", id)
}

// Replace swaps in a whole new rule set, validating every rule first.
// Used when definitions are reloaded.
func (e *Engine) Replace(ruleSet []model.PersonalizationRule) error {
	seen := make(map[string]bool, len(ruleSet))
	for _, rule := range ruleSet {
		if err := validateRule(rule); err != nil {
			return err
		}
		if seen[rule.ID] {
			return fmt.Errorf("duplicate rule id: %s", rule.ID)
		}
		seen[rule.ID] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]model.PersonalizationRule(nil), ruleSet...)
	return nil
}

// Rules returns a copy of the rule set in declaration order.
func (e *Engine) Rules() []model.PersonalizationRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.PersonalizationRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Apply evaluates every enabled rule against the snapshot and returns the
// actions of the matching rules, ordered by priority descending with
// declaration order breaking ties.
//
// A rule firing has no effect on whether later rules are evaluated: there
// is no short-circuit and no exclusivity.
func (e *Engine) Apply(snapshot model.Object, now time.Time) []DispatchedAction {
	e.mu.RLock()
	matched := make([]model.PersonalizationRule, 0, len(e.rules))
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if condition.MatchAll(snapshot, rule.Conditions, now) {
			matched = append(matched, rule)
		}
	}
	e.mu.RUnlock()

	// Stable keeps declaration order for equal priorities
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})

	var dispatched []DispatchedAction
	for _, rule := range matched {
		e.logger.Debug("rule matched",
			zap.String("rule_id", rule.ID),
			zap.Int("priority", rule.Priority),
			zap.Int("actions", len(rule.Actions)),
		)
		for _, action := range rule.Actions {
			dispatched = append(dispatched, DispatchedAction{RuleID: rule.ID, Action: action})
		}
	}
	return dispatched
}
