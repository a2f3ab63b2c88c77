package segment

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lumora/pulse/internal/condition"
	"github.com/lumora/pulse/internal/model"
)

// Calculator evaluates segment definitions against profile snapshots.
//
// Thread-safety: definitions can be added and removed concurrently with
// recomputation; a read-write mutex guards the definition set.
type Calculator struct {
	mu          sync.RWMutex
	definitions map[string]model.SegmentDefinition
}

// NewCalculator creates a Calculator with the given initial definitions.
// Definitions are validated up front, so recomputation never encounters a
// malformed condition.
func NewCalculator(defs []model.SegmentDefinition) (*Calculator, error) {
	c := &Calculator{
		definitions: make(map[string]model.SegmentDefinition, len(defs)),
	}
	for _, def := range defs {
		if err := c.Add(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers a segment definition after validating its conditions.
// Replaces an existing definition with the same name.
func (c *Calculator) Add(def model.SegmentDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("segment definition requires a name")
	}
	for i, cond := range def.Conditions {
		if err := condition.Validate(cond); err != nil {
			return fmt.Errorf("segment %q condition %d: %w", def.Name, i, err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.definitions[def.Name] = def
	return nil
}

// Replace swaps in a whole new definition set, validating every
// definition first. Used when definitions are reloaded.
func (c *Calculator) Replace(defs []model.SegmentDefinition) error {
	next := make(map[string]model.SegmentDefinition, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return fmt.Errorf("segment definition requires a name")
		}
		for i, cond := range def.Conditions {
			if err := condition.Validate(cond); err != nil {
				return fmt.Errorf("segment %q condition %d: %w", def.Name, i, err)
			}
		}
		next[def.Name] = def
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.definitions = next
	return nil
}

// Remove deletes a segment definition. Removing an unknown name is a no-op.
func (c *Calculator) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.definitions, name)
}

// Definitions returns the registered definitions sorted by name.
func (c *Calculator) Definitions() []model.SegmentDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs := make([]model.SegmentDefinition, 0, len(c.definitions))
	for _, def := range c.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Recompute scans every definition against the snapshot and returns the
// matching segment names sorted lexically. Idempotent: the same snapshot
// always yields an identical set regardless of definition registration
// order.
func (c *Calculator) Recompute(snapshot model.Object, now time.Time) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matched := make([]string, 0, len(c.definitions))
	for name, def := range c.definitions {
		if condition.MatchAll(snapshot, def.Conditions, now) {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)
	return matched
}
