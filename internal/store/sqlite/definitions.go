package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lumora/pulse/internal/model"
)

// ReplaceRules stores the rule set in declaration order, replacing any
// previous set in one transaction.
func (s *Store) ReplaceRules(ctx context.Context, rules []model.PersonalizationRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rules write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}
	for position, rule := range rules {
		body, err := json.Marshal(rule)
		if err != nil {
			return fmt.Errorf("encode rule %s: %w", rule.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rules (id, position, body) VALUES (?, ?, ?)
		`, rule.ID, position, string(body))
		if err != nil {
			return fmt.Errorf("write rule %s: %w", rule.ID, err)
		}
	}
	return tx.Commit()
}

// ListRules returns the rule set in declaration order.
func (s *Store) ListRules(ctx context.Context) ([]model.PersonalizationRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM rules ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []model.PersonalizationRule
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		var rule model.PersonalizationRule
		if err := json.Unmarshal([]byte(body), &rule); err != nil {
			return nil, fmt.Errorf("decode rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// PutSegment upserts a segment definition by name.
func (s *Store) PutSegment(ctx context.Context, def model.SegmentDefinition) error {
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode segment %s: %w", def.Name, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO segments (name, body) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body
	`, def.Name, string(body))
	if err != nil {
		return fmt.Errorf("write segment %s: %w", def.Name, err)
	}
	return nil
}

// DeleteSegment removes a segment definition. Unknown names are a no-op.
func (s *Store) DeleteSegment(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM segments WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete segment %s: %w", name, err)
	}
	return nil
}

// ListSegments returns all segment definitions ordered by name.
func (s *Store) ListSegments(ctx context.Context) ([]model.SegmentDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM segments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var defs []model.SegmentDefinition
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		var def model.SegmentDefinition
		if err := json.Unmarshal([]byte(body), &def); err != nil {
			return nil, fmt.Errorf("decode segment: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// PutAutomation upserts an automation definition by id.
func (s *Store) PutAutomation(ctx context.Context, automation model.Automation) error {
	body, err := json.Marshal(automation)
	if err != nil {
		return fmt.Errorf("encode automation %s: %w", automation.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automations (id, body) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body
	`, automation.ID, string(body))
	if err != nil {
		return fmt.Errorf("write automation %s: %w", automation.ID, err)
	}
	return nil
}

// ListAutomations returns all automation definitions ordered by id.
func (s *Store) ListAutomations(ctx context.Context) ([]model.Automation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM automations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	defer rows.Close()

	var automations []model.Automation
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan automation: %w", err)
		}
		var a model.Automation
		if err := json.Unmarshal([]byte(body), &a); err != nil {
			return nil, fmt.Errorf("decode automation: %w", err)
		}
		automations = append(automations, a)
	}
	return automations, rows.Err()
}
