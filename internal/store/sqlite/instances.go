package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lumora/pulse/internal/model"
	"github.com/lumora/pulse/internal/store"
)

// GetInstance returns the instance for the (automation, subscriber) pair.
func (s *Store) GetInstance(ctx context.Context, automationID, subscriberID string) (*model.AutomationInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT automation_id, subscriber_id, current_step, due_at, status, started_at, failure_reason
		FROM instances WHERE automation_id = ? AND subscriber_id = ?
	`, automationID, subscriberID)
	return scanInstance(row)
}

// PutInstance upserts the instance row.
func (s *Store) PutInstance(ctx context.Context, instance *model.AutomationInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (automation_id, subscriber_id, current_step, due_at, status, started_at, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(automation_id, subscriber_id) DO UPDATE SET
			current_step = excluded.current_step,
			due_at = excluded.due_at,
			status = excluded.status,
			started_at = excluded.started_at,
			failure_reason = excluded.failure_reason
	`,
		instance.AutomationID,
		instance.SubscriberID,
		instance.CurrentStepIndex,
		formatTime(instance.DueAt),
		string(instance.Status),
		formatTime(instance.StartedAt),
		instance.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("write instance %s/%s: %w", instance.AutomationID, instance.SubscriberID, err)
	}
	return nil
}

// ListActiveInstances returns every active instance, ordered by due time
// so schedule recovery processes the most overdue first.
func (s *Store) ListActiveInstances(ctx context.Context) ([]*model.AutomationInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT automation_id, subscriber_id, current_step, due_at, status, started_at, failure_reason
		FROM instances WHERE status = ? ORDER BY due_at
	`, string(model.InstanceActive))
	if err != nil {
		return nil, fmt.Errorf("list active instances: %w", err)
	}
	defer rows.Close()

	var instances []*model.AutomationInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanInstance.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*model.AutomationInstance, error) {
	var (
		inst      model.AutomationInstance
		status    string
		dueAt     string
		startedAt string
	)
	err := row.Scan(&inst.AutomationID, &inst.SubscriberID, &inst.CurrentStepIndex, &dueAt, &status, &startedAt, &inst.FailureReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	inst.Status = model.InstanceStatus(status)
	if inst.DueAt, err = parseTime(dueAt); err != nil {
		return nil, err
	}
	if inst.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	return &inst, nil
}
