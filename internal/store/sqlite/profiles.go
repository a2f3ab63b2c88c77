package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lumora/pulse/internal/model"
	"github.com/lumora/pulse/internal/store"
)

// GetProfile returns the profile with its full event log in arrival order.
func (s *Store) GetProfile(ctx context.Context, subscriberID string) (*model.UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, contact, name, preferences, segments, lifetime_value, last_activity, created_at
		FROM profiles WHERE id = ?
	`, subscriberID)

	var (
		p               model.UserProfile
		preferencesJSON string
		segsJSON        string
		lastActivity    string
		createdAt       string
	)
	err := row.Scan(&p.ID, &p.Contact, &p.Name, &preferencesJSON, &segsJSON, &p.LifetimeValue, &lastActivity, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", subscriberID, err)
	}

	if err := json.Unmarshal([]byte(preferencesJSON), &p.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences for %s: %w", subscriberID, err)
	}
	if err := json.Unmarshal([]byte(segsJSON), &p.Segments); err != nil {
		return nil, fmt.Errorf("decode segments for %s: %w", subscriberID, err)
	}
	if p.LastActivity, err = parseTime(lastActivity); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	if p.Events, err = s.readEvents(ctx, subscriberID); err != nil {
		return nil, err
	}
	return &p, nil
}

// readEvents loads the event log in arrival (rowid) order.
func (s *Store) readEvents(ctx context.Context, subscriberID string) ([]model.BehavioralEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, properties, ts FROM events
		WHERE subscriber_id = ? ORDER BY rowid
	`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("read events for %s: %w", subscriberID, err)
	}
	defer rows.Close()

	events := []model.BehavioralEvent{}
	for rows.Next() {
		var (
			ev        model.BehavioralEvent
			propsJSON string
			ts        string
		)
		if err := rows.Scan(&ev.ID, &ev.Kind, &propsJSON, &ts); err != nil {
			return nil, fmt.Errorf("scan event for %s: %w", subscriberID, err)
		}
		if err := json.Unmarshal([]byte(propsJSON), &ev.Properties); err != nil {
			return nil, fmt.Errorf("decode event %s properties: %w", ev.ID, err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PutProfile upserts the profile row and appends newEvents in one
// transaction. Event inserts use ON CONFLICT(id) DO NOTHING so a retried
// write cannot duplicate log entries.
func (s *Store) PutProfile(ctx context.Context, profile *model.UserProfile, newEvents []model.BehavioralEvent) error {
	preferencesJSON, err := json.Marshal(profile.Preferences)
	if err != nil {
		return fmt.Errorf("encode preferences for %s: %w", profile.ID, err)
	}
	segsJSON, err := json.Marshal(profile.Segments)
	if err != nil {
		return fmt.Errorf("encode segments for %s: %w", profile.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile write: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (id, contact, name, preferences, segments, lifetime_value, last_activity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			contact = excluded.contact,
			name = excluded.name,
			preferences = excluded.preferences,
			segments = excluded.segments,
			lifetime_value = excluded.lifetime_value,
			last_activity = excluded.last_activity
	`,
		profile.ID,
		profile.Contact,
		profile.Name,
		string(preferencesJSON),
		string(segsJSON),
		profile.LifetimeValue,
		formatTime(profile.LastActivity),
		formatTime(profile.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("write profile %s: %w", profile.ID, err)
	}

	for _, ev := range newEvents {
		propsJSON, err := json.Marshal(ev.Properties)
		if err != nil {
			return fmt.Errorf("encode event %s properties: %w", ev.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (id, subscriber_id, kind, properties, ts)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, ev.ID, profile.ID, ev.Kind, string(propsJSON), formatTime(ev.Timestamp))
		if err != nil {
			return fmt.Errorf("write event %s: %w", ev.ID, err)
		}
	}

	return tx.Commit()
}

// SubscriberIDs lists every stored subscriber id.
func (s *Store) SubscriberIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
