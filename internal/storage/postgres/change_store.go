package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// CreateChange inserts a change record.
func (s *Store) CreateChange(ctx context.Context, c monitor.ChangeRecord) error {
	keyChanges, err := json.Marshal(nonNil(c.KeyChanges))
	if err != nil {
		return fmt.Errorf("marshal key changes: %w", err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO changes (
	id, target_id, detected_at, severity, summary, key_changes, impact, before, after, notified
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID,
		c.TargetID,
		c.DetectedAt,
		string(c.Severity),
		c.Summary,
		keyChanges,
		c.Impact,
		c.Before,
		c.After,
		c.Notified,
	)
	if err != nil {
		return fmt.Errorf("insert change: %w", err)
	}
	return nil
}

// MarkNotified updates the only mutable column of a change record.
func (s *Store) MarkNotified(ctx context.Context, id string, notified bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE changes SET notified = $1 WHERE id = $2`, notified, id)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("change %s: %w", id, monitor.ErrNotFound)
	}
	return nil
}

// ListChanges returns a target's change records, newest first.
func (s *Store) ListChanges(ctx context.Context, targetID string) ([]monitor.ChangeRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, target_id, detected_at, severity, summary, key_changes, impact, before, after, notified
FROM changes WHERE target_id = $1 ORDER BY detected_at DESC`, targetID)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	changes := []monitor.ChangeRecord{}
	for rows.Next() {
		var (
			c          monitor.ChangeRecord
			severity   string
			keyChanges []byte
		)
		if err := rows.Scan(
			&c.ID,
			&c.TargetID,
			&c.DetectedAt,
			&severity,
			&c.Summary,
			&keyChanges,
			&c.Impact,
			&c.Before,
			&c.After,
			&c.Notified,
		); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Severity = monitor.Severity(severity)
		if len(keyChanges) > 0 {
			if err := json.Unmarshal(keyChanges, &c.KeyChanges); err != nil {
				return nil, fmt.Errorf("decode key changes for %s: %w", c.ID, err)
			}
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
