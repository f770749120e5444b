package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

const targetColumns = `id, url, type, frequency, last_checked, last_snapshot, active, owner, created_at`

// CreateTarget inserts a new target row.
func (s *Store) CreateTarget(ctx context.Context, t monitor.Target) error {
	query := `INSERT INTO targets (` + targetColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := s.db.Exec(ctx, query,
		t.ID,
		t.URL,
		string(t.Type),
		string(t.Frequency),
		t.LastChecked,
		t.LastSnapshot,
		t.Active,
		t.Owner,
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

// GetTarget loads one target.
func (s *Store) GetTarget(ctx context.Context, id string) (monitor.Target, error) {
	row := s.db.QueryRow(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, id)
	t, err := scanTarget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Target{}, fmt.Errorf("target %s: %w", id, monitor.ErrNotFound)
	}
	if err != nil {
		return monitor.Target{}, fmt.Errorf("select target: %w", err)
	}
	return t, nil
}

// ListTargets returns every target ordered by creation time.
func (s *Store) ListTargets(ctx context.Context) ([]monitor.Target, error) {
	return s.listTargets(ctx, `SELECT `+targetColumns+` FROM targets ORDER BY created_at, id`)
}

// ListActiveTargets returns active targets ordered by creation time.
func (s *Store) ListActiveTargets(ctx context.Context) ([]monitor.Target, error) {
	return s.listTargets(ctx, `SELECT `+targetColumns+` FROM targets WHERE active ORDER BY created_at, id`)
}

func (s *Store) listTargets(ctx context.Context, query string) ([]monitor.Target, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	targets := []monitor.Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return targets, nil
}

// DeactivateTarget flips the active flag off. Rows are never deleted.
func (s *Store) DeactivateTarget(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE targets SET active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("target %s: %w", id, monitor.ErrNotFound)
	}
	return nil
}

// RecordFetch overwrites the last snapshot and check time.
func (s *Store) RecordFetch(ctx context.Context, id string, snapshot []byte, checkedAt time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE targets SET last_snapshot = $1, last_checked = $2 WHERE id = $3`,
		snapshot, checkedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("record fetch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("target %s: %w", id, monitor.ErrNotFound)
	}
	return nil
}

func scanTarget(row pgx.Row) (monitor.Target, error) {
	var (
		t         monitor.Target
		kind      string
		frequency string
	)
	err := row.Scan(
		&t.ID,
		&t.URL,
		&kind,
		&frequency,
		&t.LastChecked,
		&t.LastSnapshot,
		&t.Active,
		&t.Owner,
		&t.CreatedAt,
	)
	if err != nil {
		return monitor.Target{}, err
	}
	t.Type = monitor.TargetType(kind)
	t.Frequency = monitor.Frequency(frequency)
	return t, nil
}
