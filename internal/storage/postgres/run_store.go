package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// RecordRun inserts a run summary into monitor_runs.
func (s *Store) RecordRun(ctx context.Context, r monitor.RunRecord) error {
	trace, err := json.Marshal(nonNil(r.Trace))
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	var errText *string
	if r.Error != "" {
		errText = &r.Error
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO monitor_runs (
	id, target_id, attempt, started_at, finished_at, outcome, error_message, trace
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID,
		r.TargetID,
		r.Attempt,
		r.StartedAt,
		r.FinishedAt,
		string(r.Outcome),
		errText,
		trace,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}
