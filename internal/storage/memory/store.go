package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// Store keeps targets, change records and run summaries in memory. It
// implements monitor.TargetStore, monitor.ChangeStore and monitor.RunStore.
type Store struct {
	mu      sync.RWMutex
	targets map[string]monitor.Target
	changes map[string][]monitor.ChangeRecord
	runs    []monitor.RunRecord
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		targets: make(map[string]monitor.Target),
		changes: make(map[string][]monitor.ChangeRecord),
	}
}

// CreateTarget stores a new target.
func (s *Store) CreateTarget(_ context.Context, target monitor.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.targets[target.ID]; exists {
		return fmt.Errorf("target %s already exists", target.ID)
	}
	s.targets[target.ID] = copyTarget(target)
	return nil
}

// GetTarget fetches a target by ID.
func (s *Store) GetTarget(_ context.Context, id string) (monitor.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.targets[id]
	if !ok {
		return monitor.Target{}, fmt.Errorf("target %s: %w", id, monitor.ErrNotFound)
	}
	return copyTarget(target), nil
}

// ListTargets returns every target ordered by creation time.
func (s *Store) ListTargets(_ context.Context) ([]monitor.Target, error) {
	return s.list(func(monitor.Target) bool { return true }), nil
}

// ListActiveTargets returns active targets ordered by creation time.
func (s *Store) ListActiveTargets(_ context.Context) ([]monitor.Target, error) {
	return s.list(func(t monitor.Target) bool { return t.Active }), nil
}

func (s *Store) list(keep func(monitor.Target) bool) []monitor.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Target, 0, len(s.targets))
	for _, t := range s.targets {
		if keep(t) {
			out = append(out, copyTarget(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeactivateTarget stops a target from being scheduled.
func (s *Store) DeactivateTarget(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.targets[id]
	if !ok {
		return fmt.Errorf("target %s: %w", id, monitor.ErrNotFound)
	}
	target.Active = false
	s.targets[id] = target
	return nil
}

// RecordFetch replaces the target's last snapshot and check time.
func (s *Store) RecordFetch(_ context.Context, id string, snapshot []byte, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.targets[id]
	if !ok {
		return fmt.Errorf("target %s: %w", id, monitor.ErrNotFound)
	}
	checked := checkedAt.UTC()
	target.LastChecked = &checked
	target.LastSnapshot = slices.Clone(snapshot)
	s.targets[id] = target
	return nil
}

// CreateChange appends a change record for its target.
func (s *Store) CreateChange(_ context.Context, record monitor.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[record.TargetID]; !ok {
		return fmt.Errorf("target %s: %w", record.TargetID, monitor.ErrNotFound)
	}
	record.KeyChanges = slices.Clone(record.KeyChanges)
	s.changes[record.TargetID] = append(s.changes[record.TargetID], record)
	return nil
}

// MarkNotified updates the notified flag of a change record.
func (s *Store) MarkNotified(_ context.Context, id string, notified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for targetID, records := range s.changes {
		for i := range records {
			if records[i].ID == id {
				s.changes[targetID][i].Notified = notified
				return nil
			}
		}
	}
	return fmt.Errorf("change %s: %w", id, monitor.ErrNotFound)
}

// ListChanges returns a target's change records, newest first.
func (s *Store) ListChanges(_ context.Context, targetID string) ([]monitor.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.changes[targetID]
	out := make([]monitor.ChangeRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		rec.KeyChanges = slices.Clone(rec.KeyChanges)
		out = append(out, rec)
	}
	return out, nil
}

// RecordRun appends a run summary.
func (s *Store) RecordRun(_ context.Context, run monitor.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Trace = slices.Clone(run.Trace)
	s.runs = append(s.runs, run)
	return nil
}

// Runs returns the recorded run summaries in insertion order.
func (s *Store) Runs() []monitor.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.runs)
}

func copyTarget(t monitor.Target) monitor.Target {
	t.LastSnapshot = slices.Clone(t.LastSnapshot)
	if t.LastChecked != nil {
		checked := *t.LastChecked
		t.LastChecked = &checked
	}
	return t
}
