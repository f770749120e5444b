// Package scheduler enqueues fetch jobs for targets whose check interval has
// elapsed.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/change-monitor/internal/metrics"
	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// DefaultInterval is the scan cadence.
const DefaultInterval = 600 * time.Second

// TargetLister returns the targets eligible for scheduling.
type TargetLister interface {
	ListActiveTargets(ctx context.Context) ([]monitor.Target, error)
}

// Interval maps a frequency to its check interval. Unknown values are daily.
func Interval(f monitor.Frequency) time.Duration {
	switch f {
	case monitor.FrequencyHourly:
		return time.Hour
	case monitor.FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// IsDue reports whether t needs a check at now. A never-checked target is
// always due, and the exact interval boundary counts as due.
func IsDue(t monitor.Target, now time.Time) bool {
	if t.LastChecked == nil {
		return true
	}
	return now.Sub(t.LastChecked.UTC()) >= Interval(t.Frequency)
}

// ScanReport summarizes one scan.
type ScanReport struct {
	Scanned  int
	Enqueued int
	Skipped  int
	Failed   int
}

// Scheduler scans targets and enqueues due ones.
type Scheduler struct {
	targets  TargetLister
	jobs     monitor.JobScheduler
	clock    monitor.Clock
	interval time.Duration
	logger   *zap.Logger
}

// New builds a Scheduler.
func New(
	targets TargetLister,
	jobs monitor.JobScheduler,
	clock monitor.Clock,
	interval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{targets: targets, jobs: jobs, clock: clock, interval: interval, logger: logger}
}

// Scan enqueues one job per due target. Only a failure to list targets is
// returned; per-target problems are counted and logged.
func (s *Scheduler) Scan(ctx context.Context) (ScanReport, error) {
	targets, err := s.targets.ListActiveTargets(ctx)
	if err != nil {
		return ScanReport{}, fmt.Errorf("list active targets: %w", err)
	}

	now := s.clock.Now().UTC()
	report := ScanReport{Scanned: len(targets)}
	for _, t := range targets {
		if t.ID == "" || t.URL == "" {
			report.Failed++
			s.logger.Warn("skipping malformed target", zap.String("target_id", t.ID), zap.String("url", t.URL))
			continue
		}
		if !IsDue(t, now) {
			report.Skipped++
			s.logger.Debug("target not due",
				zap.String("target_id", t.ID),
				zap.Time("next_due", t.LastChecked.UTC().Add(Interval(t.Frequency))),
			)
			continue
		}
		job := monitor.FetchJob{TargetID: t.ID, URL: t.URL, Type: t.Type, Attempt: 1, Submitted: now.Unix()}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			report.Failed++
			s.logger.Error("enqueue failed", zap.String("target_id", t.ID), zap.Error(err))
			continue
		}
		report.Enqueued++
	}

	metrics.ObserveScheduled(report.Enqueued)
	s.logger.Info("scan complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("enqueued", report.Enqueued),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// Run scans immediately and then on every tick until ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
