// Package worker executes monitoring runs for jobs pulled off the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/change-monitor/internal/metrics"
	"github.com/JakeFAU/change-monitor/internal/monitor"
	"github.com/JakeFAU/change-monitor/internal/retry"
	"github.com/JakeFAU/change-monitor/internal/workflow"
)

// ExcerptLimit bounds the before/after excerpts stored on change records.
const ExcerptLimit = 500

// Dequeuer yields fetch jobs.
type Dequeuer interface {
	Dequeue(ctx context.Context) (monitor.FetchJob, error)
}

// Runner executes one monitoring workflow.
type Runner interface {
	Run(ctx context.Context, in workflow.Input) workflow.Result
}

// Retrier handles failed fetches.
type Retrier interface {
	Handle(ctx context.Context, job monitor.FetchJob, err error) retry.Decision
}

// Config controls Worker behavior.
type Config struct {
	JobTimeout time.Duration
	// RunTopic receives one event per executed run when set.
	RunTopic string
}

// Worker consumes fetch jobs and persists their results.
type Worker struct {
	queue     Dequeuer
	targets   monitor.TargetStore
	changes   monitor.ChangeStore
	runs      monitor.RunStore
	engine    Runner
	retrier   Retrier
	publisher monitor.Publisher
	ids       monitor.IDGenerator
	clock     monitor.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher may be nil.
func New(
	queue Dequeuer,
	targets monitor.TargetStore,
	changes monitor.ChangeStore,
	runs monitor.RunStore,
	engine Runner,
	retrier Retrier,
	publisher monitor.Publisher,
	ids monitor.IDGenerator,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		targets:   targets,
		changes:   changes,
		runs:      runs,
		engine:    engine,
		retrier:   retrier,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, monitor.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("target_id", job.TargetID), zap.Int("attempt", job.Attempt))
		w.Process(ctx, job)
	}
}

// Process executes a single job end to end.
func (w *Worker) Process(ctx context.Context, job monitor.FetchJob) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	target, err := w.targets.GetTarget(ctx, job.TargetID)
	if err != nil {
		w.logger.Warn("load target failed", zap.String("target_id", job.TargetID), zap.Error(err))
		return
	}
	if !target.Active {
		w.logger.Debug("skipping inactive target", zap.String("target_id", target.ID))
		return
	}

	runCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	started := w.clock.Now()
	result := w.engine.Run(runCtx, workflow.Input{Target: target, Recorder: recorder{w}})

	run := monitor.RunRecord{
		TargetID:  target.ID,
		Attempt:   max(job.Attempt, 1),
		StartedAt: started,
		Outcome:   result.Outcome,
		Trace:     result.Trace,
	}
	var errs []error
	if result.Err != nil {
		w.logger.Error("run failed", zap.String("target_id", target.ID), zap.Error(result.Err))
		errs = append(errs, result.Err)
	}

	if result.FetchErr != nil {
		decision := w.retrier.Handle(ctx, job, result.FetchErr)
		switch decision.Outcome {
		case retry.Rescheduled:
			run.Outcome = monitor.OutcomeRescheduled
			run.Trace = append(run.Trace, fmt.Sprintf("rescheduled in %s", decision.Delay))
			errs = append(errs, result.FetchErr)
		default:
			errs = append(errs, decision.Err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		run.Error = err.Error()
	}
	run.FinishedAt = w.clock.Now()
	w.finish(ctx, run)
}

// recorder persists run results for the workflow engine.
type recorder struct{ w *Worker }

func (r recorder) Record(ctx context.Context, rec workflow.Record) (string, error) {
	return r.w.persist(ctx, rec)
}

func (r recorder) MarkNotified(ctx context.Context, changeID string, notified bool) error {
	return r.w.changes.MarkNotified(ctx, changeID, notified)
}

// persist stores a notifiable verdict as a change record with Notified
// unset, then advances the target's snapshot. A failed snapshot write leaves
// the previous snapshot in place so the next run compares against it again.
func (w *Worker) persist(ctx context.Context, rec workflow.Record) (string, error) {
	target := rec.Target
	encoded, err := rec.Snapshot.Encode()
	if err != nil {
		return "", err
	}

	var id string
	if rec.Change {
		if id, err = w.recordChange(ctx, rec, encoded); err != nil {
			return "", err
		}
	}
	if err := w.targets.RecordFetch(ctx, target.ID, encoded, w.clock.Now()); err != nil {
		return "", fmt.Errorf("record fetch: %w", err)
	}
	return id, nil
}

func (w *Worker) recordChange(ctx context.Context, rec workflow.Record, encoded []byte) (string, error) {
	id, err := w.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate change id: %w", err)
	}
	detected := rec.Verdict.AnalyzedAt
	if detected.IsZero() {
		detected = w.clock.Now()
	}
	record := monitor.ChangeRecord{
		ID:         id,
		TargetID:   rec.Target.ID,
		DetectedAt: detected,
		Severity:   rec.Verdict.Severity,
		Summary:    rec.Verdict.Summary,
		KeyChanges: rec.Verdict.KeyChanges,
		Impact:     rec.Verdict.Impact,
		Before:     monitor.Truncate(string(rec.Target.LastSnapshot), ExcerptLimit),
		After:      monitor.Truncate(string(encoded), ExcerptLimit),
	}
	if err := w.changes.CreateChange(ctx, record); err != nil {
		return "", fmt.Errorf("create change: %w", err)
	}
	w.logger.Info("change recorded",
		zap.String("target_id", rec.Target.ID),
		zap.String("change_id", id),
		zap.String("severity", string(record.Severity)),
	)
	return id, nil
}

type runEvent struct {
	monitor.RunRecord
}

func (e runEvent) Attributes() map[string]string {
	return map[string]string{
		"event":     "monitor_run",
		"target_id": e.TargetID,
		"outcome":   string(e.Outcome),
	}
}

func (w *Worker) finish(ctx context.Context, run monitor.RunRecord) {
	metrics.ObserveRun(string(run.Outcome))

	id, err := w.ids.NewID()
	if err != nil {
		w.logger.Error("generate run id failed", zap.String("target_id", run.TargetID), zap.Error(err))
		return
	}
	run.ID = id
	if err := w.runs.RecordRun(ctx, run); err != nil {
		w.logger.Error("record run failed", zap.String("target_id", run.TargetID), zap.Error(err))
	}

	if w.publisher != nil && w.cfg.RunTopic != "" {
		if _, err := w.publisher.Publish(ctx, w.cfg.RunTopic, runEvent{run}); err != nil {
			w.logger.Warn("publish run event failed", zap.String("target_id", run.TargetID), zap.Error(err))
		}
	}

	w.logger.Info("run finished",
		zap.String("target_id", run.TargetID),
		zap.String("outcome", string(run.Outcome)),
		zap.Int("attempt", run.Attempt),
		zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
	)
}
