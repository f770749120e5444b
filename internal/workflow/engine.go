package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/change-monitor/internal/monitor"
	"github.com/JakeFAU/change-monitor/internal/notify"
)

const (
	defaultFetchTimeout    = 3 * time.Minute
	defaultClassifyTimeout = 60 * time.Second
	defaultNotifyTimeout   = 30 * time.Second
)

// Classifier compares snapshots. Implementations never fail.
type Classifier interface {
	Classify(ctx context.Context, old, updated monitor.Snapshot, t monitor.TargetType) monitor.Verdict
}

// Gate decides on and delivers notifications.
type Gate interface {
	Decide(severity monitor.Severity, recipient string) notify.Decision
	Dispatch(ctx context.Context, n monitor.Notification) notify.Outcome
}

// Record is what the persist stage hands to a Recorder.
type Record struct {
	Target   monitor.Target
	Snapshot monitor.Snapshot
	Verdict  monitor.Verdict
	// Change is set when the verdict warrants a change record.
	Change bool
}

// Recorder persists run results. Record runs before any notification is
// dispatched and returns the change record id, if one was created.
// MarkNotified then stores the notifier's outcome on that record.
type Recorder interface {
	Record(ctx context.Context, rec Record) (changeID string, err error)
	MarkNotified(ctx context.Context, changeID string, notified bool) error
}

// Config holds per-stage timeouts.
type Config struct {
	FetchTimeout    time.Duration
	ClassifyTimeout time.Duration
	NotifyTimeout   time.Duration
}

// Input starts a run. Recorder may be nil, in which case nothing is
// persisted.
type Input struct {
	Target   monitor.Target
	Recorder Recorder
}

// Result is the externally visible summary of a run.
type Result struct {
	// Snapshot is valid only when Fetched is true.
	Snapshot     monitor.Snapshot
	Fetched      bool
	Verdict      monitor.Verdict
	ShouldRecord bool
	Notification NotificationResult
	// ChangeID names the persisted change record, if any.
	ChangeID string
	FetchErr error
	// Err is set when a stage panicked or persistence failed.
	Err     error
	Trace   []string
	Outcome monitor.RunOutcome
}

// Engine runs the monitoring state machine.
type Engine struct {
	fetcher    monitor.SnapshotFetcher
	classifier Classifier
	gate       Gate
	cfg        Config
	logger     *zap.Logger
}

// NewEngine builds an Engine.
func NewEngine(
	fetcher monitor.SnapshotFetcher,
	classifier Classifier,
	gate Gate,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = defaultClassifyTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{fetcher: fetcher, classifier: classifier, gate: gate, cfg: cfg, logger: logger}
}

// Run executes every stage for in.Target and never panics.
func (e *Engine) Run(ctx context.Context, in Input) Result {
	state := newState(in.Target)
	for state.Next != StageDone {
		state = e.step(ctx, in.Recorder, state)
	}
	return Result{
		Snapshot:     state.Snapshot,
		Fetched:      state.Fetched,
		Verdict:      state.Verdict,
		ShouldRecord: state.ShouldRecord(),
		Notification: state.Notification,
		ChangeID:     state.ChangeID,
		FetchErr:     state.FetchErr,
		Err:          state.Err,
		Trace:        state.Trace,
		Outcome:      state.Outcome(),
	}
}

func (e *Engine) step(ctx context.Context, rec Recorder, in State) (out State) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("workflow stage panicked",
				zap.String("target_id", in.Target.ID),
				zap.Stringer("stage", in.Next),
				zap.Any("panic", r),
			)
			out = in.withErr(fmt.Errorf("%s stage panicked: %v", in.Next, r)).
				withTrace("%s: internal error", in.Next).
				then(StageDone)
		}
	}()

	switch in.Next {
	case StageFetch:
		return e.fetch(ctx, in)
	case StageAnalyze:
		return e.analyze(ctx, in)
	case StagePersist:
		return e.persist(ctx, rec, in)
	case StageNotify:
		return e.notify(ctx, rec, in)
	default:
		return in.then(StageDone)
	}
}

func (e *Engine) fetch(ctx context.Context, s State) State {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	snap, err := e.fetcher.Fetch(fetchCtx, s.Target)
	if err != nil {
		return s.withFetchErr(err).withTrace("fetch failed: %v", err).then(StageDone)
	}
	return s.withSnapshot(snap).withTrace("fetched %s (digest %s)", s.Target.URL, shortDigest(snap.Digest)).then(StageAnalyze)
}

func (e *Engine) analyze(ctx context.Context, s State) State {
	if len(s.Target.LastSnapshot) == 0 {
		return s.withBaseline().withTrace("baseline established").then(StagePersist)
	}
	previous, err := monitor.DecodeSnapshot(s.Target.LastSnapshot)
	if err != nil {
		return s.withBaseline().
			withTrace("previous snapshot unreadable (%v)", err).
			withTrace("baseline established").
			then(StagePersist)
	}

	classifyCtx, cancel := context.WithTimeout(ctx, e.cfg.ClassifyTimeout)
	defer cancel()
	verdict := e.classifier.Classify(classifyCtx, previous, s.Snapshot, s.Target.Type)
	s = s.withVerdict(verdict)

	switch {
	case !verdict.HasChanges:
		return s.withTrace("no changes detected (%s)", verdict.Analyzer).then(StagePersist)
	case !verdict.Severity.Notifiable():
		return s.withTrace("%s change via %s: %s", verdict.Severity, verdict.Analyzer, verdict.Summary).
			withTrace("change below notification threshold").
			then(StagePersist)
	default:
		return s.withTrace("%s change via %s: %s", verdict.Severity, verdict.Analyzer, verdict.Summary).
			then(StagePersist)
	}
}

func (e *Engine) persist(ctx context.Context, rec Recorder, s State) State {
	next := StageDone
	if s.ShouldRecord() {
		next = StageNotify
	}
	if rec == nil {
		return s.then(next)
	}

	id, err := rec.Record(ctx, Record{
		Target:   s.Target,
		Snapshot: s.Snapshot,
		Verdict:  s.Verdict,
		Change:   s.ShouldRecord(),
	})
	if err != nil {
		return s.withErr(fmt.Errorf("persist: %w", err)).
			withTrace("persist failed: %v", err).
			then(StageDone)
	}
	if id != "" {
		s = s.withChangeID(id).withTrace("change %s recorded", id)
	}
	return s.then(next)
}

func (e *Engine) notify(ctx context.Context, rec Recorder, s State) State {
	decision := e.gate.Decide(s.Verdict.Severity, s.Target.Owner)
	if !decision.Notify {
		return s.withNotification(NotificationResult{Reason: decision.Reason}).
			withTrace("notification skipped: %s", decision.Reason).
			then(StageDone)
	}

	notifyCtx, cancel := context.WithTimeout(ctx, e.cfg.NotifyTimeout)
	defer cancel()
	outcome := e.gate.Dispatch(notifyCtx, monitor.Notification{
		Recipient:  s.Target.Owner,
		TargetID:   s.Target.ID,
		URL:        s.Target.URL,
		Type:       s.Target.Type,
		Severity:   s.Verdict.Severity,
		Summary:    s.Verdict.Summary,
		KeyChanges: s.Verdict.KeyChanges,
	})
	s = s.withNotification(NotificationResult{Attempted: true, Sent: outcome.Sent, Reason: outcome.Reason})
	if !outcome.Sent {
		return s.withTrace("notification failed: %s", outcome.Reason).then(StageDone)
	}
	s = s.withTrace("notification sent to %s", s.Target.Owner)

	if rec != nil && s.ChangeID != "" {
		if err := rec.MarkNotified(ctx, s.ChangeID, true); err != nil {
			e.logger.Warn("mark notified failed",
				zap.String("target_id", s.Target.ID),
				zap.String("change_id", s.ChangeID),
				zap.Error(err),
			)
			s = s.withTrace("notified flag not saved: %v", err)
		}
	}
	return s.then(StageDone)
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
