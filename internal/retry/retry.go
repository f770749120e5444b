// Package retry reschedules fetch jobs that failed because the provider was
// still preparing content.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/change-monitor/internal/metrics"
	"github.com/JakeFAU/change-monitor/internal/monitor"
)

const (
	// DefaultMaxRetries bounds re-executions after the first attempt.
	DefaultMaxRetries = 3
	// DefaultDelay is used when the error carries no retry hint.
	DefaultDelay = 180 * time.Second
)

// Outcome classifies how a failed job was handled.
type Outcome string

// Retry outcomes.
const (
	Rescheduled Outcome = "rescheduled"
	Exhausted   Outcome = "exhausted"
	Terminal    Outcome = "terminal"
)

// Decision reports the coordinator's handling of a failure.
type Decision struct {
	Outcome Outcome
	// Delay is set when the job was rescheduled.
	Delay time.Duration
	// Err is the final error for non-rescheduled outcomes.
	Err error
}

// Config bounds retries.
type Config struct {
	MaxRetries int
	Delay      time.Duration
}

// Coordinator decides whether failed jobs run again.
type Coordinator struct {
	scheduler monitor.JobScheduler
	cfg       Config
	logger    *zap.Logger
}

// New builds a Coordinator.
func New(scheduler monitor.JobScheduler, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{scheduler: scheduler, cfg: cfg, logger: logger}
}

// Handle inspects err from executing job. Only provider-transient failures
// under the retry bound are rescheduled. An exhausted job's error no longer
// matches ErrProviderTransient.
func (c *Coordinator) Handle(ctx context.Context, job monitor.FetchJob, err error) Decision {
	decision := c.decide(ctx, job, err)
	metrics.ObserveRetry(string(decision.Outcome))
	return decision
}

func (c *Coordinator) decide(ctx context.Context, job monitor.FetchJob, err error) Decision {
	if err == nil || !monitor.IsTransient(err) {
		return Decision{Outcome: Terminal, Err: err}
	}

	retries := max(job.Attempt, 1) - 1
	if retries >= c.cfg.MaxRetries {
		c.logger.Warn("retry budget exhausted",
			zap.String("target_id", job.TargetID),
			zap.Int("retries", retries),
			zap.Error(err),
		)
		return Decision{
			Outcome: Exhausted,
			Err:     monitor.NewPermanentError(fmt.Errorf("retry budget exhausted after %d retries: %v", retries, err)),
		}
	}

	delay := monitor.RetryHint(err)
	if delay <= 0 {
		delay = c.cfg.Delay
	}
	next := job.Next()
	if enqueueErr := c.scheduler.EnqueueAfter(ctx, next, delay); enqueueErr != nil {
		c.logger.Error("reschedule failed",
			zap.String("target_id", job.TargetID),
			zap.Error(enqueueErr),
		)
		return Decision{Outcome: Terminal, Err: errors.Join(err, fmt.Errorf("reschedule: %w", enqueueErr))}
	}

	c.logger.Info("job rescheduled",
		zap.String("target_id", job.TargetID),
		zap.Int("next_attempt", next.Attempt),
		zap.Duration("delay", delay),
	)
	return Decision{Outcome: Rescheduled, Delay: delay}
}
