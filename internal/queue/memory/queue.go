// Package memory provides an in-process job queue for single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// ErrClosed is returned after Close.
var ErrClosed = monitor.ErrQueueClosed

var _ monitor.JobQueue = (*Queue)(nil)

// Queue is a bounded in-memory queue with context-aware operations and
// timer-based delayed delivery.
type Queue struct {
	ch   chan monitor.FetchJob
	done chan struct{}

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:     make(chan monitor.FetchJob, capacity),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job monitor.FetchJob) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- job:
		return nil
	}
}

// EnqueueAfter schedules job for delivery after delay and returns at once.
// The delivery outlives ctx cancellation but not Close.
func (q *Queue) EnqueueAfter(ctx context.Context, job monitor.FetchJob, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}
	detached := context.WithoutCancel(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		// Errors here mean the queue closed while the job was pending.
		_ = q.Enqueue(detached, job)
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (monitor.FetchJob, error) {
	select {
	case <-ctx.Done():
		return monitor.FetchJob{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return monitor.FetchJob{}, ErrClosed
	case job := <-q.ch:
		return job, nil
	}
}

// Pending reports how many delayed jobs have not been delivered yet.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close stops pending timers and releases blocked callers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for timer := range q.timers {
		timer.Stop()
	}
	clear(q.timers)
	close(q.done)
	q.closed = true
}
