// Package dispatcher fans fetch jobs out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// Runner is a long-running consumer such as a worker.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher owns the worker pool and the submission side of the queue.
type Dispatcher struct {
	queue   monitor.JobScheduler
	workers []Runner
	clock   monitor.Clock
}

// New creates a Dispatcher.
func New(queue monitor.JobScheduler, workers []Runner, clock monitor.Clock) *Dispatcher {
	return &Dispatcher{queue: queue, workers: workers, clock: clock}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job monitor.FetchJob) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit enqueues an immediate first-attempt job for target.
func (d *Dispatcher) Submit(ctx context.Context, target monitor.Target) error {
	return d.Enqueue(ctx, monitor.FetchJob{
		TargetID:  target.ID,
		URL:       target.URL,
		Type:      target.Type,
		Attempt:   1,
		Submitted: d.clock.Now().Unix(),
	})
}
