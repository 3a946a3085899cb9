// Package dispatcher manages worker fan-out over the paper queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
)

// Runner is a worker loop that returns once its queue is drained or ctx ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a fixed pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
	wg      sync.WaitGroup
	once    sync.Once
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Start launches every worker. It is a no-op after the first call.
func (d *Dispatcher) Start(ctx context.Context) {
	d.once.Do(func() {
		for _, w := range d.workers {
			d.wg.Add(1)
			go func(wk Runner) {
				defer d.wg.Done()
				wk.Run(ctx)
			}(w)
		}
	})
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, ref crawler.PaperReference) error {
	if err := d.queue.Enqueue(ctx, ref); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Close stops intake; workers finish what is already queued.
func (d *Dispatcher) Close() {
	d.queue.Close()
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Run starts the workers, and blocks until the queue is closed and drained or
// ctx finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	d.Start(ctx)
	d.Wait()
}
