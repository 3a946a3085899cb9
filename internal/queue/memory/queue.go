// Package memory provides the in-process work queue feeding the worker pool.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/proceedings-crawler/internal/crawler"
)

// Queue is a bounded in-memory FIFO of paper references with context-aware
// operations. Enqueue blocks while the buffer is full, which applies
// backpressure to the year crawl.
type Queue struct {
	ch      chan crawler.PaperReference
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity. A capacity below
// one yields an unbuffered queue.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan crawler.PaperReference, capacity),
	}
}

// Enqueue pushes a reference into the queue or returns if the context ends.
// Enqueue after Close returns crawler.ErrQueueClosed.
func (q *Queue) Enqueue(ctx context.Context, ref crawler.PaperReference) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- ref:
		return nil
	}
}

// Dequeue pops the next reference, respecting context cancellation. Once the
// queue is closed and drained it returns crawler.ErrQueueClosed.
func (q *Queue) Dequeue(ctx context.Context) (crawler.PaperReference, error) {
	select {
	case <-ctx.Done():
		return crawler.PaperReference{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case ref, ok := <-q.ch:
		if !ok {
			return crawler.PaperReference{}, crawler.ErrQueueClosed
		}
		return ref, nil
	}
}

// Len reports how many references are buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops intake. Buffered references remain dequeueable.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

// Drain removes and returns every reference still buffered without blocking.
// It is meant for a queue whose consumers have stopped.
func (q *Queue) Drain() []crawler.PaperReference {
	var left []crawler.PaperReference
	for {
		select {
		case ref, ok := <-q.ch:
			if !ok {
				return left
			}
			left = append(left, ref)
		default:
			return left
		}
	}
}
