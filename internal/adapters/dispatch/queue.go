// Package dispatch delivers adapter events in order on a dedicated
// goroutine, so handlers never run inside the caller's method.
package dispatch

import "sync"

// Queue is an unbounded FIFO of events drained by one goroutine.
type Queue struct {
	mu     sync.Mutex
	items  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

// Push enqueues fn. It is a no-op once the queue is closed.
func (q *Queue) Push(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close drains what is queued, then stops the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

// Run drains the queue until Close.
func (q *Queue) Run() {
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		q.mu.Unlock()
		for _, fn := range items {
			fn()
		}
		if len(items) > 0 {
			continue
		}
		select {
		case <-q.wake:
		case <-q.done:
			q.mu.Lock()
			rest := q.items
			q.items = nil
			q.mu.Unlock()
			for _, fn := range rest {
				fn()
			}
			return
		}
	}
}
