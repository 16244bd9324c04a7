// Package serial provides a single-goroutine execution queue. Every function
// posted to a Queue runs on the same goroutine, one at a time, in post order.
// State owned by the queue needs no locks as long as it is only touched from
// posted functions.
package serial

import (
	"context"
	"errors"
	"sync"

	"github.com/ibs-source/delivery-engine/internal/log"
)

// ErrQueueClosed is returned when posting to a closed queue.
var ErrQueueClosed = errors.New("serial queue closed")

// Queue runs posted functions on one goroutine.
type Queue struct {
	tasks  chan func()
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	log    *log.Logger
}

// New starts a queue with the given buffer capacity.
func New(capacity int, logger *log.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{
		tasks: make(chan func(), capacity),
		done:  make(chan struct{}),
		log:   logger,
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for fn := range q.tasks {
		q.exec(fn)
	}
}

// exec runs one task, keeping the worker alive if it panics.
func (q *Queue) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Recovered panic in serial task: %v", r)
		}
	}()
	fn()
}

// Post enqueues fn. It blocks only while the buffer is full.
// Must not be called from a posted function when the buffer may be full.
func (q *Queue) Post(fn func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.tasks <- fn
	return nil
}

// Do runs fn on the queue and waits for it to finish or for ctx to end.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := q.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, runs what is already queued and waits for the
// worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	<-q.done
}
