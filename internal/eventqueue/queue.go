// Package eventqueue provides the bounded, blocking FIFO that connects
// event producers to the classifier.
//
// Producers block in Push while the queue is full; consumers block in Pop
// while it is empty. Shutdown releases every waiter: producers return
// ErrShutdown without enqueuing, consumers drain what is left and then
// receive ErrShutdown.
package eventqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

// DefaultCapacity bounds memory while tolerating short producer bursts.
const DefaultCapacity = 128

// ErrShutdown is returned by blocking calls once the queue was shut down.
var ErrShutdown = errors.New("event queue shut down")

// Queue is a fixed-capacity ring of events guarded by one mutex and two
// condition variables.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	// settled is broadcast when unfinished reaches zero or on shutdown.
	settled *sync.Cond

	buf   []domain.Event
	head  int
	count int

	// unfinished counts pushed events not yet acknowledged with Done.
	unfinished int
	alive      bool
}

// New creates a queue holding at most capacity events.
func New(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, errors.New("event queue capacity must be at least 1")
	}
	q := &Queue{
		buf:   make([]domain.Event, capacity),
		alive: true,
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	q.settled = sync.NewCond(&q.mu)
	return q, nil
}

// Push appends event, blocking while the queue is full. It returns
// ErrShutdown, without enqueuing, if the queue is or becomes shut down
// before space is available.
func (q *Queue) Push(event domain.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.alive && q.count == len(q.buf) {
		q.notFull.Wait()
	}
	if !q.alive {
		return ErrShutdown
	}

	q.buf[(q.head+q.count)%len(q.buf)] = event
	q.count++
	q.unfinished++
	q.notEmpty.Broadcast()
	return nil
}

// Pop removes and returns the oldest event, blocking while the queue is
// empty. After shutdown it keeps returning queued events without blocking
// and reports ErrShutdown once the queue is empty.
func (q *Queue) Pop() (domain.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.alive && q.count == 0 {
		q.notEmpty.Wait()
	}
	if q.count == 0 {
		return domain.Event{}, ErrShutdown
	}

	event := q.buf[q.head]
	q.buf[q.head] = domain.Event{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.notFull.Broadcast()
	return event, nil
}

// Drain removes every queued event and returns how many were removed.
// Drained events count as acknowledged. Liveness is unaffected.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	for i := 0; i < n; i++ {
		q.buf[(q.head+i)%len(q.buf)] = domain.Event{}
	}
	q.head = 0
	q.count = 0
	q.ack(n)
	if n > 0 {
		q.notFull.Broadcast()
	}
	return n
}

// Done acknowledges one popped event.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ack(1)
}

func (q *Queue) ack(n int) {
	q.unfinished -= n
	if q.unfinished < 0 {
		q.unfinished = 0
	}
	if q.unfinished == 0 {
		q.settled.Broadcast()
	}
}

// Join blocks until every pushed event was acknowledged, the queue shuts
// down, or ctx ends.
func (q *Queue) Join(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.settled.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.alive && q.unfinished > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.settled.Wait()
	}
	if q.unfinished > 0 {
		return ErrShutdown
	}
	return nil
}

// Shutdown marks the queue dead and wakes every blocked caller. It is
// safe to call more than once.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.alive {
		return
	}
	q.alive = false
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
	q.settled.Broadcast()
}

// Alive reports whether Shutdown has not been called yet.
func (q *Queue) Alive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.alive
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the fixed capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}
