package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonoton/percept/videosource"
)

// Queue errors
var (
	// ErrClosed signals orderly shutdown, not a fault
	ErrClosed = errors.New("pipeline: queue closed")
	// ErrEmpty is returned by a non-blocking or timed Dequeue with no entry
	ErrEmpty = errors.New("pipeline: queue empty")
	// ErrFull is returned by a Block policy Enqueue whose timeout elapsed
	ErrFull = errors.New("pipeline: queue full")
)

// DropFunc is called outside the queue lock for each discarded envelope
type DropFunc func(env *videosource.Envelope, reason Reason)

// Queue is a bounded ordered buffer of envelopes guarded by a mutex and
// condition pair. Full-queue behavior follows the current Policy, which the
// backpressure controller may switch at runtime; the policy is a single
// atomic value so enqueuers never take an extra lock to read it.
type Queue struct {
	mu           sync.Mutex
	notEmpty     *sync.Cond
	notFull      *sync.Cond
	items        []queueEntry
	capacity     int
	closed       bool
	policy       int32
	blockTimeout time.Duration
	onDrop       DropFunc
}

type queueEntry struct {
	env        *videosource.Envelope
	enqueuedAt time.Time
}

// NewQueue creates a new Queue with the capacity and policy given.
// onDrop may be nil.
func NewQueue(capacity int, policy Policy, onDrop DropFunc) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{
		items:    make([]queueEntry, 0, capacity),
		capacity: capacity,
		onDrop:   onDrop,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	q.SetPolicy(policy)
	return q
}

// SetBlockTimeout bounds how long a Block policy Enqueue may wait.
// Zero means wait until space or close.
func (q *Queue) SetBlockTimeout(timeout time.Duration) {
	q.mu.Lock()
	q.blockTimeout = timeout
	q.mu.Unlock()
}

// SetPolicy atomically switches the full-queue policy
func (q *Queue) SetPolicy(policy Policy) {
	atomic.StoreInt32((*int32)(&q.policy), int32(policy))
}

// Policy returns the current full-queue policy
func (q *Queue) Policy() Policy {
	return Policy(atomic.LoadInt32((*int32)(&q.policy)))
}

// Enqueue adds an envelope per the current policy. Returns ErrClosed once
// the queue is closed and ErrFull when a Block timeout elapses. Under the
// drop policies the discarded envelope is handed to onDrop after the lock
// is released and Enqueue returns nil.
func (q *Queue) Enqueue(env *videosource.Envelope) error {
	var dropped *videosource.Envelope
	var reason Reason
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	switch q.Policy() {
	case Block:
		var deadline time.Time
		if q.blockTimeout > 0 {
			deadline = time.Now().Add(q.blockTimeout)
			timer := time.AfterFunc(q.blockTimeout, func() {
				q.mu.Lock()
				q.notFull.Broadcast()
				q.mu.Unlock()
			})
			defer timer.Stop()
		}
		for len(q.items) >= q.capacity && !q.closed {
			if !deadline.IsZero() && !time.Now().Before(deadline) {
				q.mu.Unlock()
				return ErrFull
			}
			q.notFull.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
	case DropOldest:
		if len(q.items) >= q.capacity {
			dropped = q.items[0].env
			q.items = q.items[1:]
			reason = ReasonDropOldest
		}
	case DropNewest:
		if len(q.items) >= q.capacity {
			q.mu.Unlock()
			if q.onDrop != nil {
				q.onDrop(env, ReasonDropNewest)
			}
			return nil
		}
	}
	q.items = append(q.items, queueEntry{env: env, enqueuedAt: time.Now()})
	q.notEmpty.Signal()
	q.mu.Unlock()
	if dropped != nil && q.onDrop != nil {
		q.onDrop(dropped, reason)
	}
	return nil
}

// Dequeue removes the head entry and returns it with its residency time.
// A negative timeout blocks until an entry arrives or the queue closes,
// zero never blocks, positive waits up to the timeout. A closed queue
// drains its remaining entries before reporting ErrClosed.
func (q *Queue) Dequeue(timeout time.Duration) (*videosource.Envelope, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()
	}
	for len(q.items) == 0 {
		if q.closed {
			return nil, 0, ErrClosed
		}
		if timeout == 0 {
			return nil, 0, ErrEmpty
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, 0, ErrEmpty
		}
		q.notEmpty.Wait()
	}
	entry := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return entry.env, time.Since(entry.enqueuedAt), nil
}

// Close stops further enqueues and wakes all waiters. Blocked enqueuers
// receive ErrClosed; dequeuers drain remaining entries first.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.mu.Unlock()
}

// Len returns the current occupancy
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the capacity
func (q *Queue) Cap() int {
	return q.capacity
}
