// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package packetqueue

import (
	"errors"
	"sync"
	"time"

	"github.com/bureau-foundation/peersec/lib/clock"
)

// DefaultCacheSlack is the constant term in both node-pool watermark
// formulas when Config.CacheSlack is zero.
const DefaultCacheSlack = 16

var (
	// ErrClosed reports an operation on a closed queue. Items queued
	// before Close are still delivered; ErrClosed surfaces only once
	// the queue is both closed and empty (or on Put).
	ErrClosed = errors.New("packetqueue: queue closed")

	// ErrTimeout reports that a timed dequeue expired before an item
	// arrived. It distinguishes "no data yet" from delivery.
	ErrTimeout = errors.New("packetqueue: dequeue timed out")
)

// Config parameterizes a Queue.
type Config struct {
	// CacheSlack is the constant C in the node-pool watermarks.
	// Released nodes are pooled while len(pool) <= length/8 + C and
	// the pool is trimmed above length/4 + 10*C. Zero means
	// DefaultCacheSlack.
	CacheSlack int

	// Clock times DequeueTimeout. Nil means the real clock.
	Clock clock.Clock
}

// Queue is an unbounded FIFO connecting many producers to consumers,
// with blocking and timed dequeues. The enqueue of the first item into
// an empty queue wakes every blocked consumer at once.
//
// List nodes are recycled through a bounded pool so steady-state
// traffic does not allocate per packet. The pool is invisible in the
// queue's behavior: FIFO order and Len never depend on it.
type Queue[T any] struct {
	mu     sync.Mutex
	head   *node[T]
	tail   *node[T]
	length int
	pool   []*node[T]
	slack  int
	closed bool

	// wake is closed exactly when the queue transitions from empty to
	// non-empty (the broadcast) and replaced with a fresh channel when
	// it drains back to empty. Close also closes it to release
	// waiters.
	wake chan struct{}

	clk clock.Clock
}

type node[T any] struct {
	value T
	next  *node[T]
}

// New returns an empty queue.
func New[T any](config Config) *Queue[T] {
	slack := config.CacheSlack
	if slack <= 0 {
		slack = DefaultCacheSlack
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Queue[T]{
		slack: slack,
		wake:  make(chan struct{}),
		clk:   clk,
	}
}

// Put appends item to the queue. If the queue was empty, all blocked
// consumers are woken. Fails only on a closed queue.
func (q *Queue[T]) Put(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	n := q.takeNodeLocked()
	n.value = item

	if q.tail == nil {
		q.head = n
		q.tail = n
	} else {
		q.tail.next = n
		q.tail = n
	}
	q.length++

	if q.length == 1 {
		close(q.wake)
	}
	return nil
}

// Dequeue removes and returns the oldest item, blocking until one is
// available or the queue is closed and drained.
func (q *Queue[T]) Dequeue() (T, error) {
	return q.dequeue(nil)
}

// DequeueTimeout is Dequeue with an upper bound on the wait. A
// non-positive timeout polls: it returns an item if one is already
// queued and ErrTimeout otherwise.
func (q *Queue[T]) DequeueTimeout(timeout time.Duration) (T, error) {
	return q.dequeue(q.clk.After(timeout))
}

func (q *Queue[T]) dequeue(expired <-chan time.Time) (T, error) {
	for {
		q.mu.Lock()
		if q.length > 0 {
			item := q.popLocked()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-expired:
			var zero T
			return zero, ErrTimeout
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// PoolSize returns the number of recycled nodes currently held.
func (q *Queue[T]) PoolSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pool)
}

// Close marks the queue closed and wakes every blocked consumer.
// Items already queued remain dequeueable; once drained, consumers
// receive ErrClosed. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	// The wake channel is already closed whenever the queue holds
	// items; close it here only if waiters could be parked on it.
	if q.length == 0 {
		close(q.wake)
	}
}

// popLocked unlinks the head node and recycles it. Caller holds q.mu
// and has checked length > 0.
func (q *Queue[T]) popLocked() T {
	n := q.head
	q.head = n.next
	if q.head == nil {
		q.tail = nil
	}
	q.length--

	if q.length == 0 && !q.closed {
		q.wake = make(chan struct{})
	}

	item := n.value
	q.releaseNodeLocked(n)
	return item
}

// takeNodeLocked reuses a pooled node when one is available.
func (q *Queue[T]) takeNodeLocked() *node[T] {
	if last := len(q.pool) - 1; last >= 0 {
		n := q.pool[last]
		q.pool[last] = nil
		q.pool = q.pool[:last]
		return n
	}
	return &node[T]{}
}

// releaseNodeLocked returns a node to the pool, subject to both
// watermarks. The pool may hold a node while its size is at most
// length/8 + slack; after pooling, any size above length/4 + 10*slack
// sheds one node. Dropped nodes go to the garbage collector.
func (q *Queue[T]) releaseNodeLocked(n *node[T]) {
	var zero T
	n.value = zero
	n.next = nil

	if len(q.pool) <= q.length/8+q.slack {
		q.pool = append(q.pool, n)
	}
	if last := len(q.pool) - 1; last >= 0 && len(q.pool) > q.length/4+10*q.slack {
		q.pool[last] = nil
		q.pool = q.pool[:last]
	}
}
