// Package groupqueue implements a fixed-capacity single-producer,
// single-consumer ring buffer that moves elements in groups.
//
// Writing is two-phase: the producer puts elements and then commits them,
// which makes everything written since the previous commit visible to the
// consumer at once. Reading is two-phase as well: the consumer gets the
// elements of a group, may walk over them again any number of times with
// RetrieveNext, and then releases them, which returns their slots to the
// producer.
//
// The ring is split into four regions, in ring order:
//
//	[prodRd, conRd)  drained by the consumer, not yet released
//	[conRd, conWr)   committed, visible to the consumer
//	[conWr, prodWr)  written, not yet committed
//	[prodWr, prodRd) free
//
// Only the counters shared by both sides are protected by the mutex. Methods
// with an Irq suffix perform the same transition without locking; they are
// for callers that already guarantee exclusion.
package groupqueue

import (
	"fmt"
	"sync"
)

// Queue is a group-batched ring buffer of T.
type Queue[T any] struct {
	mu  sync.Mutex
	buf []T

	prodRd int // first slot not yet released
	prodWr int // next slot the producer writes
	conRd  int // next slot the consumer reads
	conWr  int // end of the committed region

	prodCount   int // outstanding elements: uncommitted, committed and unreleased
	conCount    int // committed elements not yet read
	pendingPuts int // puts since the last commit
	pendingGets int // gets since the last release
}

// New creates a queue that holds at most capacity elements.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		panic(fmt.Sprintf("groupqueue: invalid capacity %d", capacity))
	}
	return &Queue[T]{buf: make([]T, capacity)}
}

// Reset empties the queue.
func (q *Queue[T]) Reset() {
	q.mu.Lock()
	q.prodRd, q.prodWr, q.conRd, q.conWr = 0, 0, 0, 0
	q.prodCount, q.conCount = 0, 0
	q.pendingPuts, q.pendingGets = 0, 0
	q.mu.Unlock()
}

// Put appends v to the uncommitted region. It returns false and leaves the
// queue untouched if the ring is full.
func (q *Queue[T]) Put(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.PutIrq(v)
}

// PutIrq is Put for callers that already hold exclusive access.
func (q *Queue[T]) PutIrq(v T) bool {
	if q.prodCount >= len(q.buf) {
		return false
	}

	q.buf[q.prodWr] = v
	q.prodWr = q.next(q.prodWr)

	q.prodCount++
	q.pendingPuts++
	return true
}

// Commit publishes every element put since the previous commit.
func (q *Queue[T]) Commit() {
	q.mu.Lock()
	q.commitLocked()
	q.mu.Unlock()
}

func (q *Queue[T]) commitLocked() {
	if debugAssertions && q.pendingPuts == 0 {
		panic("groupqueue: commit with nothing pending")
	}
	q.conWr = q.prodWr
	q.conCount += q.pendingPuts
	q.pendingPuts = 0
}

// Rollback discards every element put since the previous commit. The
// consumer never sees them.
func (q *Queue[T]) Rollback() {
	q.mu.Lock()
	q.rollbackLocked()
	q.mu.Unlock()
}

func (q *Queue[T]) rollbackLocked() {
	q.prodWr = (q.prodWr - q.pendingPuts + len(q.buf)) % len(q.buf)
	q.prodCount -= q.pendingPuts
	q.pendingPuts = 0
}

// PutGroup writes all of vs and commits them as one group. If the ring
// cannot hold every element, nothing is written and false is returned.
func (q *Queue[T]) PutGroup(vs []T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pendingPuts != 0 {
		// Never publish someone else's half-written group.
		return false
	}

	for _, v := range vs {
		if !q.PutIrq(v) {
			q.rollbackLocked()
			return false
		}
	}
	if len(vs) > 0 {
		q.commitLocked()
	}
	return true
}

// Get reads the next committed element and returns its slot. The slot stays
// valid, and is not reused by the producer, until Release.
func (q *Queue[T]) Get() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.GetIrq()
}

// GetIrq is Get for callers that already hold exclusive access.
func (q *Queue[T]) GetIrq() (int, bool) {
	if q.conCount == 0 {
		return 0, false
	}

	slot := q.conRd
	q.conRd = q.next(q.conRd)

	q.conCount--
	q.pendingGets++
	return slot, true
}

// At returns the element stored in slot.
func (q *Queue[T]) At(slot int) *T {
	return &q.buf[slot]
}

// RetrieveNext returns the slot after slot within the drained, unreleased
// group. Stepping past the group's last slot wraps back to its first slot, so
// a consumer can replay the group without reading anything newer. It does not
// modify the queue and may only be called by the consumer.
func (q *Queue[T]) RetrieveNext(slot int) int {
	slot = q.next(slot)
	if slot == q.conRd {
		// conRd is one past the group's last slot. When the group fills the
		// whole ring conRd == prodRd and this is a no-op.
		slot = q.prodRd
	}
	return slot
}

// Release frees every slot read since the previous release.
func (q *Queue[T]) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if debugAssertions && q.pendingGets == 0 {
		panic("groupqueue: release without pending gets")
	}

	q.prodRd = q.conRd
	q.prodCount -= q.pendingGets
	q.pendingGets = 0

	if debugAssertions && q.prodCount < 0 {
		panic("groupqueue: negative outstanding count")
	}
}

// Peek returns a copy of the oldest unreleased element.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var v T
	if q.prodCount == 0 {
		return v, false
	}
	return q.buf[q.prodRd], true
}

// Size returns the number of outstanding elements.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.prodCount
}

// IsEmpty returns true if no element is outstanding.
func (q *Queue[T]) IsEmpty() bool {
	return q.Size() == 0
}

// Cap returns the fixed capacity of the queue.
func (q *Queue[T]) Cap() int {
	return len(q.buf)
}

func (q *Queue[T]) next(slot int) int {
	slot++
	if slot >= len(q.buf) {
		slot = 0
	}
	return slot
}
