// ring.go: single-region SPSC record queue with wrap-around
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package hermes

import "sync/atomic"

// cacheLinePad is the assumed cache line width. Producer-owned and
// consumer-owned state are kept this far apart to avoid false sharing,
// the same discipline the teacher library applies to its MPSC cursors.
const cacheLinePad = 64

// ringProducerState is touched only by the single producer goroutine,
// except for reading cons.head, which the consumer publishes atomically.
type ringProducerState struct {
	tail             uint32
	lastTailSnapshot uint32
	pendingSize      uint32
	pendingActive    bool
	_                [cacheLinePad - 13]byte
}

// ringConsumerState is touched only by the single consumer goroutine,
// except for head, which the producer reads atomically.
type ringConsumerState struct {
	head atomic.Uint32
	_    [cacheLinePad - 4]byte
}

// Ring is a single fixed-size contiguous byte region shared by exactly
// one producer goroutine and one consumer goroutine. The zero value is
// not usable; construct with NewRing or NewRingWithBacking.
type Ring struct {
	data         []byte
	capacity     uint32
	lastPosition uint32
	owned        bool

	errorCallback ErrorCallback

	prod ringProducerState
	cons ringConsumerState

	commitCount   atomic.Uint64
	releaseCount  atomic.Uint64
	bytesWritten  atomic.Uint64
	bytesRead     atomic.Uint64
	wrapCount     atomic.Uint64
}

// minRingCapacity is the smallest capacity accepted: one length word
// plus one trailer word.
const minRingCapacity = 2 * wordSize

// NewRing allocates a capacity-byte backing region and returns a Ring
// that owns it. capacity must be at least minRingCapacity.
func NewRing(capacity uint32) (*Ring, error) {
	return NewRingWithBacking(capacity, nil)
}

// NewRingWithBacking constructs a Ring over caller-supplied backing
// bytes. If backing is nil, the Ring allocates and owns its storage; if
// backing is non-nil, ownership stays with the caller and Close is a
// no-op for the backing slice. This models the "external vs owned
// backing" design note as a tagged owner rather than a nullable pointer.
func NewRingWithBacking(capacity uint32, backing []byte) (*Ring, error) {
	if capacity < minRingCapacity {
		return nil, ErrAllocationFailure
	}

	var data []byte
	owned := false
	if backing != nil {
		if uint32(len(backing)) < capacity {
			return nil, ErrAllocationFailure
		}
		data = backing[:capacity]
		// The slot at data[tail] must read 0 at init regardless of who
		// supplied the backing bytes; make zero-fills the owned path for
		// free, so only the borrowed path needs this explicit store.
		storeWord(data, 0, 0)
	} else {
		data = make([]byte, capacity)
		owned = true
	}

	r := &Ring{
		data:         data,
		capacity:     capacity,
		lastPosition: capacity - wordSize,
		owned:        owned,
	}
	return r, nil
}

// SetErrorCallback installs an optional hook for non-fatal conditions.
// A Ring never invokes it: construction errors are returned by NewRing
// and NewRingWithBacking before a hook can be installed, and the
// reserve/commit/peek/release path does not call back.
func (r *Ring) SetErrorCallback(cb ErrorCallback) {
	r.errorCallback = cb
}

// Close releases the owned backing bytes, if any. It is safe to call on
// a Ring constructed over caller-supplied (borrowed) backing; in that
// case Close does nothing.
func (r *Ring) Close() {
	if r.owned {
		r.data = nil
	}
}

// Producer returns the producer-side handle. Only one goroutine may ever
// call methods on it.
func (r *Ring) Producer() *RingProducer { return &RingProducer{r: r} }

// Consumer returns the consumer-side handle. Only one goroutine may ever
// call methods on it.
func (r *Ring) Consumer() *RingConsumer { return &RingConsumer{r: r} }

// RingStats is a point-in-time snapshot of queue activity, safe to read
// concurrently with producer/consumer operations.
type RingStats struct {
	CommitCount  uint64
	ReleaseCount uint64
	BytesWritten uint64
	BytesRead    uint64
	WrapCount    uint64
	Capacity     uint32
}

// Stats returns a snapshot of the ring's activity counters.
func (r *Ring) Stats() RingStats {
	return RingStats{
		CommitCount:  r.commitCount.Load(),
		ReleaseCount: r.releaseCount.Load(),
		BytesWritten: r.bytesWritten.Load(),
		BytesRead:    r.bytesRead.Load(),
		WrapCount:    r.wrapCount.Load(),
		Capacity:     r.capacity,
	}
}

// RingProducer is the producer-side handle to a Ring. It carries no
// state of its own; all producer state lives on the Ring's dedicated
// cache line.
type RingProducer struct{ r *Ring }

// TryReserve reserves space for a record of n bytes and returns a slice
// of exactly n bytes to write into, or ErrNotEnoughSpace if the record
// does not currently fit. A second TryReserve before Commit overwrites
// the pending reservation; that is a caller contract violation, not a
// detected error.
func (p *RingProducer) TryReserve(n uint32) ([]byte, error) {
	r := p.r
	if n == 0 || n > maxPayload {
		return nil, ErrNotEnoughSpace
	}

	need := reserveFootprint(n)
	r.prod.lastTailSnapshot = 0

	head := r.cons.head.Load()
	tail := r.prod.tail

	var at uint32
	switch {
	case head > tail && head > tail+need:
		// Case 1: fits in the gap [tail, head). Strict '>' by design:
		// this leaves one byte of slack per cycle rather than allowing
		// head == tail to mean "full" ambiguously with "empty". See
		// DESIGN.md Open Question 2 — preserved, not "fixed".
		at = tail
	case head <= tail && tail+n < r.lastPosition && tail+frameAdvance(n) <= r.lastPosition:
		// Case 2: fits in the tail end of the region [tail, capacity-4).
		// The second bound keeps the padded frame's trailer word inside
		// the region as well.
		at = tail
	case head <= tail && head > need:
		// Case 3: fits at the front [0, head); wrap the tail to 0 and
		// remember the pre-wrap offset so Commit can stamp the sentinel.
		r.prod.lastTailSnapshot = tail
		at = 0
	default:
		return nil, ErrNotEnoughSpace
	}

	r.prod.tail = at
	r.prod.pendingSize = n
	r.prod.pendingActive = true
	return r.data[at+wordSize : at+wordSize+n], nil
}

// Commit publishes the record reserved by the most recent successful
// TryReserve. Calling Commit without a matching TryReserve is undefined
// behaviour, as the specification permits for performance.
func (p *RingProducer) Commit() {
	r := p.r
	n := r.prod.pendingSize
	tail := r.prod.tail
	advance := frameAdvance(n)

	// Store order is the correctness contract: trailer zero, then
	// length, then (if wrapped) the sentinel at the old offset. A
	// consumer never observes a non-zero length whose trailer is not
	// yet zero, and never follows a sentinel to a length that is not
	// yet stored.
	storeWord(r.data, tail+advance, 0)
	storeWord(r.data, tail, n)

	newTail := tail + advance
	r.prod.tail = newTail

	if r.prod.lastTailSnapshot != 0 {
		storeWord(r.data, r.prod.lastTailSnapshot, sentinelBit)
		r.wrapCount.Add(1)
	}

	r.prod.pendingActive = false
	r.commitCount.Add(1)
	r.bytesWritten.Add(uint64(n))
}

// Reset drops the producer's in-flight (uncommitted) reservation and
// rewinds tail to the consumer's current head, abandoning any records
// the consumer has not yet caught up to. It is meant for restarting the
// producer side only, not for steady-state use alongside a live
// consumer.
func (p *RingProducer) Reset() {
	r := p.r
	r.prod.pendingActive = false
	r.prod.pendingSize = 0
	r.prod.lastTailSnapshot = 0
	r.prod.tail = r.cons.head.Load()
}

// RingConsumer is the consumer-side handle to a Ring. It carries no
// state of its own; all consumer state lives on the Ring's dedicated
// cache line.
type RingConsumer struct{ r *Ring }

// TryPeek returns the next complete record without consuming it, or
// ErrEmpty if none is available yet.
func (c *RingConsumer) TryPeek() ([]byte, error) {
	r := c.r
	head := r.cons.head.Load()

	length := loadWord(r.data, head)
	if isSentinel(length) {
		// Wrap is permanent state, not a peek-local decision: the
		// sentinel is consumed here so repeated peeks before a Release
		// agree on position, matching the original's in-place update.
		head = 0
		r.cons.head.Store(head)
		length = loadWord(r.data, head)
	}
	if length == 0 {
		return nil, ErrEmpty
	}

	return r.data[head+wordSize : head+wordSize+length], nil
}

// Release consumes the record most recently returned by TryPeek, making
// its space available to the producer again. Calling Release without a
// successful TryPeek is undefined behaviour, as the specification
// permits for performance.
func (c *RingConsumer) Release() {
	r := c.r
	head := r.cons.head.Load()

	length := loadWord(r.data, head)
	if isSentinel(length) {
		head = 0
		r.cons.head.Store(head)
		length = loadWord(r.data, head)
	}

	storeWord(r.data, head, 0)
	r.cons.head.Store(head + frameAdvance(length))

	r.releaseCount.Add(1)
	r.bytesRead.Add(uint64(length))
}

// Reset advances head to the producer's current tail, discarding every
// committed-but-unread record from the consumer's point of view. It is
// meant for restarting the consumer side only, not for steady-state use
// alongside a live producer.
func (c *RingConsumer) Reset() {
	c.r.cons.head.Store(c.r.prod.tail)
}
