// chain.go: cyclic multi-block SPSC record queue
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package hermes

import "sync/atomic"

// chainHeaderSize models the minimum per-block header a memory-mapped
// layout would need to reserve (forward link, payload capacity, consumer
// position) ahead of the payload area, per the external byte-layout
// contract. In this in-process implementation that bookkeeping lives in
// Go struct fields rather than in-band bytes, but the header region is
// still carved out of the caller's allocation so the byte layout stays
// compatible with a mapped-memory rendition.
const chainHeaderSize = 16

// minBlockSize is the smallest accepted block allocation: header plus a
// minimum useful payload region.
const minBlockSize = chainHeaderSize + 16

// chainBlock is one fixed-size block in the chain's arena. Blocks are
// appended only during single-threaded setup and never removed.
type chainBlock struct {
	full            []byte // header + payload, nil if this block is borrowed
	payload         []byte // payload region, frame offsets are relative to this
	payloadCapacity uint32
	consPos         atomic.Uint32 // consumer's read offset within this block
	owned           bool
}

// chainProducerState is touched only by the single producer goroutine,
// except for reading cons.hot and a target block's consPos, which the
// consumer publishes atomically.
type chainProducerState struct {
	hot                  uint32
	pos                  uint32
	pendingBlock         uint32
	pendingAt            uint32
	tryWriteTailSnapshot uint32
	pendingSize          uint32
	pendingActive        bool
	_                    [cacheLinePad - 25]byte
}

// chainConsumerState is touched only by the single consumer goroutine,
// except for hot, which the producer reads atomically.
type chainConsumerState struct {
	hot atomic.Uint32
	_   [cacheLinePad - 4]byte
}

// Chain is an ordered, cyclic arena of fixed-size byte blocks shared by
// exactly one producer goroutine and one consumer goroutine. Blocks are
// appended with AddBlock during setup, before either side starts;
// capacity cannot grow once producer/consumer operations begin.
type Chain struct {
	blocks []chainBlock

	errorCallback ErrorCallback

	prod chainProducerState
	cons chainConsumerState

	commitCount  atomic.Uint64
	releaseCount atomic.Uint64
	bytesWritten atomic.Uint64
	bytesRead    atomic.Uint64
	wrapCount    atomic.Uint64
}

// NewChain returns an empty Chain. Call AddBlock at least once before
// obtaining Producer/Consumer handles.
func NewChain() *Chain {
	return &Chain{}
}

// SetErrorCallback installs an optional hook invoked for non-fatal
// conditions (rejected block sizes, allocation failures).
func (c *Chain) SetErrorCallback(cb ErrorCallback) {
	c.errorCallback = cb
}

// AddBlock appends a new block of size bytes to the arena. size must be
// at least minBlockSize. If backing is nil, the block allocates and owns
// its storage; otherwise ownership stays with the caller. AddBlock is
// only safe to call during the single-threaded setup phase, before any
// producer or consumer operation.
func (c *Chain) AddBlock(size uint32, backing []byte) error {
	if size < minBlockSize {
		reportError(c.errorCallback, "add_block", ErrInvalidBlockSize)
		return ErrInvalidBlockSize
	}

	var full []byte
	owned := false
	if backing != nil {
		if uint32(len(backing)) < size {
			reportError(c.errorCallback, "add_block", ErrAllocationFailure)
			return ErrAllocationFailure
		}
		full = backing[:size]
		// The first length slot of a not-yet-written block must read 0
		// regardless of who supplied the backing bytes; make zero-fills
		// the owned path for free, so only the borrowed path needs this
		// explicit clear.
		clear(full)
	} else {
		full = make([]byte, size)
		owned = true
	}

	c.blocks = append(c.blocks, chainBlock{
		full:            full,
		payload:         full[chainHeaderSize:],
		payloadCapacity: size - chainHeaderSize,
		owned:           owned,
	})
	return nil
}

// BlockCount returns the number of blocks currently in the arena.
func (c *Chain) BlockCount() int { return len(c.blocks) }

// HasBlock reports whether block index i exists in the arena.
func (c *Chain) HasBlock(i int) bool { return i >= 0 && i < len(c.blocks) }

// Close releases owned block storage. If dealloc is non-nil, it is
// called for each owned block's backing bytes instead of letting the
// garbage collector reclaim them; this mirrors the optional
// caller-supplied deallocator the specification allows.
func (c *Chain) Close(dealloc func([]byte)) {
	for i := range c.blocks {
		b := &c.blocks[i]
		if b.owned {
			if dealloc != nil {
				dealloc(b.full)
			}
			b.full = nil
			b.payload = nil
		}
	}
}

// Producer returns the producer-side handle. Only one goroutine may ever
// call methods on it.
func (c *Chain) Producer() *ChainProducer { return &ChainProducer{c: c} }

// Consumer returns the consumer-side handle. Only one goroutine may ever
// call methods on it.
func (c *Chain) Consumer() *ChainConsumer { return &ChainConsumer{c: c} }

// ChainStats is a point-in-time snapshot of queue activity, safe to read
// concurrently with producer/consumer operations.
type ChainStats struct {
	CommitCount  uint64
	ReleaseCount uint64
	BytesWritten uint64
	BytesRead    uint64
	WrapCount    uint64
	BlockCount   int
}

// Stats returns a snapshot of the chain's activity counters.
func (c *Chain) Stats() ChainStats {
	return ChainStats{
		CommitCount:  c.commitCount.Load(),
		ReleaseCount: c.releaseCount.Load(),
		BytesWritten: c.bytesWritten.Load(),
		BytesRead:    c.bytesRead.Load(),
		WrapCount:    c.wrapCount.Load(),
		BlockCount:   len(c.blocks),
	}
}

func (c *Chain) next(i uint32) uint32 {
	return (i + 1) % uint32(len(c.blocks))
}

// ChainProducer is the producer-side handle to a Chain. It carries no
// state of its own; all producer state lives on the Chain's dedicated
// cache line.
type ChainProducer struct{ c *Chain }

// TryReserve reserves space for a record of n bytes and returns a slice
// of exactly n bytes to write into, or ErrNotEnoughSpace if the record
// does not currently fit in the current block or the next one. A second
// TryReserve before Commit overwrites the pending reservation; that is a
// caller contract violation, not a detected error.
func (p *ChainProducer) TryReserve(n uint32) ([]byte, error) {
	c := p.c
	if n == 0 || n > maxPayload || len(c.blocks) == 0 {
		return nil, ErrNotEnoughSpace
	}

	need := reserveFootprint(n)
	c.prod.tryWriteTailSnapshot = 0

	hot := c.prod.hot
	pos := c.prod.pos
	hotBlock := &c.blocks[hot]
	consHot := c.cons.hot.Load()

	var pendingBlock, pendingAt uint32
	switch {
	case consHot == hot && hotBlock.consPos.Load() > pos:
		// Case 1: consumer is ahead of the producer within the same
		// (cyclically reused) block; only the gap up to it is free.
		if hotBlock.consPos.Load() < pos+need {
			return nil, ErrNotEnoughSpace
		}
		pendingBlock, pendingAt = hot, pos
	case hotBlock.payloadCapacity >= pos+need:
		// Case 2: fits in the remainder of the current block.
		pendingBlock, pendingAt = hot, pos
	default:
		// Case 3: try the next block in the arena.
		next := c.next(hot)
		if next == consHot {
			if need <= c.blocks[next].consPos.Load() {
				pendingBlock, pendingAt = next, 0
				c.prod.tryWriteTailSnapshot = pos
			} else {
				return nil, ErrNotEnoughSpace
			}
		} else if c.blocks[next].payloadCapacity >= need {
			pendingBlock, pendingAt = next, 0
			c.prod.tryWriteTailSnapshot = pos
		} else {
			return nil, ErrNotEnoughSpace
		}
	}

	c.prod.pendingBlock = pendingBlock
	c.prod.pendingAt = pendingAt
	c.prod.pendingSize = n
	c.prod.pendingActive = true

	payload := c.blocks[pendingBlock].payload
	return payload[pendingAt+wordSize : pendingAt+wordSize+n], nil
}

// Commit publishes the record reserved by the most recent successful
// TryReserve. Calling Commit without a matching TryReserve is undefined
// behaviour, as the specification permits for performance.
func (p *ChainProducer) Commit() {
	c := p.c
	n := c.prod.pendingSize
	advance := frameAdvance(n)

	if c.prod.pendingBlock != c.prod.hot || c.prod.pendingAt != c.prod.pos {
		// Stamp the sentinel at the old block before switching hot. The
		// new block's length word is stored after it; a consumer that
		// follows the sentinel before then reads 0 there and TryPeek
		// reports ErrEmpty.
		storeWord(c.blocks[c.prod.hot].payload, c.prod.tryWriteTailSnapshot, sentinelBit)
		c.prod.hot = c.prod.pendingBlock
		c.prod.pos = 0
		c.wrapCount.Add(1)
	}

	at := c.prod.pos
	payload := c.blocks[c.prod.hot].payload
	storeWord(payload, at+advance, 0)
	storeWord(payload, at, n)
	c.prod.pos = at + advance

	c.prod.pendingActive = false
	c.commitCount.Add(1)
	c.bytesWritten.Add(uint64(n))
}

// Reset drops the producer's in-flight (uncommitted) reservation and
// rewinds the hot block/position to the consumer's current position,
// abandoning any records the consumer has not yet caught up to. It is
// meant for restarting the producer side only.
func (p *ChainProducer) Reset() {
	c := p.c
	c.prod.pendingActive = false
	c.prod.pendingSize = 0
	c.prod.tryWriteTailSnapshot = 0
	c.prod.hot = c.cons.hot.Load()
	c.prod.pos = c.blocks[c.prod.hot].consPos.Load()
}

// ChainConsumer is the consumer-side handle to a Chain. It carries no
// state of its own; all consumer state lives on the Chain's dedicated
// cache line.
type ChainConsumer struct{ c *Chain }

// TryPeek returns the next complete record without consuming it, or
// ErrEmpty if none is available yet.
func (cc *ChainConsumer) TryPeek() ([]byte, error) {
	c := cc.c
	hot := c.cons.hot.Load()
	pos := c.blocks[hot].consPos.Load()

	length := loadWord(c.blocks[hot].payload, pos)
	if isSentinel(length) {
		next := c.next(hot)
		nlen := loadWord(c.blocks[next].payload, 0)
		if nlen == 0 {
			return nil, ErrEmpty
		}
		// Do not mutate cons.hot/consPos yet: Release performs the
		// actual block switch.
		return c.blocks[next].payload[wordSize : wordSize+nlen], nil
	}
	if length == 0 {
		return nil, ErrEmpty
	}
	return c.blocks[hot].payload[pos+wordSize : pos+wordSize+length], nil
}

// Release consumes the record most recently returned by TryPeek, making
// its space available to the producer again. Calling Release without a
// successful TryPeek is undefined behaviour, as the specification
// permits for performance.
func (cc *ChainConsumer) Release() {
	c := cc.c
	hot := c.cons.hot.Load()
	pos := c.blocks[hot].consPos.Load()

	length := loadWord(c.blocks[hot].payload, pos)
	if isSentinel(length) {
		storeWord(c.blocks[hot].payload, pos, 0)
		next := c.next(hot)
		c.cons.hot.Store(next)
		c.blocks[next].consPos.Store(0)
		hot, pos = next, 0
		length = loadWord(c.blocks[hot].payload, pos)
	}

	storeWord(c.blocks[hot].payload, pos, 0)
	c.blocks[hot].consPos.Store(pos + frameAdvance(length))

	c.releaseCount.Add(1)
	c.bytesRead.Add(uint64(length))
}

// Reset advances the consumer to the producer's current hot block and
// position, discarding every committed-but-unread record from the
// consumer's point of view. It is meant for restarting the consumer side
// only.
func (cc *ChainConsumer) Reset() {
	c := cc.c
	hot := c.prod.hot
	c.cons.hot.Store(hot)
	c.blocks[hot].consPos.Store(c.prod.pos)
}
