// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

/*
Package hermes provides lock-free, single-producer/single-consumer
record queues backed by plain byte slices.

Hermes carries variable-length records (byte slices) from exactly one
producer goroutine to exactly one consumer goroutine without locks,
channels, or allocation on the hot path. Two queue shapes are provided:

  - Ring: a single fixed-size contiguous region that wraps around.
  - Chain: an ordered, cyclic arena of fixed-size blocks.

Both expose the same four-operation protocol on separate producer and
consumer handles:

	TryReserve(n) ([]byte, error)  // producer: reserve n bytes to write into
	Commit()                       // producer: publish the reservation
	TryPeek() ([]byte, error)      // consumer: view the next record
	Release()                      // consumer: free it

# Quick Start

	ring, err := hermes.NewRing(64 * 1024)
	if err != nil {
		log.Fatal(err)
	}
	defer ring.Close()

	prod := ring.Producer()
	cons := ring.Consumer()

	buf, err := prod.TryReserve(uint32(len(payload)))
	if err == nil {
		copy(buf, payload)
		prod.Commit()
	}

	if rec, err := cons.TryPeek(); err == nil {
		handle(rec)
		cons.Release()
	}

# Ring vs Chain

Ring holds everything in one allocation and is the right default. Chain
trades a single contiguous allocation for a set of independently sized
blocks, which is useful when records are produced from memory regions
that arrive already segmented (for example, one block per mapped file
or per network buffer) or when a single oversized allocation is
undesirable.

# Concurrency contract

A Ring or Chain must be used by exactly one producer goroutine and
exactly one consumer goroutine at a time; Producer() and Consumer()
return thin handles, not separate copies of the queue, so calling a
producer method concurrently with another producer method (or a
consumer method concurrently with another consumer method) is a data
race. The producer and consumer sides may run concurrently with each
other; that is the entire point.

TryReserve/Commit and TryPeek/Release are meant to be called in
matching pairs. Calling Commit without a preceding successful
TryReserve, or Release without a preceding successful TryPeek, is
undefined behaviour: the protocol trusts the caller's discipline in
exchange for not tracking reservation state redundantly.

# Error handling

Both queues return package-level sentinel errors (ErrNotEnoughSpace,
ErrEmpty, ErrInvalidBlockSize, ErrAllocationFailure) rather than
allocating a new error per call. An optional ErrorCallback can be
installed with SetErrorCallback to observe non-fatal conditions, such
as a rejected block size, without forcing every caller to thread a
logger through.

# Diagnostics

Stats() on either type returns a point-in-time snapshot of commit,
release, byte, and wrap counters, safe to call concurrently with
producer/consumer operations. It is meant for monitoring, not for
driving protocol decisions.
*/
package hermes
