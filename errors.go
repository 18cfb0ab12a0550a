// errors.go: error taxonomy for Ring and Chain
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package hermes

import "errors"

// Pre-allocated errors to avoid allocations on the hot path.
var (
	// ErrNotEnoughSpace is returned by TryReserve when the requested
	// record does not fit. Queue state is unchanged except that
	// producer-private scratch may be cleared.
	ErrNotEnoughSpace = errors.New("hermes: not enough space")

	// ErrEmpty is returned by TryPeek when no complete record is
	// available yet.
	ErrEmpty = errors.New("hermes: queue empty")

	// ErrInvalidBlockSize is returned by Chain.AddBlock when the
	// requested block is smaller than the minimum accepted allocation
	// (header size plus minimum payload).
	ErrInvalidBlockSize = errors.New("hermes: block size below minimum")

	// ErrAllocationFailure is returned when backing bytes could not be
	// obtained during construction or block addition.
	ErrAllocationFailure = errors.New("hermes: allocation failure")
)

// ErrorCallback is invoked for non-fatal conditions a caller may want to
// observe (allocation failures, rejected block sizes). It mirrors the
// teacher library's optional (operation, error) hook rather than forcing
// a logging dependency on callers that don't want one.
type ErrorCallback func(operation string, err error)

func reportError(cb ErrorCallback, operation string, err error) {
	if cb != nil {
		cb(operation, err)
	}
}
