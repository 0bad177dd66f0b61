// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package xrpaerr holds the sentinel error kinds shared by the transport
// and reconciliation core. Peer-induced errors are logged and skipped by
// their caller rather than panicking; only programmer errors propagate
// synchronously.
package xrpaerr

import "errors"

var (
	// ErrSchemaMismatch is returned when two participants attach to the
	// same stream with different schema hashes. The connection is refused
	// before any event is processed.
	ErrSchemaMismatch = errors.New("xrpa: schema hash mismatch")

	// ErrBoundsViolation is returned when a codec read or write would
	// cross its accessor's declared window.
	ErrBoundsViolation = errors.New("xrpa: accessor bounds violation")

	// ErrOverrun is returned when a reader's lag exceeds the ring
	// capacity. Triggers full-update recovery.
	ErrOverrun = errors.New("xrpa: reader overrun")

	// ErrSchemaDecode is returned when a field fails structural
	// validation, e.g. a length prefix exceeds the remaining frame.
	ErrSchemaDecode = errors.New("xrpa: schema decode error")

	// ErrUnknownCollection is returned when a frame addresses a
	// collectionId that was never registered.
	ErrUnknownCollection = errors.New("xrpa: unknown collection")

	// ErrUnknownObject is returned when a frame addresses an objectId
	// with no mirror entry. Logged and ignored by the reconciler, not
	// fatal — see Reconciler.TickInbound.
	ErrUnknownObject = errors.New("xrpa: unknown object")

	// ErrUnknownMessageType is returned when a Message frame's
	// messageType has no registered handler.
	ErrUnknownMessageType = errors.New("xrpa: unknown message type")

	// ErrWriterDisappeared is returned when a stream's writerLiveness
	// generation changes unexpectedly. Equivalent to overrun.
	ErrWriterDisappeared = errors.New("xrpa: writer disappeared")

	// ErrFrameTooLarge is a programmer error: a caller reserved less
	// space than the frame it attempted to write requires.
	ErrFrameTooLarge = errors.New("xrpa: frame exceeds reserved size")

	// ErrNotRegistered is a programmer error: a collection was mutated
	// before RegisterCollection was called for it.
	ErrNotRegistered = errors.New("xrpa: collection not registered")
)
