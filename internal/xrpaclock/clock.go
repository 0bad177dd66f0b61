// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package xrpaclock provides the two capabilities spec.md §1 calls out as
// injected rather than hard-coded: a monotonic microsecond clock for frame
// timestamps, and UUID generation for newly-created objects.
package xrpaclock

import (
	"time"

	"github.com/google/uuid"

	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
)

// Source is the capability a DataStoreReconciler is constructed with. It
// abstracts the two external primitives spec.md §1 names: a clock and a
// UUID generator.
type Source interface {
	// NowMicros returns microseconds since a source-defined epoch. Two
	// reconcilers on the same machine must agree on the epoch closely
	// enough for event timestamps to be meaningfully ordered; they need
	// not agree bit-for-bit, since timestamps are diagnostic, not used
	// for ordering (ring position is).
	NowMicros() int64

	// NewObjectID returns a fresh, globally-unique 128-bit object
	// identifier for a locally-created object.
	NewObjectID() xrpabuf.ObjectID
}

// System is the production Source: wall-clock time and random (v4) UUIDs.
type System struct{}

// NowMicros returns time.Now() as microseconds since the Unix epoch.
func (System) NowMicros() int64 {
	return time.Now().UnixMicro()
}

// NewObjectID generates a random UUID via github.com/google/uuid.
func (System) NewObjectID() xrpabuf.ObjectID {
	return xrpabuf.ObjectID(uuid.New())
}
