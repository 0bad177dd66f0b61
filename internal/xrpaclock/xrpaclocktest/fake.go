// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package xrpaclocktest provides a deterministic xrpaclock.Source for tests,
// grounded on the teacher's pattern of injecting a fake clock/counter rather
// than sleeping real time in unit tests (see internal/agent/throttle_test.go
// and dscp_test.go in the teacher corpus).
package xrpaclocktest

import (
	"sync/atomic"

	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
)

// Fake is a Source with a manually-advanced clock and a sequential,
// non-random ID generator so test assertions can predict exact ObjectIDs.
type Fake struct {
	micros int64
	nextID uint64
}

// NewFake returns a Fake clock starting at the given microsecond value.
func NewFake(startMicros int64) *Fake {
	return &Fake{micros: startMicros}
}

// NowMicros returns the current fake time.
func (f *Fake) NowMicros() int64 {
	return atomic.LoadInt64(&f.micros)
}

// Advance moves the fake clock forward by delta microseconds.
func (f *Fake) Advance(delta int64) {
	atomic.AddInt64(&f.micros, delta)
}

// NewObjectID returns sequential, predictable IDs: 0x...01, 0x...02, etc.
func (f *Fake) NewObjectID() xrpabuf.ObjectID {
	n := atomic.AddUint64(&f.nextID, 1)
	var id xrpabuf.ObjectID
	for i := 0; i < 8; i++ {
		id[15-i] = byte(n >> (8 * i))
	}
	return id
}
