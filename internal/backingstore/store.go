// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package backingstore provides the BackingStore capability spec.md §1
// names: mapping a region name to a byte slice the TransportStream header
// and ring live inside. Two implementations are provided: heapstore (for
// tests and single-process use) and mmapstore (POSIX shared memory, for
// actual cross-process transport).
package backingstore

// Store maps a named region to backing bytes. The first Acquire for a
// given name creates the region (created == true); subsequent Acquire
// calls from other participants in the same process group reuse it.
// Release drops this caller's reference; the region itself is destroyed
// when the last participant releases it.
type Store interface {
	// Acquire returns size bytes backing the named region, creating it if
	// this is the first attach. created reports whether this call
	// created the region (the caller must then initialize the header).
	Acquire(name string, size int64) (region []byte, created bool, err error)

	// Release drops this caller's reference to name. The last Release
	// for a name destroys the region.
	Release(name string) error
}
