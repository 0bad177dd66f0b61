// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package heapstore is the backingstore.Store used by tests and by
// single-process participants: it hands out a plain Go byte slice per
// region name instead of mapping real shared memory. It is the "heap
// memory transport" analog named in _examples/original_source/_INDEX.md
// (HeapMemoryTransport.test.cpp vs SharedMemoryTransport.test.cpp).
package heapstore

import (
	"fmt"
	"sync"
)

// Store hands out process-local byte slices keyed by region name, guarded
// by a single mutex — the same shape as the teacher's locks/sessions
// sync.Map pair in internal/server/server.go, but a plain map suffices here
// since every caller already holds the mutex for the whole critical
// section.
type Store struct {
	mu      sync.Mutex
	regions map[string]*entry
}

type entry struct {
	bytes    []byte
	refCount int
}

// New returns an empty heapstore.Store.
func New() *Store {
	return &Store{regions: make(map[string]*entry)}
}

// Acquire returns the region's bytes, creating it with the requested size
// if this is the first attach. A second Acquire for the same name with a
// different size is a programmer error.
func (s *Store) Acquire(name string, size int64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.regions[name]; ok {
		if int64(len(e.bytes)) != size {
			return nil, false, fmt.Errorf("heapstore: region %q already exists with size %d, requested %d", name, len(e.bytes), size)
		}
		e.refCount++
		return e.bytes, false, nil
	}

	e := &entry{bytes: make([]byte, size), refCount: 1}
	s.regions[name] = e
	return e.bytes, true, nil
}

// Release drops this caller's reference to name, deleting it once the
// reference count reaches zero.
func (s *Store) Release(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.regions[name]
	if !ok {
		return fmt.Errorf("heapstore: release of unknown region %q", name)
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(s.regions, name)
	}
	return nil
}
