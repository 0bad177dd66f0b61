// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

//go:build linux || darwin

// Package mmapstore is the production backingstore.Store: it backs a named
// region with a real POSIX shared-memory-backed file under dir (typically
// /dev/shm on Linux), memory-mapped with golang.org/x/sys/unix so that
// distinct OS processes attaching to the same name observe the same bytes —
// the "SharedMemoryTransport" analog named in
// _examples/original_source/_INDEX.md.
package mmapstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Store maps region names to files under Dir, mmap'd PROT_READ|PROT_WRITE,
// MAP_SHARED. Multiple Store instances (in distinct processes) pointed at
// the same Dir and name share the mapping.
type Store struct {
	dir string

	mu      sync.Mutex
	regions map[string]*mapping
}

type mapping struct {
	file     *os.File
	bytes    []byte
	refCount int
}

// New returns a Store that backs regions with files under dir. Callers
// typically pass "/dev/shm" on Linux; any directory on a tmpfs works.
func New(dir string) *Store {
	return &Store{dir: dir, regions: make(map[string]*mapping)}
}

// Acquire opens (creating if needed) dir/name, truncates it to size on
// first creation, and mmaps it MAP_SHARED so writes are visible to every
// other process mapping the same file.
func (s *Store) Acquire(name string, size int64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.regions[name]; ok {
		m.refCount++
		return m.bytes, false, nil
	}

	path := filepath.Join(s.dir, name)
	created := false

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if os.IsNotExist(err) {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			if terr := f.Truncate(size); terr != nil {
				f.Close()
				os.Remove(path)
				return nil, false, fmt.Errorf("mmapstore: truncating %q: %w", path, terr)
			}
			created = true
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("mmapstore: opening %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("mmapstore: stat %q: %w", path, err)
	}
	if info.Size() != size {
		f.Close()
		return nil, false, fmt.Errorf("mmapstore: region %q exists with size %d, requested %d", name, info.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("mmapstore: mmap %q: %w", path, err)
	}

	s.regions[name] = &mapping{file: f, bytes: data, refCount: 1}
	return data, created, nil
}

// Release unmaps and closes this caller's reference to name. The backing
// file is removed when the last reference releases.
func (s *Store) Release(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.regions[name]
	if !ok {
		return fmt.Errorf("mmapstore: release of unknown region %q", name)
	}
	m.refCount--
	if m.refCount > 0 {
		return nil
	}

	delete(s.regions, name)
	if err := unix.Munmap(m.bytes); err != nil {
		m.file.Close()
		return fmt.Errorf("mmapstore: munmap %q: %w", name, err)
	}
	if err := m.file.Close(); err != nil {
		return fmt.Errorf("mmapstore: closing %q: %w", name, err)
	}
	return os.Remove(filepath.Join(s.dir, name))
}
