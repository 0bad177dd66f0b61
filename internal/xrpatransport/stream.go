// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xrpatransport

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/xrpa-go/internal/backingstore"
	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
	"github.com/nishisan-dev/xrpa-go/internal/xrpaerr"
	"github.com/nishisan-dev/xrpa-go/internal/xrpaevent"
)

// Role identifies which side of a stream a participant plays. Exactly one
// process may hold RoleWriter for a given stream at a time, per spec.md
// §3's "single writer role at any instant".
type Role int

const (
	RoleWriter Role = iota
	RoleReader
)

// minRingCapacity is the smallest power-of-two ring size the core accepts;
// below this, a single maximally-sized frame couldn't fit comfortably
// alongside its neighbors.
const minRingCapacity = 64

// NextPowerOfTwo rounds n up to the next power of two, with a floor of
// minRingCapacity. The ring must be a power of two so the writer can index
// it with a bitmask instead of a division, per spec.md §4.2.
func NextPowerOfTwo(n int64) int64 {
	if n < minRingCapacity {
		return minRingCapacity
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Stream is one direction of a TransportStream connection: a named
// shared-memory region holding a Header followed by a ring of framed
// change events. A full-duplex connection between two participants is two
// Streams — an inbound the peer writes and this process reads, and an
// outbound this process writes and the peer reads — per spec.md §3.
type Stream struct {
	store backingstore.Store
	name  string
	role  Role

	hdr    header
	ring   []byte
	mask   uint64 // ringCapacity - 1, for fast modulo

	// localCursor is this Stream's own tracked position into the shared
	// writeCursor; readers advance it as they consume frames, writers
	// advance it (in lockstep with the published cursor) as they append.
	localCursor uint64

	// lastSeenLiveness lets a reader detect that its writer restarted
	// (spec.md §4.2's "writer's disappearance"), treated as an overrun of
	// unknown magnitude.
	lastSeenLiveness uint32
}

// Attach opens or creates the named region via store, validates or
// initializes the header, and returns a Stream positioned per spec.md
// §4.2's attachment protocol. now is the creation timestamp to record if
// this call creates the region.
func Attach(store backingstore.Store, name string, cfg Config, role Role, now int64) (*Stream, error) {
	capacity := NextPowerOfTwo(cfg.ChangelogByteCount)
	region, created, err := store.Acquire(name, HeaderSize+capacity)
	if err != nil {
		return nil, fmt.Errorf("xrpatransport: acquiring region %q: %w", name, err)
	}

	hdr := newHeaderView(region)

	if created {
		hdr.setMagic()
		hdr.setVersion(HeaderVersion)
		hdr.setSchemaHash(cfg.SchemaHash)
		hdr.setRingCapacity(capacity)
		hdr.publishWriteCursor(0)
		hdr.setLastEntryOffset(0)
		hdr.setCreationTimestamp(now)
		clear(hdr.ring())
	} else {
		if hdr.magic() != Magic {
			return nil, fmt.Errorf("xrpatransport: region %q has wrong magic", name)
		}
		if hdr.version() != HeaderVersion {
			return nil, fmt.Errorf("xrpatransport: region %q has unsupported version %d", name, hdr.version())
		}
		if hdr.schemaHash() != cfg.SchemaHash {
			return nil, fmt.Errorf("xrpatransport: attaching %q: %w", name, xrpaerr.ErrSchemaMismatch)
		}
		if hdr.ringCapacity() != capacity {
			return nil, fmt.Errorf("xrpatransport: region %q has ring capacity %d, requested %d", name, hdr.ringCapacity(), capacity)
		}
	}

	s := &Stream{
		store: store,
		name:  name,
		role:  role,
		hdr:   hdr,
		ring:  hdr.ring(),
		mask:  uint64(capacity) - 1,
	}

	switch role {
	case RoleWriter:
		hdr.incrementWriterLiveness()
		s.localCursor = hdr.writeCursor()
	case RoleReader:
		hdr.incrementReaderCount()
		s.localCursor = hdr.writeCursor()
		s.lastSeenLiveness = hdr.writerLiveness()
	}

	return s, nil
}

// Detach releases this Stream's reference to its backing region, per
// spec.md §3's "destroyed when the last participant detaches" lifecycle.
func (s *Stream) Detach() error {
	if s.role == RoleReader {
		s.hdr.decrementReaderCount()
	}
	return s.store.Release(s.name)
}

// SchemaHash returns the stream's negotiated schema identity.
func (s *Stream) SchemaHash() SchemaHash {
	return s.hdr.schemaHash()
}

// Capacity returns the ring's byte capacity (a power of two).
func (s *Stream) Capacity() int64 {
	return int64(s.mask) + 1
}

// ReaderCount returns the best-effort readerCount hint, per spec.md §9.
func (s *Stream) ReaderCount() uint32 {
	return s.hdr.readerCount()
}

// Lag returns how far this Stream's local cursor trails the shared
// writeCursor. Exported for diagnostics and tests.
func (s *Stream) Lag() uint64 {
	return s.hdr.writeCursor() - s.localCursor
}

func (s *Stream) copyToRing(offset uint64, data []byte) {
	start := offset & s.mask
	n := len(data)
	capacity := int(s.mask) + 1
	if int(start)+n <= capacity {
		copy(s.ring[start:], data)
		return
	}
	firstPart := capacity - int(start)
	copy(s.ring[start:], data[:firstPart])
	copy(s.ring[0:], data[firstPart:])
}

func (s *Stream) copyFromRing(offset uint64, n int) []byte {
	start := offset & s.mask
	capacity := int(s.mask) + 1
	out := make([]byte, n)
	if int(start)+n <= capacity {
		copy(out, s.ring[start:start+uint64(n)])
		return out
	}
	firstPart := capacity - int(start)
	copy(out, s.ring[start:])
	copy(out[firstPart:], s.ring[0:n-firstPart])
	return out
}

// Append builds a frame of exactly n bytes (n must already be an 8-byte
// multiple, typically xrpaevent.SizeOfFrame's result) via build, writes it
// into the ring at the current write cursor — splitting across the wrap
// boundary transparently — and publishes the advanced cursor with release
// ordering. This is the linearization point from spec.md §4.2 step 4.
//
// Append is a programmer error surface: it never returns xrpaerr kinds
// meant to be logged-and-skipped by a peer, only ErrFrameTooLarge when n
// is not 8-byte aligned, exceeds the ring capacity, or the builder writes
// past n. Any other error from build is returned unchanged.
func (s *Stream) Append(n int, build func(a *xrpabuf.MemoryAccessor) error) error {
	if n%xrpabuf.Alignment != 0 {
		return fmt.Errorf("xrpatransport: frame size %d is not 8-byte aligned: %w", n, xrpaerr.ErrFrameTooLarge)
	}
	if int64(n) > s.Capacity() {
		return fmt.Errorf("xrpatransport: frame size %d exceeds ring capacity %d: %w", n, s.Capacity(), xrpaerr.ErrFrameTooLarge)
	}

	buf := make([]byte, n)
	a := xrpabuf.NewMemoryAccessor(buf)
	if err := build(a); err != nil {
		if errors.Is(err, xrpaerr.ErrBoundsViolation) {
			return fmt.Errorf("xrpatransport: frame builder wrote past %d reserved bytes: %w: %w", n, xrpaerr.ErrFrameTooLarge, err)
		}
		return err
	}

	offset := s.localCursor
	s.copyToRing(offset, buf)
	s.hdr.setLastEntryOffset(int64(offset & s.mask))

	s.localCursor = offset + uint64(n)
	s.hdr.publishWriteCursor(s.localCursor)
	return nil
}

// Frame is one parsed ChangeEvent ready for dispatch: its header plus an
// accessor positioned just after the header, over the frame's own
// defragmented bytes (already de-wrapped, so the dispatcher never has to
// think about ring wraparound).
type Frame struct {
	Header   xrpaevent.Header
	Accessor *xrpabuf.MemoryAccessor
}

// Next returns the next unconsumed frame, advancing the local cursor past
// it. ok is false when the reader has caught up to the writer. An overrun
// (lag exceeds ring capacity, or the writer's liveness generation changed
// since the last call) is reported as xrpaerr.ErrOverrun /
// xrpaerr.ErrWriterDisappeared; the caller must then run full-update
// recovery per spec.md §4.2 and call Resync before consuming further.
func (s *Stream) Next() (Frame, bool, error) {
	if s.role != RoleReader {
		return Frame{}, false, fmt.Errorf("xrpatransport: Next called on a writer stream")
	}

	liveness := s.hdr.writerLiveness()
	if liveness != s.lastSeenLiveness {
		s.lastSeenLiveness = liveness
		return Frame{}, false, xrpaerr.ErrWriterDisappeared
	}

	writeCursor := s.hdr.writeCursor()
	if writeCursor == s.localCursor {
		return Frame{}, false, nil
	}
	if writeCursor-s.localCursor > uint64(s.Capacity()) {
		return Frame{}, false, xrpaerr.ErrOverrun
	}

	headerBytes := s.copyFromRing(s.localCursor, xrpaevent.HeaderSize)
	hdrAccessor := xrpabuf.NewMemoryAccessor(headerBytes)
	evHeader, err := xrpaevent.ReadHeader(hdrAccessor)
	if err != nil {
		// The frame header itself can't be trusted to resynchronize on;
		// per spec.md §7 this is equivalent to an overrun.
		return Frame{}, false, xrpaerr.ErrOverrun
	}
	if writeCursor-s.localCursor < uint64(evHeader.ByteCount) {
		// Torn write: the header claims more bytes than have actually
		// been published. Should not happen given the publish-after-copy
		// ordering, but guards against a corrupted byteCount.
		return Frame{}, false, xrpaerr.ErrOverrun
	}

	payloadLen := int(evHeader.ByteCount) - xrpaevent.HeaderSize
	payload := s.copyFromRing(s.localCursor+uint64(xrpaevent.HeaderSize), payloadLen)

	s.localCursor += uint64(evHeader.ByteCount)

	return Frame{Header: evHeader, Accessor: xrpabuf.NewMemoryAccessor(payload)}, true, nil
}

// Resync snaps this reader's local cursor to the stream's current write
// cursor, discarding any unread backlog. Called after an overrun, per
// spec.md §4.2's recovery step (b): "snap its local cursor to the current
// header cursor".
func (s *Stream) Resync() {
	s.localCursor = s.hdr.writeCursor()
	s.lastSeenLiveness = s.hdr.writerLiveness()
}
