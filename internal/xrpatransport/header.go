// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package xrpatransport implements the TransportStream from spec.md §4.2: a
// single-writer, multi-reader monotonic event log in shared memory, with
// schema validation on attach. Grounded on the teacher's binary framing
// style (internal/protocol/frames.go, control.go) but adapted from
// "length-delimited frames over a net.Conn" to "a fixed header plus a
// power-of-two ring of frames inside a memory-mapped region", with cursor
// publication using sync/atomic release/acquire semantics instead of TCP's
// inherent ordering.
package xrpatransport

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Magic identifies a TransportStream region: "XRPA\0STR".
var Magic = [8]byte{'X', 'R', 'P', 'A', 0, 'S', 'T', 'R'}

// HeaderVersion is the current on-disk header layout version.
const HeaderVersion uint32 = 1

// HeaderSize is the fixed header length in bytes, per spec.md §4.2's table:
// the 8-byte reserved field at offset 88 is the last entry, ending the
// header at offset 96, where the ring begins.
const HeaderSize = 96

// Header field offsets, per spec.md §4.2.
const (
	offMagic           = 0
	offVersion         = 8
	offReserved1       = 12
	offSchemaHash      = 16
	offRingCapacity    = 48
	offWriteCursor     = 56
	offLastEntryOffset = 64
	offCreationTS      = 72
	offWriterLiveness  = 80
	offReaderCount     = 84
	offReserved2       = 88
)

// SchemaHash identifies the exact field layout agreed upon by producers and
// consumers of a stream — 256 bits, computed by generated code.
type SchemaHash [32]byte

// Config is the immutable per-stream configuration spec.md §3 calls
// TransportConfig: the schema identity and the ring's byte capacity.
type Config struct {
	SchemaHash SchemaHash
	// ChangelogByteCount sizes the ring; Attach rounds it up to the
	// next power of two so the writer can use modulo-via-mask.
	ChangelogByteCount int64
}

// header is a typed view over a region's first HeaderSize bytes. All
// multi-byte integers are little-endian, per spec.md §4.2. The ring bytes
// that follow the header in the same region are accessed separately by
// Stream, which owns the full region slice.
type header struct {
	region []byte // the full backing region; region[:HeaderSize] is the header
}

func newHeaderView(region []byte) header {
	return header{region: region}
}

func (h header) bytes() []byte { return h.region[:HeaderSize] }

func (h header) magic() [8]byte {
	var m [8]byte
	copy(m[:], h.bytes()[offMagic:offMagic+8])
	return m
}

func (h header) setMagic() {
	copy(h.bytes()[offMagic:offMagic+8], Magic[:])
}

func (h header) version() uint32 { return binary.LittleEndian.Uint32(h.bytes()[offVersion:]) }

func (h header) setVersion(v uint32) {
	binary.LittleEndian.PutUint32(h.bytes()[offVersion:], v)
}

func (h header) schemaHash() SchemaHash {
	var s SchemaHash
	copy(s[:], h.bytes()[offSchemaHash:offSchemaHash+32])
	return s
}

func (h header) setSchemaHash(s SchemaHash) {
	copy(h.bytes()[offSchemaHash:offSchemaHash+32], s[:])
}

func (h header) ringCapacity() int64 {
	return int64(binary.LittleEndian.Uint64(h.bytes()[offRingCapacity:]))
}

func (h header) setRingCapacity(v int64) {
	binary.LittleEndian.PutUint64(h.bytes()[offRingCapacity:], uint64(v))
}

// atomicU64At returns an *atomic.Uint64 aliasing the 8 bytes at offset.
// Safe because region is backed either by a page-aligned mmap or a
// heap-allocated slice, and every offset this is called with (writeCursor)
// is 8-byte aligned per the header layout table.
func (h header) atomicU64At(offset int) *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&h.bytes()[offset]))
}

// atomicU32At returns an *atomic.Uint32 aliasing the 4 bytes at offset.
func (h header) atomicU32At(offset int) *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&h.bytes()[offset]))
}

// writeCursor loads the monotonic write cursor with acquire ordering —
// this is the linearization point a reader synchronizes on, per spec.md §5.
func (h header) writeCursor() uint64 {
	return h.atomicU64At(offWriteCursor).Load()
}

// publishWriteCursor stores a new write cursor with release ordering,
// making every byte written before this call visible to any reader that
// observes the new value.
func (h header) publishWriteCursor(v uint64) {
	h.atomicU64At(offWriteCursor).Store(v)
}

func (h header) lastEntryOffset() int64 {
	return int64(binary.LittleEndian.Uint64(h.bytes()[offLastEntryOffset:]))
}

func (h header) setLastEntryOffset(v int64) {
	binary.LittleEndian.PutUint64(h.bytes()[offLastEntryOffset:], uint64(v))
}

func (h header) creationTimestamp() int64 {
	return int64(binary.LittleEndian.Uint64(h.bytes()[offCreationTS:]))
}

func (h header) setCreationTimestamp(v int64) {
	binary.LittleEndian.PutUint64(h.bytes()[offCreationTS:], uint64(v))
}

// writerLiveness loads the writer generation counter. A reader that
// observes this value change between ticks has lost its writer, per
// spec.md §4.2's "writer's disappearance" clause.
func (h header) writerLiveness() uint32 {
	return h.atomicU32At(offWriterLiveness).Load()
}

func (h header) incrementWriterLiveness() uint32 {
	return h.atomicU32At(offWriterLiveness).Add(1)
}

// readerCount is a best-effort hint (see spec.md §9 open questions): never
// used for correctness decisions, only surfaced for diagnostics.
func (h header) readerCount() uint32 {
	return h.atomicU32At(offReaderCount).Load()
}

func (h header) incrementReaderCount() uint32 {
	return h.atomicU32At(offReaderCount).Add(1)
}

func (h header) decrementReaderCount() uint32 {
	return h.atomicU32At(offReaderCount).Add(^uint32(0))
}

// ring returns the ring bytes following the header in the same region.
func (h header) ring() []byte {
	return h.region[HeaderSize:]
}
