// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package xrpabuf implements bounded, little-endian reads and writes into a
// fixed memory window. It is the core's only place that touches raw bytes;
// everything else (ring framing, event payloads, signal packets) is built
// by composing MemoryAccessor calls.
package xrpabuf

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nishisan-dev/xrpa-go/internal/xrpaerr"
)

// Alignment is the byte multiple every frame and padded field must round up
// to, per the wire format.
const Alignment = 8

// MemoryAccessor is a cursor over a caller-owned byte window. It never
// allocates or copies the window itself; every read or write that would
// cross the window's bounds returns xrpaerr.ErrBoundsViolation instead of
// partially mutating the buffer.
type MemoryAccessor struct {
	buf    []byte
	offset int
}

// NewMemoryAccessor wraps buf with a cursor starting at offset 0.
func NewMemoryAccessor(buf []byte) *MemoryAccessor {
	return &MemoryAccessor{buf: buf}
}

// Offset returns the current cursor position.
func (a *MemoryAccessor) Offset() int { return a.offset }

// Remaining returns the number of bytes left in the window.
func (a *MemoryAccessor) Remaining() int { return len(a.buf) - a.offset }

// Seek moves the cursor to an absolute offset within the window.
func (a *MemoryAccessor) Seek(offset int) error {
	if offset < 0 || offset > len(a.buf) {
		return fmt.Errorf("seek to %d: %w", offset, xrpaerr.ErrBoundsViolation)
	}
	a.offset = offset
	return nil
}

func (a *MemoryAccessor) reserve(n int) ([]byte, error) {
	if n < 0 || a.offset+n > len(a.buf) {
		return nil, fmt.Errorf("need %d bytes at offset %d (window %d): %w", n, a.offset, len(a.buf), xrpaerr.ErrBoundsViolation)
	}
	b := a.buf[a.offset : a.offset+n]
	a.offset += n
	return b, nil
}

// WriteUint8 writes a single byte.
func (a *MemoryAccessor) WriteUint8(v uint8) error {
	b, err := a.reserve(1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

// ReadUint8 reads a single byte.
func (a *MemoryAccessor) ReadUint8() (uint8, error) {
	b, err := a.reserve(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteUint32 writes a little-endian uint32.
func (a *MemoryAccessor) WriteUint32(v uint32) error {
	b, err := a.reserve(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// ReadUint32 reads a little-endian uint32.
func (a *MemoryAccessor) ReadUint32() (uint32, error) {
	b, err := a.reserve(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// WriteInt32 writes a little-endian int32.
func (a *MemoryAccessor) WriteInt32(v int32) error {
	return a.WriteUint32(uint32(v))
}

// ReadInt32 reads a little-endian int32.
func (a *MemoryAccessor) ReadInt32() (int32, error) {
	v, err := a.ReadUint32()
	return int32(v), err
}

// WriteUint64 writes a little-endian uint64.
func (a *MemoryAccessor) WriteUint64(v uint64) error {
	b, err := a.reserve(8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

// ReadUint64 reads a little-endian uint64.
func (a *MemoryAccessor) ReadUint64() (uint64, error) {
	b, err := a.reserve(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteInt64 writes a little-endian int64.
func (a *MemoryAccessor) WriteInt64(v int64) error {
	return a.WriteUint64(uint64(v))
}

// ReadInt64 reads a little-endian int64.
func (a *MemoryAccessor) ReadInt64() (int64, error) {
	v, err := a.ReadUint64()
	return int64(v), err
}

// WriteFloat32 writes a little-endian IEEE-754 float32.
func (a *MemoryAccessor) WriteFloat32(v float32) error {
	return a.WriteUint32(math.Float32bits(v))
}

// ReadFloat32 reads a little-endian IEEE-754 float32.
func (a *MemoryAccessor) ReadFloat32() (float32, error) {
	v, err := a.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// WriteFloat64 writes a little-endian IEEE-754 float64.
func (a *MemoryAccessor) WriteFloat64(v float64) error {
	return a.WriteUint64(math.Float64bits(v))
}

// ReadFloat64 reads a little-endian IEEE-754 float64.
func (a *MemoryAccessor) ReadFloat64() (float64, error) {
	v, err := a.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// WriteBool writes a bool as an int32, 0 or 1, per the field encoding
// defaults in spec.md §6.
func (a *MemoryAccessor) WriteBool(v bool) error {
	if v {
		return a.WriteInt32(1)
	}
	return a.WriteInt32(0)
}

// ReadBool reads a bool encoded as an int32.
func (a *MemoryAccessor) ReadBool() (bool, error) {
	v, err := a.ReadInt32()
	return v != 0, err
}

// WriteBytes writes a fixed-length byte vector with no length prefix; the
// caller and reader must agree on the length out of band.
func (a *MemoryAccessor) WriteBytes(v []byte) error {
	b, err := a.reserve(len(v))
	if err != nil {
		return err
	}
	copy(b, v)
	return nil
}

// ReadBytes reads exactly n bytes.
func (a *MemoryAccessor) ReadBytes(n int) ([]byte, error) {
	b, err := a.reserve(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// padTo8 returns the number of padding bytes needed to round n up to the
// next 8-byte multiple.
func padTo8(n int) int {
	rem := n % Alignment
	if rem == 0 {
		return 0
	}
	return Alignment - rem
}

// WriteString writes a uint32 length prefix, the UTF-8 bytes, then
// zero-padding to an 8-byte boundary, per spec.md §6.
func (a *MemoryAccessor) WriteString(s string) error {
	raw := []byte(s)
	b, err := a.reserve(PadLen8(4 + len(raw)))
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, uint32(len(raw)))
	n := copy(b[4:], raw)
	clear(b[4+n:])
	return nil
}

// ReadString reads a length-prefixed, 8-byte-padded UTF-8 string written by
// WriteString. A length prefix larger than the remaining window is a
// SchemaDecodeError, reported as xrpaerr.ErrSchemaDecode.
func (a *MemoryAccessor) ReadString() (string, error) {
	n, err := a.ReadUint32()
	if err != nil {
		return "", err
	}
	if int(n) > a.Remaining() {
		return "", fmt.Errorf("string length %d exceeds remaining %d: %w", n, a.Remaining(), xrpaerr.ErrSchemaDecode)
	}
	raw, err := a.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	pad := padTo8(4 + int(n))
	if pad > 0 {
		if _, err := a.reserve(pad); err != nil {
			return "", err
		}
	}
	return string(raw), nil
}

// WriteVarBytes writes a uint32 length prefix, the bytes, then
// zero-padding to an 8-byte boundary — the vector-of-bytes encoding from
// spec.md §6.
func (a *MemoryAccessor) WriteVarBytes(v []byte) error {
	b, err := a.reserve(PadLen8(4 + len(v)))
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, uint32(len(v)))
	n := copy(b[4:], v)
	clear(b[4+n:])
	return nil
}

// ReadVarBytes reads a length-prefixed, padded byte vector written by
// WriteVarBytes.
func (a *MemoryAccessor) ReadVarBytes() ([]byte, error) {
	n, err := a.ReadUint32()
	if err != nil {
		return nil, err
	}
	if int(n) > a.Remaining() {
		return nil, fmt.Errorf("byte vector length %d exceeds remaining %d: %w", n, a.Remaining(), xrpaerr.ErrSchemaDecode)
	}
	raw, err := a.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}
	pad := padTo8(4 + int(n))
	if pad > 0 {
		if _, err := a.reserve(pad); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// ObjectID is a 128-bit object identifier.
type ObjectID [16]byte

// WriteObjectID writes the 16 raw bytes of an ObjectID.
func (a *MemoryAccessor) WriteObjectID(id ObjectID) error {
	return a.WriteBytes(id[:])
}

// ReadObjectID reads 16 raw bytes into an ObjectID.
func (a *MemoryAccessor) ReadObjectID() (ObjectID, error) {
	var id ObjectID
	b, err := a.reserve(16)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// PadLen8 rounds n up to the next multiple of Alignment. Exported so ring
// and event-framing code can size frames without re-deriving the rule.
func PadLen8(n int) int {
	if n%Alignment == 0 {
		return n
	}
	return n + padTo8(n)
}
