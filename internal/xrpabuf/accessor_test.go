// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xrpabuf

import (
	"errors"
	"testing"

	"github.com/nishisan-dev/xrpa-go/internal/xrpaerr"
)

func TestScalarRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	w := NewMemoryAccessor(buf)

	if err := w.WriteUint8(0xAB); err != nil {
		t.Fatalf("WriteUint8: %v", err)
	}
	if err := w.WriteInt32(-7); err != nil {
		t.Fatalf("WriteInt32: %v", err)
	}
	if err := w.WriteUint64(1 << 40); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	if err := w.WriteFloat32(3.5); err != nil {
		t.Fatalf("WriteFloat32: %v", err)
	}
	if err := w.WriteBool(true); err != nil {
		t.Fatalf("WriteBool: %v", err)
	}

	r := NewMemoryAccessor(buf)
	if v, err := r.ReadUint8(); err != nil || v != 0xAB {
		t.Fatalf("ReadUint8 = %v, %v", v, err)
	}
	if v, err := r.ReadInt32(); err != nil || v != -7 {
		t.Fatalf("ReadInt32 = %v, %v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 1<<40 {
		t.Fatalf("ReadUint64 = %v, %v", v, err)
	}
	if v, err := r.ReadFloat32(); err != nil || v != 3.5 {
		t.Fatalf("ReadFloat32 = %v, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != true {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
}

func TestStringRoundTripAndPadding(t *testing.T) {
	buf := make([]byte, 64)
	w := NewMemoryAccessor(buf)
	if err := w.WriteString("hi"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	// length(4) + "hi"(2) + pad(2) = 8 bytes written.
	if w.Offset() != 8 {
		t.Fatalf("expected offset 8 after padded write, got %d", w.Offset())
	}

	r := NewMemoryAccessor(buf)
	s, err := r.ReadString()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if s != "hi" {
		t.Fatalf("expected %q, got %q", "hi", s)
	}
	if r.Offset() != 8 {
		t.Fatalf("expected reader offset 8, got %d", r.Offset())
	}
}

func TestReadStringRejectsOversizedLength(t *testing.T) {
	buf := make([]byte, 8)
	w := NewMemoryAccessor(buf)
	if err := w.WriteUint32(1000); err != nil {
		t.Fatalf("WriteUint32: %v", err)
	}

	r := NewMemoryAccessor(buf)
	_, err := r.ReadString()
	if !errors.Is(err, xrpaerr.ErrSchemaDecode) {
		t.Fatalf("expected ErrSchemaDecode, got %v", err)
	}
}

func TestWriteBeyondWindowIsBoundsViolation(t *testing.T) {
	buf := make([]byte, 4)
	w := NewMemoryAccessor(buf)
	if err := w.WriteUint64(1); !errors.Is(err, xrpaerr.ErrBoundsViolation) {
		t.Fatalf("expected ErrBoundsViolation, got %v", err)
	}
}

func TestSeekBounds(t *testing.T) {
	buf := make([]byte, 8)
	a := NewMemoryAccessor(buf)
	if err := a.Seek(4); err != nil {
		t.Fatalf("Seek(4): %v", err)
	}
	if a.Remaining() != 4 {
		t.Fatalf("expected 4 remaining, got %d", a.Remaining())
	}
	if err := a.Seek(-1); !errors.Is(err, xrpaerr.ErrBoundsViolation) {
		t.Fatalf("expected ErrBoundsViolation for negative seek, got %v", err)
	}
	if err := a.Seek(9); !errors.Is(err, xrpaerr.ErrBoundsViolation) {
		t.Fatalf("expected ErrBoundsViolation for out-of-range seek, got %v", err)
	}
}

func TestObjectIDRoundTrip(t *testing.T) {
	var id ObjectID
	for i := range id {
		id[i] = byte(i)
	}
	buf := make([]byte, 16)
	w := NewMemoryAccessor(buf)
	if err := w.WriteObjectID(id); err != nil {
		t.Fatalf("WriteObjectID: %v", err)
	}
	r := NewMemoryAccessor(buf)
	got, err := r.ReadObjectID()
	if err != nil {
		t.Fatalf("ReadObjectID: %v", err)
	}
	if got != id {
		t.Fatalf("expected %v, got %v", id, got)
	}
}

func TestPadLen8(t *testing.T) {
	cases := map[int]int{0: 0, 1: 8, 7: 8, 8: 8, 9: 16, 16: 16}
	for in, want := range cases {
		if got := PadLen8(in); got != want {
			t.Errorf("PadLen8(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestVarBytesRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	w := NewMemoryAccessor(buf)
	payload := []byte{1, 2, 3}
	if err := w.WriteVarBytes(payload); err != nil {
		t.Fatalf("WriteVarBytes: %v", err)
	}

	r := NewMemoryAccessor(buf)
	got, err := r.ReadVarBytes()
	if err != nil {
		t.Fatalf("ReadVarBytes: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("expected len %d, got %d", len(payload), len(got))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d: expected %d, got %d", i, payload[i], got[i])
		}
	}
}
