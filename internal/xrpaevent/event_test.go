// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xrpaevent

import (
	"errors"
	"testing"

	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
	"github.com/nishisan-dev/xrpa-go/internal/xrpaerr"
)

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderSize)
	h := Header{ByteCount: 32, Type: TypeUpdateObject, Timestamp: 12345}
	w := xrpabuf.NewMemoryAccessor(buf)
	if err := WriteHeader(w, h); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	r := xrpabuf.NewMemoryAccessor(buf)
	got, err := ReadHeader(r)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got != h {
		t.Fatalf("expected %+v, got %+v", h, got)
	}
}

func TestReadHeaderRejectsUnalignedByteCount(t *testing.T) {
	buf := make([]byte, HeaderSize)
	w := xrpabuf.NewMemoryAccessor(buf)
	WriteHeader(w, Header{ByteCount: 17, Type: TypeMessage})

	r := xrpabuf.NewMemoryAccessor(buf)
	_, err := ReadHeader(r)
	if !errors.Is(err, xrpaerr.ErrSchemaDecode) {
		t.Fatalf("expected ErrSchemaDecode, got %v", err)
	}
}

func TestReadHeaderRejectsByteCountBelowHeaderSize(t *testing.T) {
	buf := make([]byte, HeaderSize)
	w := xrpabuf.NewMemoryAccessor(buf)
	WriteHeader(w, Header{ByteCount: 8, Type: TypeMessage})

	r := xrpabuf.NewMemoryAccessor(buf)
	_, err := ReadHeader(r)
	if !errors.Is(err, xrpaerr.ErrSchemaDecode) {
		t.Fatalf("expected ErrSchemaDecode, got %v", err)
	}
}

func TestCreateUpdateDeleteMessagePayloadRoundTrip(t *testing.T) {
	oid := xrpabuf.ObjectID{1, 2, 3}

	t.Run("create", func(t *testing.T) {
		buf := make([]byte, 32)
		w := xrpabuf.NewMemoryAccessor(buf)
		p := CreatePayload{CollectionID: 7, ObjectID: oid}
		if err := WriteCreateHeader(w, p); err != nil {
			t.Fatalf("WriteCreateHeader: %v", err)
		}
		r := xrpabuf.NewMemoryAccessor(buf)
		got, err := ReadCreateHeader(r)
		if err != nil || got != p {
			t.Fatalf("got %+v, %v; want %+v", got, err, p)
		}
	})

	t.Run("update", func(t *testing.T) {
		buf := make([]byte, 32)
		w := xrpabuf.NewMemoryAccessor(buf)
		p := UpdatePayload{CollectionID: 3, ObjectID: oid, FieldsChanged: 0xFF}
		if err := WriteUpdateHeader(w, p); err != nil {
			t.Fatalf("WriteUpdateHeader: %v", err)
		}
		r := xrpabuf.NewMemoryAccessor(buf)
		got, err := ReadUpdateHeader(r)
		if err != nil || got != p {
			t.Fatalf("got %+v, %v; want %+v", got, err, p)
		}
	})

	t.Run("delete", func(t *testing.T) {
		buf := make([]byte, 32)
		w := xrpabuf.NewMemoryAccessor(buf)
		p := DeletePayload{CollectionID: 1, ObjectID: oid}
		if err := WriteDelete(w, p); err != nil {
			t.Fatalf("WriteDelete: %v", err)
		}
		r := xrpabuf.NewMemoryAccessor(buf)
		got, err := ReadDelete(r)
		if err != nil || got != p {
			t.Fatalf("got %+v, %v; want %+v", got, err, p)
		}
	})

	t.Run("message", func(t *testing.T) {
		buf := make([]byte, 32)
		w := xrpabuf.NewMemoryAccessor(buf)
		p := MessagePayload{CollectionID: 2, ObjectID: oid, MessageType: 9}
		if err := WriteMessageHeader(w, p); err != nil {
			t.Fatalf("WriteMessageHeader: %v", err)
		}
		r := xrpabuf.NewMemoryAccessor(buf)
		got, err := ReadMessageHeader(r)
		if err != nil || got != p {
			t.Fatalf("got %+v, %v; want %+v", got, err, p)
		}
	})
}

func TestRequestFullUpdateRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	w := xrpabuf.NewMemoryAccessor(buf)
	if err := WriteRequestFullUpdate(w, 0b1011); err != nil {
		t.Fatalf("WriteRequestFullUpdate: %v", err)
	}
	r := xrpabuf.NewMemoryAccessor(buf)
	mask, err := ReadRequestFullUpdate(r)
	if err != nil || mask != 0b1011 {
		t.Fatalf("got %d, %v; want 0b1011", mask, err)
	}
}

func TestSizeOfFrameIsAligned(t *testing.T) {
	sizes := []int{
		SizeOfFrame(TypeCreateObject, 0),
		SizeOfFrame(TypeUpdateObject, 3),
		SizeOfFrame(TypeDeleteObject, 0),
		SizeOfFrame(TypeMessage, 5),
		SizeOfFrame(TypeRequestFullUpdate, 0),
		SizeOfFrame(TypeShutdown, 0),
	}
	for _, s := range sizes {
		if s%xrpabuf.Alignment != 0 {
			t.Errorf("SizeOfFrame returned unaligned size %d", s)
		}
		if s < HeaderSize {
			t.Errorf("SizeOfFrame returned %d, smaller than HeaderSize %d", s, HeaderSize)
		}
	}
}

func TestTypeString(t *testing.T) {
	if TypeCreateObject.String() != "CreateObject" {
		t.Errorf("unexpected String(): %s", TypeCreateObject.String())
	}
	if got := Type(99).String(); got != "Type(99)" {
		t.Errorf("expected Type(99), got %s", got)
	}
}
