// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package xrpaevent implements the ChangeEvent wire framing from spec.md
// §4.3: a fixed 16-byte header (byteCount, type, timestamp) followed by a
// type-discriminated payload. Grounded on the teacher's
// internal/protocol/frames.go magic-plus-fixed-field framing, adapted from
// "one frame kind per magic value over a socket" to "one frame kind per
// Type byte inside a shared-memory ring".
package xrpaevent

import (
	"fmt"

	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
	"github.com/nishisan-dev/xrpa-go/internal/xrpaerr"
)

// Type discriminates a ChangeEvent's payload.
type Type uint32

// Event type constants, per spec.md §3.
const (
	TypeCreateObject Type = iota
	TypeUpdateObject
	TypeDeleteObject
	TypeMessage
	TypeRequestFullUpdate
	TypeShutdown
)

func (t Type) String() string {
	switch t {
	case TypeCreateObject:
		return "CreateObject"
	case TypeUpdateObject:
		return "UpdateObject"
	case TypeDeleteObject:
		return "DeleteObject"
	case TypeMessage:
		return "Message"
	case TypeRequestFullUpdate:
		return "RequestFullUpdate"
	case TypeShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("Type(%d)", uint32(t))
	}
}

// HeaderSize is the fixed portion of every frame: byteCount(4) + type(4) +
// timestamp(8).
const HeaderSize = 16

// Header is the fixed prefix of every frame in the ring.
type Header struct {
	ByteCount uint32 // total frame length including this header, 8-byte aligned
	Type      Type
	Timestamp int64 // microseconds from the writer's xrpaclock.Source (NowMicros)
}

// WriteHeader writes the fixed frame header at the accessor's current
// cursor.
func WriteHeader(a *xrpabuf.MemoryAccessor, h Header) error {
	if err := a.WriteUint32(h.ByteCount); err != nil {
		return err
	}
	if err := a.WriteUint32(uint32(h.Type)); err != nil {
		return err
	}
	return a.WriteInt64(h.Timestamp)
}

// ReadHeader reads the fixed frame header. A byteCount that is not an
// 8-byte multiple, or that leaves less than HeaderSize bytes in the frame,
// is reported as xrpaerr.ErrSchemaDecode — per spec.md §7, the caller must
// then treat the stream as overrun since the header itself cannot be
// trusted to resynchronize on.
func ReadHeader(a *xrpabuf.MemoryAccessor) (Header, error) {
	byteCount, err := a.ReadUint32()
	if err != nil {
		return Header{}, err
	}
	typ, err := a.ReadUint32()
	if err != nil {
		return Header{}, err
	}
	ts, err := a.ReadInt64()
	if err != nil {
		return Header{}, err
	}
	if byteCount%xrpabuf.Alignment != 0 || byteCount < HeaderSize {
		return Header{}, fmt.Errorf("invalid frame byteCount %d: %w", byteCount, xrpaerr.ErrSchemaDecode)
	}
	return Header{ByteCount: byteCount, Type: Type(typ), Timestamp: ts}, nil
}

// CreatePayload is the Create/Update/Delete common addressing prefix plus
// the Create-specific "all fields" contract: the caller writes fieldData
// for every declared field, in order, after this header.
type CreatePayload struct {
	CollectionID int32
	ObjectID     xrpabuf.ObjectID
}

// WriteCreateHeader writes the collectionId + objectId prefix shared by
// Create events. The caller writes the serialized fields immediately after.
func WriteCreateHeader(a *xrpabuf.MemoryAccessor, p CreatePayload) error {
	if err := a.WriteInt32(p.CollectionID); err != nil {
		return err
	}
	return a.WriteObjectID(p.ObjectID)
}

// ReadCreateHeader reads the collectionId + objectId prefix of a Create
// event.
func ReadCreateHeader(a *xrpabuf.MemoryAccessor) (CreatePayload, error) {
	cid, err := a.ReadInt32()
	if err != nil {
		return CreatePayload{}, err
	}
	oid, err := a.ReadObjectID()
	if err != nil {
		return CreatePayload{}, err
	}
	return CreatePayload{CollectionID: cid, ObjectID: oid}, nil
}

// UpdatePayload is the Update event's addressing prefix: collectionId,
// objectId, and the dirty-field bitmask. The caller writes serialized
// fields for exactly the bits set in FieldsChanged, in declared order,
// immediately after.
type UpdatePayload struct {
	CollectionID  int32
	ObjectID      xrpabuf.ObjectID
	FieldsChanged uint64
}

// WriteUpdateHeader writes the collectionId + objectId + fieldsChanged
// prefix shared by Update events.
func WriteUpdateHeader(a *xrpabuf.MemoryAccessor, p UpdatePayload) error {
	if err := a.WriteInt32(p.CollectionID); err != nil {
		return err
	}
	if err := a.WriteObjectID(p.ObjectID); err != nil {
		return err
	}
	return a.WriteUint64(p.FieldsChanged)
}

// ReadUpdateHeader reads the collectionId + objectId + fieldsChanged
// prefix of an Update event.
func ReadUpdateHeader(a *xrpabuf.MemoryAccessor) (UpdatePayload, error) {
	cid, err := a.ReadInt32()
	if err != nil {
		return UpdatePayload{}, err
	}
	oid, err := a.ReadObjectID()
	if err != nil {
		return UpdatePayload{}, err
	}
	mask, err := a.ReadUint64()
	if err != nil {
		return UpdatePayload{}, err
	}
	return UpdatePayload{CollectionID: cid, ObjectID: oid, FieldsChanged: mask}, nil
}

// DeletePayload is the complete Delete event payload: collectionId and
// objectId, no field data.
type DeletePayload struct {
	CollectionID int32
	ObjectID     xrpabuf.ObjectID
}

// WriteDelete writes a complete Delete event payload (the event carries no
// further field data).
func WriteDelete(a *xrpabuf.MemoryAccessor, p DeletePayload) error {
	if err := a.WriteInt32(p.CollectionID); err != nil {
		return err
	}
	return a.WriteObjectID(p.ObjectID)
}

// ReadDelete reads a Delete event payload.
func ReadDelete(a *xrpabuf.MemoryAccessor) (DeletePayload, error) {
	cid, err := a.ReadInt32()
	if err != nil {
		return DeletePayload{}, err
	}
	oid, err := a.ReadObjectID()
	if err != nil {
		return DeletePayload{}, err
	}
	return DeletePayload{CollectionID: cid, ObjectID: oid}, nil
}

// MessagePayload is the Message event's addressing prefix: collectionId,
// objectId, and messageType. The caller writes serialized message bytes
// immediately after.
type MessagePayload struct {
	CollectionID int32
	ObjectID     xrpabuf.ObjectID
	MessageType  int32
}

// WriteMessageHeader writes the collectionId + objectId + messageType
// prefix of a Message event.
func WriteMessageHeader(a *xrpabuf.MemoryAccessor, p MessagePayload) error {
	if err := a.WriteInt32(p.CollectionID); err != nil {
		return err
	}
	if err := a.WriteObjectID(p.ObjectID); err != nil {
		return err
	}
	return a.WriteInt32(p.MessageType)
}

// ReadMessageHeader reads the collectionId + objectId + messageType prefix
// of a Message event.
func ReadMessageHeader(a *xrpabuf.MemoryAccessor) (MessagePayload, error) {
	cid, err := a.ReadInt32()
	if err != nil {
		return MessagePayload{}, err
	}
	oid, err := a.ReadObjectID()
	if err != nil {
		return MessagePayload{}, err
	}
	mtype, err := a.ReadInt32()
	if err != nil {
		return MessagePayload{}, err
	}
	return MessagePayload{CollectionID: cid, ObjectID: oid, MessageType: mtype}, nil
}

// WriteRequestFullUpdate writes a RequestFullUpdate event payload: a single
// bitmask of affected collection IDs (bit i == collection i needs re-seed).
func WriteRequestFullUpdate(a *xrpabuf.MemoryAccessor, collectionIDMask uint64) error {
	return a.WriteUint64(collectionIDMask)
}

// ReadRequestFullUpdate reads a RequestFullUpdate event payload.
func ReadRequestFullUpdate(a *xrpabuf.MemoryAccessor) (uint64, error) {
	return a.ReadUint64()
}

// SizeOfFrame is the single pre-sizing entry point named in spec.md §9: the
// code generator and the core must agree on the formula for a frame's total
// byte count before reserving ring space, since the ring never moves or
// copies data after placement. dynamicPayload is the sum of variable-length
// field contributions (e.g. strings, byte vectors) already computed by the
// caller with xrpabuf.PadLen8.
func SizeOfFrame(t Type, dynamicPayload int) int {
	fixed := HeaderSize
	switch t {
	case TypeCreateObject:
		fixed += 4 + 16 // collectionId + objectId
	case TypeUpdateObject:
		fixed += 4 + 16 + 8 // collectionId + objectId + fieldsChanged
	case TypeDeleteObject:
		fixed += 4 + 16
	case TypeMessage:
		fixed += 4 + 16 + 4 // collectionId + objectId + messageType
	case TypeRequestFullUpdate:
		fixed += 8 // collectionIdMask
	case TypeShutdown:
		// no payload
	}
	return xrpabuf.PadLen8(fixed + dynamicPayload)
}
