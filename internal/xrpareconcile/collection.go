// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package xrpareconcile implements the DataStoreReconciler and
// ObjectCollection from spec.md §4.4 and §4.5: per-process state mirroring
// collections of objects between the local view and the transport ring.
//
// Grounded on the teacher's internal/server/handler.go (a façade owning
// per-connection state, dispatching on a frame's leading magic) and
// internal/agent/dispatcher.go (batching outbound writes across several
// streams), generalized from "bytes framed by a 4-byte magic over TCP" to
// "ChangeEvents framed by a typed header over a shared-memory ring", and
// from "N parallel byte streams" to "N registered object collections
// flushed once per outbound tick".
package xrpareconcile

import (
	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
)

// FieldMask is the 64-bit per-object set of fields mutated since the last
// flush (spec.md §3's "dirty mask").
type FieldMask = uint64

// Object is implemented by every generated per-schema object type. The
// reconciler and collection only ever see this interface; field layout and
// serialization are owned by generated code, per spec.md §1's scope.
type Object interface {
	// ObjectID returns this object's 128-bit identity.
	ObjectID() xrpabuf.ObjectID

	// WriteFields serializes the fields selected by mask, in declared
	// field order, into a. For a Create event mask has every bit set; for
	// an Update event mask is exactly the accumulated dirty bits.
	WriteFields(a *xrpabuf.MemoryAccessor, mask FieldMask) error

	// ReadFields deserializes the fields selected by mask, in declared
	// field order, from a, applying them to the receiver.
	ReadFields(a *xrpabuf.MemoryAccessor, mask FieldMask) error

	// DynamicFieldSize returns the exact serialized byte size — fixed-width
	// contributions plus any padded variable-length contributions — of the
	// fields selected by mask. This is the "size-of helper" from spec.md
	// §4.1: generated code knows each field's width at compile time, so it
	// can report the total in one call, letting the reconciler pre-size a
	// frame exactly before reserving ring space.
	DynamicFieldSize(mask FieldMask) int
}

// AllFieldsMask returns a mask selecting all of n declared fields (n <= 64),
// used for Create events which must serialize every field since the
// mirror has no prior value, per spec.md §4.3.
func AllFieldsMask(n int) FieldMask {
	if n >= 64 {
		return ^FieldMask(0)
	}
	return (FieldMask(1) << uint(n)) - 1
}

// entry is a collection's bookkeeping for one object: the object itself
// plus outbound dirty/create-pending state, per spec.md §3's
// ObjectCollection description.
type entry struct {
	obj           Object
	dirtyMask     FieldMask
	needsCreate   bool
	needsDelete   bool
	pendingMsgs   []pendingMessage
}

type pendingMessage struct {
	messageType int32
	payload     []byte
}

// CreateFunc constructs a mirrored object from inbound Create field data.
// Supplied by the caller so collections never need to know concrete
// generated types, per spec.md §4.5's "inbound collection delegates object
// construction to a user-supplied factory".
type CreateFunc func(id xrpabuf.ObjectID) Object

// Mode distinguishes the two collection declaration modes from spec.md
// §4.5.
type Mode int

const (
	// ModeOutbound collections are locally owned: the collection
	// manufactures and owns object lifetime, serializing them outbound.
	ModeOutbound Mode = iota
	// ModeInbound collections are mirrored: construction is delegated to a
	// user-supplied factory, with onCreate/onDelete hooks surfaced to the
	// client.
	ModeInbound
)

// Collection is a typed container of Objects addressable by UUID,
// identified by a small schema-assigned integer, per spec.md §3 and §4.5.
type Collection struct {
	id   int32
	mode Mode

	objects map[xrpabuf.ObjectID]*entry

	// dirty is the set of object IDs with pending outbound writes —
	// create, update, delete, or queued messages — checked by the
	// reconciler's TickOutbound without scanning every object.
	dirty map[xrpabuf.ObjectID]struct{}

	create CreateFunc

	onCreate func(Object)
	onFieldsChanged func(id xrpabuf.ObjectID, mask FieldMask)
	onDelete func(id xrpabuf.ObjectID)

	indexes []*SecondaryIndex

	// messageHandlers is the messageType -> handler dispatch table from
	// spec.md §9: "modeled as a mapping from messageType: int32 → handler
	// inside each object" — implemented at the collection level as a flat
	// dispatch table, one of the three equivalent forms the spec allows.
	// Handlers receive the frame's timestamp alongside the addressed object
	// and an accessor positioned at the message payload.
	messageHandlers map[int32]func(obj Object, timestamp int64, a *xrpabuf.MemoryAccessor) error
}

// RegisterMessageHandler installs the handler invoked for inbound Message
// frames of the given messageType addressed to any object in this
// collection.
func (c *Collection) RegisterMessageHandler(messageType int32, handler func(obj Object, timestamp int64, a *xrpabuf.MemoryAccessor) error) {
	if c.messageHandlers == nil {
		c.messageHandlers = make(map[int32]func(Object, int64, *xrpabuf.MemoryAccessor) error)
	}
	c.messageHandlers[messageType] = handler
}

func (c *Collection) messageHandler(messageType int32) (func(Object, int64, *xrpabuf.MemoryAccessor) error, bool) {
	h, ok := c.messageHandlers[messageType]
	return h, ok
}

// NewOutboundCollection returns a Collection in ModeOutbound: the client
// constructs objects directly and registers them with AddLocal.
func NewOutboundCollection(id int32) *Collection {
	return newCollection(id, ModeOutbound)
}

// NewInboundCollection returns a Collection in ModeInbound: create is
// invoked to materialize a mirror entry when a Create event arrives.
func NewInboundCollection(id int32, create CreateFunc) *Collection {
	c := newCollection(id, ModeInbound)
	c.create = create
	return c
}

func newCollection(id int32, mode Mode) *Collection {
	return &Collection{
		id:      id,
		mode:    mode,
		objects: make(map[xrpabuf.ObjectID]*entry),
		dirty:   make(map[xrpabuf.ObjectID]struct{}),
	}
}

// ID returns this collection's schema-assigned integer identifier.
func (c *Collection) ID() int32 { return c.id }

// OnCreate registers the callback invoked when a mirrored object is
// materialized from an inbound Create event.
func (c *Collection) OnCreate(fn func(Object)) { c.onCreate = fn }

// OnFieldsChanged registers the callback invoked with the exact dirty
// bitmask applied by an inbound Update event.
func (c *Collection) OnFieldsChanged(fn func(id xrpabuf.ObjectID, mask FieldMask)) {
	c.onFieldsChanged = fn
}

// OnDelete registers the callback invoked before a mirrored object is
// removed by an inbound Delete event (or reconciler teardown).
func (c *Collection) OnDelete(fn func(id xrpabuf.ObjectID)) { c.onDelete = fn }

// Get returns the object with id, if present.
func (c *Collection) Get(id xrpabuf.ObjectID) (Object, bool) {
	e, ok := c.objects[id]
	if !ok {
		return nil, false
	}
	return e.obj, true
}

// Len returns the number of objects currently mirrored or owned.
func (c *Collection) Len() int { return len(c.objects) }

// ForEach calls fn for every object currently in the collection. Iteration
// order is unspecified.
func (c *Collection) ForEach(fn func(Object)) {
	for _, e := range c.objects {
		fn(e.obj)
	}
}

// AddLocal registers a newly-constructed, locally-owned object with the
// collection: dirty and create-pending bits are set so the next outbound
// tick flushes a Create event, per spec.md §3's locally-owned object
// lifecycle.
func (c *Collection) AddLocal(obj Object) {
	id := obj.ObjectID()
	e := &entry{obj: obj, needsCreate: true}
	c.objects[id] = e
	c.dirty[id] = struct{}{}
	c.notifyIndexCreate(obj)
}

// SetDirty unions mask into obj's pending outbound bits and marks it dirty
// for the next flush, per spec.md §4.4's notifyObjectNeedsWrite/setDirty
// operations. The caller is expected to have already mutated the object's
// fields directly; SetDirty only records which bits need to go out on the
// next TickOutbound.
func (c *Collection) SetDirty(id xrpabuf.ObjectID, mask FieldMask) {
	e, ok := c.objects[id]
	if !ok {
		return
	}
	e.dirtyMask |= mask
	c.dirty[id] = struct{}{}
	c.notifyIndexUpdate(e.obj, mask)
}

// Touch marks obj dirty for the next outbound flush without changing its
// pending field mask, per spec.md §4.4's notifyObjectNeedsWrite operation
// (used when a field was mutated in place and the caller separately tracks
// which bits changed via SetDirty).
func (c *Collection) Touch(id xrpabuf.ObjectID) {
	if _, ok := c.objects[id]; ok {
		c.dirty[id] = struct{}{}
	}
}

// MarkAllNeedFullResend flags every object in the collection for a full
// Create re-send, used when a peer asks for a full update after recovering
// from an overrun (spec.md §4.2's RequestFullUpdate handling).
func (c *Collection) MarkAllNeedFullResend() {
	for id, e := range c.objects {
		e.needsCreate = true
		e.dirtyMask = 0
		c.dirty[id] = struct{}{}
	}
}

// RemoveLocal tombstones a locally-owned object: the next outbound tick
// emits a Delete event and removes it from the collection.
func (c *Collection) RemoveLocal(id xrpabuf.ObjectID) {
	e, ok := c.objects[id]
	if !ok {
		return
	}
	e.needsDelete = true
	c.dirty[id] = struct{}{}
}

// QueueMessage enqueues a Message frame to be flushed on the next outbound
// tick, carrying the caller-serialized payload bytes.
func (c *Collection) QueueMessage(id xrpabuf.ObjectID, messageType int32, payload []byte) {
	e, ok := c.objects[id]
	if !ok {
		return
	}
	e.pendingMsgs = append(e.pendingMsgs, pendingMessage{messageType: messageType, payload: payload})
	c.dirty[id] = struct{}{}
}

// applyCreate materializes a mirrored object from inbound Create data,
// per spec.md §4.4's inbound dispatch for Create events.
func (c *Collection) applyCreate(id xrpabuf.ObjectID) (Object, error) {
	obj := c.create(id)
	c.objects[id] = &entry{obj: obj}
	c.notifyIndexCreate(obj)
	if c.onCreate != nil {
		c.onCreate(obj)
	}
	return obj, nil
}

// applyDelete removes a mirrored object, per spec.md invariant 4: "if the
// latest applied event for that UUID is Delete, the mirror does not
// contain it".
func (c *Collection) applyDelete(id xrpabuf.ObjectID) {
	e, ok := c.objects[id]
	if !ok {
		return
	}
	if c.onDelete != nil {
		c.onDelete(id)
	}
	c.notifyIndexDelete(e.obj)
	delete(c.objects, id)
	delete(c.dirty, id)
}

// applyFieldsChanged notifies indexes and the client callback after an
// inbound Update applied mask to the mirror.
func (c *Collection) applyFieldsChanged(id xrpabuf.ObjectID, mask FieldMask) {
	e, ok := c.objects[id]
	if !ok {
		return
	}
	c.notifyIndexUpdate(e.obj, mask)
	if c.onFieldsChanged != nil {
		c.onFieldsChanged(id, mask)
	}
}

// discardAll empties the collection's mirror state, used by overrun
// recovery (spec.md §4.2 step a: "discard all in-progress mirror state for
// collections sourced from this stream").
func (c *Collection) discardAll() {
	for id, e := range c.objects {
		if c.onDelete != nil {
			c.onDelete(id)
		}
		c.notifyIndexDelete(e.obj)
	}
	c.objects = make(map[xrpabuf.ObjectID]*entry)
	c.dirty = make(map[xrpabuf.ObjectID]struct{})
}
