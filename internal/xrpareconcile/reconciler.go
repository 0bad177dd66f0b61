// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xrpareconcile

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
	"github.com/nishisan-dev/xrpa-go/internal/xrpaclock"
	"github.com/nishisan-dev/xrpa-go/internal/xrpaerr"
	"github.com/nishisan-dev/xrpa-go/internal/xrpaevent"
	"github.com/nishisan-dev/xrpa-go/internal/xrpatransport"
)

// allFieldsMask selects every field regardless of a type's declared count;
// generated ReadFields/WriteFields implementations only ever test the bits
// for fields they actually declare, so an all-ones mask is safe to reuse
// across every schema on the Create path.
const allFieldsMask FieldMask = ^FieldMask(0)

// Reconciler is the DataStoreReconciler from spec.md §4.4: the per-process
// agent owning one inbound and one outbound TransportStream, dispatching
// ChangeEvents to registered collections on TickInbound and batching dirty
// state into frames on TickOutbound.
//
// Grounded on the teacher's internal/server/handler.go (a per-connection
// façade dispatching on a frame's leading discriminator) and
// internal/agent/dispatcher.go (round-robin batching of outbound writes
// across several streams), generalized from "N parallel byte streams driven
// by one dispatcher" to "N registered object collections flushed once per
// outbound tick".
type Reconciler struct {
	inbound  *xrpatransport.Stream
	outbound *xrpatransport.Stream
	clock    xrpaclock.Source
	log      *slog.Logger

	collections map[int32]*Collection

	// channels holds registered signal channels, advanced once per
	// TickOutbound alongside dirty-field flushing, per spec.md §4.4's
	// tickOutbound closing sentence on signal channels. A SignalTicker
	// rather than a concrete xrpasignal.Channel type here avoids a
	// xrpareconcile<->xrpasignal import cycle, since Channel itself holds a
	// *Reconciler.
	channels []SignalTicker

	// inboundClosed is set once a Shutdown frame has been observed on the
	// inbound stream, per spec.md §5's "stop consuming" clause: a writer
	// that announced shutdown has nothing further worth reading.
	inboundClosed bool
}

// SignalTicker is anything advanced once per outbound tick alongside
// collection flushing — the signal-channel contract of spec.md §4.4's
// tickOutbound closing sentence. xrpasignal.Channel implements this.
type SignalTicker interface {
	TickOutbound(now int64) error
}

// NewReconciler returns a Reconciler ticking the given inbound and outbound
// streams. A nil logger falls back to slog.Default(), matching the teacher's
// NewLogger callers that tolerate an unconfigured logger during tests.
func NewReconciler(inbound, outbound *xrpatransport.Stream, clock xrpaclock.Source, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		inbound:     inbound,
		outbound:    outbound,
		clock:       clock,
		log:         logger,
		collections: make(map[int32]*Collection),
	}
}

// RegisterCollection adds c to the set this reconciler dispatches to and
// flushes, keyed by c.ID(), per spec.md §9's collectionId registry.
func (r *Reconciler) RegisterCollection(c *Collection) {
	r.collections[c.id] = c
}

// RegisterSignalChannel adds ch to the set advanced on every TickOutbound,
// per spec.md §4.4. xrpasignal.NewChannel calls this itself, so callers
// never have to remember to wire a channel in separately from the
// reconciler they built it against.
func (r *Reconciler) RegisterSignalChannel(ch SignalTicker) {
	r.channels = append(r.channels, ch)
}

// NotifyObjectNeedsWrite marks an object dirty for the next outbound flush
// without altering its pending field mask, per spec.md §4.4.
func (r *Reconciler) NotifyObjectNeedsWrite(collectionID int32, id xrpabuf.ObjectID) {
	if c, ok := r.collections[collectionID]; ok {
		c.Touch(id)
	}
}

// SetDirty unions mask into an object's pending outbound bits, per spec.md
// §4.4. Unknown collections and objects are silently ignored: a caller
// racing a local delete against a field mutation is a benign, expected
// occurrence, not an error.
func (r *Reconciler) SetDirty(collectionID int32, id xrpabuf.ObjectID, mask FieldMask) {
	if c, ok := r.collections[collectionID]; ok {
		c.SetDirty(id, mask)
	}
}

// SendMessage reserves and immediately appends a Message frame addressed to
// id, invoking write with an accessor positioned at the payload so the
// caller can serialize message fields in place. byteCount is the unpadded
// payload size; the frame is padded to the next 8-byte boundary.
//
// Unlike field mutations, messages are not batched to the next
// TickOutbound: spec.md §3 describes messages as fire-and-forget signals
// with no mirrored state to reconcile, so there is nothing to gain by
// delaying the write.
func (r *Reconciler) SendMessage(collectionID int32, id xrpabuf.ObjectID, messageType int32, byteCount int, write func(a *xrpabuf.MemoryAccessor) error) error {
	c, ok := r.collections[collectionID]
	if !ok {
		return fmt.Errorf("xrpareconcile: send message to collection %d: %w", collectionID, xrpaerr.ErrUnknownCollection)
	}
	if _, ok := c.Get(id); !ok {
		return fmt.Errorf("xrpareconcile: send message to object %x: %w", id, xrpaerr.ErrUnknownObject)
	}

	n := xrpaevent.SizeOfFrame(xrpaevent.TypeMessage, xrpabuf.PadLen8(byteCount))
	now := r.clock.NowMicros()
	return r.outbound.Append(n, func(a *xrpabuf.MemoryAccessor) error {
		if err := xrpaevent.WriteHeader(a, xrpaevent.Header{ByteCount: uint32(n), Type: xrpaevent.TypeMessage, Timestamp: now}); err != nil {
			return err
		}
		if err := xrpaevent.WriteMessageHeader(a, xrpaevent.MessagePayload{CollectionID: collectionID, ObjectID: id, MessageType: messageType}); err != nil {
			return err
		}
		return write(a)
	})
}

// TickInbound drains every currently-available frame from the inbound
// stream, dispatching each to its registered collection. An overrun or
// writer-disappearance forces full-update recovery (spec.md §4.2): every
// registered collection's mirror is discarded, the inbound cursor is
// resynced, and a RequestFullUpdate event is emitted on the outbound stream
// so the peer re-seeds.
func (r *Reconciler) TickInbound() error {
	if r.inboundClosed {
		return nil
	}
	for {
		frame, ok, err := r.inbound.Next()
		if err != nil {
			if errors.Is(err, xrpaerr.ErrOverrun) || errors.Is(err, xrpaerr.ErrWriterDisappeared) {
				r.log.Warn("inbound stream overrun, discarding mirror state", "err", err)
				for _, c := range r.collections {
					c.discardAll()
				}
				r.inbound.Resync()
				if reqErr := r.emitRequestFullUpdate(); reqErr != nil {
					r.log.Error("failed to request full update after overrun", "err", reqErr)
					return reqErr
				}
				continue
			}
			return fmt.Errorf("xrpareconcile: inbound tick: %w", err)
		}
		if !ok {
			return nil
		}
		r.dispatchInbound(frame)
		if r.inboundClosed {
			return nil
		}
	}
}

func (r *Reconciler) dispatchInbound(frame xrpatransport.Frame) {
	switch frame.Header.Type {
	case xrpaevent.TypeCreateObject:
		r.handleCreate(frame.Accessor)
	case xrpaevent.TypeUpdateObject:
		r.handleUpdate(frame.Accessor)
	case xrpaevent.TypeDeleteObject:
		r.handleDelete(frame.Accessor)
	case xrpaevent.TypeMessage:
		r.handleMessage(frame.Header.Timestamp, frame.Accessor)
	case xrpaevent.TypeRequestFullUpdate:
		r.handleRequestFullUpdate(frame.Accessor)
	case xrpaevent.TypeShutdown:
		r.handleShutdown()
	default:
		r.log.Warn("unknown event type on inbound stream", "type", uint32(frame.Header.Type))
	}
}

func (r *Reconciler) handleCreate(a *xrpabuf.MemoryAccessor) {
	p, err := xrpaevent.ReadCreateHeader(a)
	if err != nil {
		r.log.Warn("malformed create frame", "err", err)
		return
	}
	c, ok := r.collections[p.CollectionID]
	if !ok {
		r.log.Warn("create for unregistered collection", "collectionId", p.CollectionID)
		return
	}
	obj, err := c.applyCreate(p.ObjectID)
	if err != nil {
		r.log.Warn("create dispatch failed", "collectionId", p.CollectionID, "objectId", p.ObjectID, "err", err)
		return
	}
	if err := obj.ReadFields(a, allFieldsMask); err != nil {
		r.log.Warn("failed decoding create fields", "collectionId", p.CollectionID, "objectId", p.ObjectID, "err", err)
	}
	// applyCreate indexed the object before its fields were decoded;
	// re-index it under the decoded values.
	c.notifyIndexUpdate(obj, allFieldsMask)
}

func (r *Reconciler) handleUpdate(a *xrpabuf.MemoryAccessor) {
	p, err := xrpaevent.ReadUpdateHeader(a)
	if err != nil {
		r.log.Warn("malformed update frame", "err", err)
		return
	}
	c, ok := r.collections[p.CollectionID]
	if !ok {
		r.log.Warn("update for unregistered collection", "collectionId", p.CollectionID)
		return
	}
	obj, ok := c.Get(p.ObjectID)
	if !ok {
		// Benign race: a Delete and an Update for the same object can cross
		// on the wire. The mirror is already correct (absent); skip.
		r.log.Warn("update for unknown object", "collectionId", p.CollectionID, "objectId", p.ObjectID)
		return
	}
	if err := obj.ReadFields(a, p.FieldsChanged); err != nil {
		r.log.Warn("failed decoding update fields", "collectionId", p.CollectionID, "objectId", p.ObjectID, "err", err)
		return
	}
	c.applyFieldsChanged(p.ObjectID, p.FieldsChanged)
}

func (r *Reconciler) handleDelete(a *xrpabuf.MemoryAccessor) {
	p, err := xrpaevent.ReadDelete(a)
	if err != nil {
		r.log.Warn("malformed delete frame", "err", err)
		return
	}
	c, ok := r.collections[p.CollectionID]
	if !ok {
		r.log.Warn("delete for unregistered collection", "collectionId", p.CollectionID)
		return
	}
	c.applyDelete(p.ObjectID)
}

func (r *Reconciler) handleMessage(timestamp int64, a *xrpabuf.MemoryAccessor) {
	p, err := xrpaevent.ReadMessageHeader(a)
	if err != nil {
		r.log.Warn("malformed message frame", "err", err)
		return
	}
	c, ok := r.collections[p.CollectionID]
	if !ok {
		r.log.Warn("message for unregistered collection", "collectionId", p.CollectionID)
		return
	}
	obj, ok := c.Get(p.ObjectID)
	if !ok {
		r.log.Warn("message for unknown object", "collectionId", p.CollectionID, "objectId", p.ObjectID)
		return
	}
	handler, ok := c.messageHandler(p.MessageType)
	if !ok {
		r.log.Warn("unhandled message type", "collectionId", p.CollectionID, "objectId", p.ObjectID, "messageType", p.MessageType)
		return
	}
	if err := handler(obj, timestamp, a); err != nil {
		r.log.Warn("message handler failed", "collectionId", p.CollectionID, "objectId", p.ObjectID, "messageType", p.MessageType, "err", err)
	}
}

func (r *Reconciler) handleRequestFullUpdate(a *xrpabuf.MemoryAccessor) {
	mask, err := xrpaevent.ReadRequestFullUpdate(a)
	if err != nil {
		r.log.Warn("malformed request-full-update frame", "err", err)
		return
	}
	for id, c := range r.collections {
		if id >= 0 && id < 64 && mask&(uint64(1)<<uint(id)) != 0 {
			c.MarkAllNeedFullResend()
		}
	}
}

// handleShutdown implements spec.md §5's "A Shutdown frame causes the
// reader to mark all objects from that writer as deleted and stop consuming":
// every object mirrored from this inbound stream's collections is tombstoned
// (invoking onDelete and unwinding secondary indexes, same as overrun
// recovery) and TickInbound stops draining this stream thereafter.
func (r *Reconciler) handleShutdown() {
	r.log.Info("peer sent shutdown event, tombstoning mirrored objects")
	for _, c := range r.collections {
		c.discardAll()
	}
	r.inboundClosed = true
}

// emitRequestFullUpdate asks the peer on the outbound stream to resend a
// full snapshot of every registered collection, per spec.md §4.2's overrun
// recovery step (c).
func (r *Reconciler) emitRequestFullUpdate() error {
	var mask uint64
	for id := range r.collections {
		if id >= 0 && id < 64 {
			mask |= uint64(1) << uint(id)
		}
	}
	n := xrpaevent.SizeOfFrame(xrpaevent.TypeRequestFullUpdate, 0)
	now := r.clock.NowMicros()
	return r.outbound.Append(n, func(a *xrpabuf.MemoryAccessor) error {
		if err := xrpaevent.WriteHeader(a, xrpaevent.Header{ByteCount: uint32(n), Type: xrpaevent.TypeRequestFullUpdate, Timestamp: now}); err != nil {
			return err
		}
		return xrpaevent.WriteRequestFullUpdate(a, mask)
	})
}

// TickOutbound flushes every registered collection's pending creates,
// updates, deletes, and queued messages to the outbound stream, per
// spec.md §4.4. Flush order within an object is create-or-update, then
// queued messages, then delete — so a delete always lands after any fields
// the peer needs to see first.
func (r *Reconciler) TickOutbound() error {
	for _, c := range r.collections {
		if err := r.flushCollection(c); err != nil {
			return err
		}
	}
	now := r.clock.NowMicros()
	for _, ch := range r.channels {
		if err := ch.TickOutbound(now); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) flushCollection(c *Collection) error {
	for id := range c.dirty {
		e, ok := c.objects[id]
		if !ok {
			delete(c.dirty, id)
			continue
		}

		switch {
		case e.needsCreate:
			if err := r.emitCreate(c.id, e); err != nil {
				return err
			}
			e.needsCreate = false
			e.dirtyMask = 0
		case e.dirtyMask != 0:
			if err := r.emitUpdate(c.id, e); err != nil {
				return err
			}
			e.dirtyMask = 0
		}

		for _, m := range e.pendingMsgs {
			if err := r.emitQueuedMessage(c.id, e, m); err != nil {
				return err
			}
		}
		e.pendingMsgs = nil

		if e.needsDelete {
			if err := r.emitDelete(c.id, e); err != nil {
				return err
			}
			c.notifyIndexDelete(e.obj)
			delete(c.objects, id)
		}
		delete(c.dirty, id)
	}
	return nil
}

func (r *Reconciler) emitCreate(collectionID int32, e *entry) error {
	fieldBytes := e.obj.DynamicFieldSize(allFieldsMask)
	n := xrpaevent.SizeOfFrame(xrpaevent.TypeCreateObject, fieldBytes)
	now := r.clock.NowMicros()
	return r.outbound.Append(n, func(a *xrpabuf.MemoryAccessor) error {
		if err := xrpaevent.WriteHeader(a, xrpaevent.Header{ByteCount: uint32(n), Type: xrpaevent.TypeCreateObject, Timestamp: now}); err != nil {
			return err
		}
		if err := xrpaevent.WriteCreateHeader(a, xrpaevent.CreatePayload{CollectionID: collectionID, ObjectID: e.obj.ObjectID()}); err != nil {
			return err
		}
		return e.obj.WriteFields(a, allFieldsMask)
	})
}

func (r *Reconciler) emitUpdate(collectionID int32, e *entry) error {
	fieldBytes := e.obj.DynamicFieldSize(e.dirtyMask)
	n := xrpaevent.SizeOfFrame(xrpaevent.TypeUpdateObject, fieldBytes)
	now := r.clock.NowMicros()
	mask := e.dirtyMask
	return r.outbound.Append(n, func(a *xrpabuf.MemoryAccessor) error {
		if err := xrpaevent.WriteHeader(a, xrpaevent.Header{ByteCount: uint32(n), Type: xrpaevent.TypeUpdateObject, Timestamp: now}); err != nil {
			return err
		}
		if err := xrpaevent.WriteUpdateHeader(a, xrpaevent.UpdatePayload{CollectionID: collectionID, ObjectID: e.obj.ObjectID(), FieldsChanged: mask}); err != nil {
			return err
		}
		return e.obj.WriteFields(a, mask)
	})
}

func (r *Reconciler) emitDelete(collectionID int32, e *entry) error {
	n := xrpaevent.SizeOfFrame(xrpaevent.TypeDeleteObject, 0)
	now := r.clock.NowMicros()
	return r.outbound.Append(n, func(a *xrpabuf.MemoryAccessor) error {
		if err := xrpaevent.WriteHeader(a, xrpaevent.Header{ByteCount: uint32(n), Type: xrpaevent.TypeDeleteObject, Timestamp: now}); err != nil {
			return err
		}
		return xrpaevent.WriteDelete(a, xrpaevent.DeletePayload{CollectionID: collectionID, ObjectID: e.obj.ObjectID()})
	})
}

func (r *Reconciler) emitQueuedMessage(collectionID int32, e *entry, m pendingMessage) error {
	n := xrpaevent.SizeOfFrame(xrpaevent.TypeMessage, xrpabuf.PadLen8(len(m.payload)))
	now := r.clock.NowMicros()
	return r.outbound.Append(n, func(a *xrpabuf.MemoryAccessor) error {
		if err := xrpaevent.WriteHeader(a, xrpaevent.Header{ByteCount: uint32(n), Type: xrpaevent.TypeMessage, Timestamp: now}); err != nil {
			return err
		}
		if err := xrpaevent.WriteMessageHeader(a, xrpaevent.MessagePayload{CollectionID: collectionID, ObjectID: e.obj.ObjectID(), MessageType: m.messageType}); err != nil {
			return err
		}
		return a.WriteBytes(m.payload)
	})
}

// Shutdown emits a Shutdown event on the outbound stream and detaches both
// streams, per spec.md §4.4's teardown operation.
func (r *Reconciler) Shutdown() error {
	n := xrpaevent.SizeOfFrame(xrpaevent.TypeShutdown, 0)
	now := r.clock.NowMicros()
	if err := r.outbound.Append(n, func(a *xrpabuf.MemoryAccessor) error {
		return xrpaevent.WriteHeader(a, xrpaevent.Header{ByteCount: uint32(n), Type: xrpaevent.TypeShutdown, Timestamp: now})
	}); err != nil {
		return fmt.Errorf("xrpareconcile: emitting shutdown event: %w", err)
	}
	if err := r.outbound.Detach(); err != nil {
		return fmt.Errorf("xrpareconcile: detaching outbound stream: %w", err)
	}
	if err := r.inbound.Detach(); err != nil {
		return fmt.Errorf("xrpareconcile: detaching inbound stream: %w", err)
	}
	return nil
}
