// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xrpasignal

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/nishisan-dev/xrpa-go/internal/backingstore/heapstore"
	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
	"github.com/nishisan-dev/xrpa-go/internal/xrpaclock/xrpaclocktest"
	"github.com/nishisan-dev/xrpa-go/internal/xrpareconcile"
	"github.com/nishisan-dev/xrpa-go/internal/xrpatransport"
)

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// signalObject is the minimal xrpareconcile.Object needed to exercise a
// Channel — signal traffic carries no mirrored fields of its own.
type signalObject struct {
	id xrpabuf.ObjectID
}

func (o *signalObject) ObjectID() xrpabuf.ObjectID { return o.id }
func (o *signalObject) WriteFields(a *xrpabuf.MemoryAccessor, mask xrpareconcile.FieldMask) error {
	return nil
}
func (o *signalObject) ReadFields(a *xrpabuf.MemoryAccessor, mask xrpareconcile.FieldMask) error {
	return nil
}
func (o *signalObject) DynamicFieldSize(mask xrpareconcile.FieldMask) int { return 0 }

func newSignalObjectID(n byte) xrpabuf.ObjectID {
	var id xrpabuf.ObjectID
	id[15] = n
	return id
}

func TestCallbackProducerDelegatesToFill(t *testing.T) {
	want := Packet{SampleType: SampleTypeInt8, NumChannels: 1, FrameCount: 1, Samples: []byte{9}}
	p := &CallbackProducer{Fill: func(now int64) (Packet, bool, error) {
		if now != 42 {
			t.Fatalf("expected now=42, got %d", now)
		}
		return want, true, nil
	}}
	got, ok, err := p.Produce(42)
	if err != nil || !ok {
		t.Fatalf("Produce: ok=%v err=%v", ok, err)
	}
	if got.FrameCount != want.FrameCount || got.Samples[0] != want.Samples[0] {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestRingBufferProducerDrainsAvailableFrames(t *testing.T) {
	ring := NewRingBuffer(64)
	ring.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8}) // 2 frames of Int16 stereo (2 bytes * 2 channels)
	p := &RingBufferProducer{Ring: ring, SampleType: SampleTypeInt16, NumChannels: 2, FramesPerSecond: 48000, MaxFrames: 10}

	pkt, ok, err := p.Produce(0)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if !ok {
		t.Fatal("expected a packet to be produced")
	}
	if pkt.FrameCount != 2 {
		t.Fatalf("expected FrameCount=2 (8 bytes / 4 bytes-per-frame), got %d", pkt.FrameCount)
	}
}

func TestRingBufferProducerNoDataReturnsNotOK(t *testing.T) {
	ring := NewRingBuffer(64)
	p := &RingBufferProducer{Ring: ring, SampleType: SampleTypeInt16, NumChannels: 1, MaxFrames: 10}
	_, ok, err := p.Produce(0)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if ok {
		t.Fatal("expected no packet when ring is empty")
	}
}

func TestRingBufferProducerTrimsPartialTrailingFrame(t *testing.T) {
	ring := NewRingBuffer(64)
	ring.Write([]byte{1, 2, 3, 4, 5}) // 2 full Int16-mono frames + 1 trailing byte
	p := &RingBufferProducer{Ring: ring, SampleType: SampleTypeInt16, NumChannels: 1, MaxFrames: 10}

	pkt, ok, err := p.Produce(0)
	if err != nil || !ok {
		t.Fatalf("Produce: ok=%v err=%v", ok, err)
	}
	if pkt.FrameCount != 2 {
		t.Fatalf("expected FrameCount=2 after trimming trailing byte, got %d", pkt.FrameCount)
	}
	if len(pkt.Samples) != 4 {
		t.Fatalf("expected 4 usable sample bytes, got %d", len(pkt.Samples))
	}
}

func TestRingBufferProducerZeroWidthFrameErrors(t *testing.T) {
	p := &RingBufferProducer{Ring: NewRingBuffer(16), SampleType: SampleType(99), NumChannels: 1, MaxFrames: 1}
	_, _, err := p.Produce(0)
	if err == nil {
		t.Fatal("expected error for zero-width frame")
	}
}

type recordingSink struct {
	got []Packet
	err error
}

func (s *recordingSink) Send(p Packet) error {
	s.got = append(s.got, p)
	return s.err
}

func TestForwarderSendsToAllSinksInOrder(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := &Forwarder{Sinks: []Sink{a, b}}
	p := Packet{SampleType: SampleTypeInt8, FrameCount: 1, Samples: []byte{7}}

	if err := f.HandleInbound(p); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("expected both sinks to receive the packet, got a=%d b=%d", len(a.got), len(b.got))
	}
}

func TestForwarderStopsAtFirstSinkError(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingSink{err: boom}
	b := &recordingSink{}
	f := &Forwarder{Sinks: []Sink{a, b}}

	err := f.HandleInbound(Packet{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}
	if len(b.got) != 0 {
		t.Fatal("expected second sink to be skipped after first sink's error")
	}
}

// channelPair builds a writer/reader Reconciler pair over a shared heapstore
// region, mirroring xrpareconcile's own test helper, so Channel.TickOutbound
// and RegisterConsumer can be exercised against real transport plumbing.
func channelPair(t *testing.T) (writer, reader *xrpareconcile.Reconciler) {
	t.Helper()
	store := heapstore.New()
	cfg := xrpatransport.Config{ChangelogByteCount: 4096}

	fwd, err := xrpatransport.Attach(store, "fwd", cfg, xrpatransport.RoleWriter, 0)
	if err != nil {
		t.Fatalf("attach fwd writer: %v", err)
	}
	fwdReader, err := xrpatransport.Attach(store, "fwd", cfg, xrpatransport.RoleReader, 0)
	if err != nil {
		t.Fatalf("attach fwd reader: %v", err)
	}
	back, err := xrpatransport.Attach(store, "back", cfg, xrpatransport.RoleWriter, 0)
	if err != nil {
		t.Fatalf("attach back writer: %v", err)
	}
	backReader, err := xrpatransport.Attach(store, "back", cfg, xrpatransport.RoleReader, 0)
	if err != nil {
		t.Fatalf("attach back reader: %v", err)
	}

	clock := xrpaclocktest.NewFake(1000)
	logger := slog.New(slog.NewTextHandler(noopWriter{}, nil))

	writer = xrpareconcile.NewReconciler(backReader, fwd, clock, logger)
	reader = xrpareconcile.NewReconciler(fwdReader, back, clock, logger)
	return writer, reader
}

func TestChannelTickOutboundAndRegisterConsumer(t *testing.T) {
	writer, reader := channelPair(t)

	writerColl := xrpareconcile.NewOutboundCollection(0)
	writer.RegisterCollection(writerColl)
	readerColl := xrpareconcile.NewInboundCollection(0, func(id xrpabuf.ObjectID) xrpareconcile.Object {
		return &signalObject{id: id}
	})
	reader.RegisterCollection(readerColl)

	obj := &signalObject{id: newSignalObjectID(1)}
	writerColl.AddLocal(obj)
	if err := writer.TickOutbound(); err != nil {
		t.Fatalf("TickOutbound (create): %v", err)
	}
	if err := reader.TickInbound(); err != nil {
		t.Fatalf("TickInbound (create): %v", err)
	}

	var got Packet
	var gotOK bool
	RegisterConsumer(readerColl, 3, func(obj xrpareconcile.Object, timestamp int64, p Packet) error {
		got = p
		gotOK = true
		return nil
	})

	delivered := false
	producer := &CallbackProducer{Fill: func(now int64) (Packet, bool, error) {
		if delivered {
			return Packet{}, false, nil
		}
		delivered = true
		return Packet{SampleType: SampleTypeInt8, NumChannels: 1, FrameCount: 2, Samples: []byte{5, 6}}, true, nil
	}}
	// NewChannel registers itself with writer; driving only
	// writer.TickOutbound() — never ch.TickOutbound() directly — must still
	// advance the signal channel and emit the packet.
	NewChannel(writer, 0, obj.id, 3, producer)

	if err := writer.TickOutbound(); err != nil {
		t.Fatalf("writer.TickOutbound: %v", err)
	}
	if err := reader.TickInbound(); err != nil {
		t.Fatalf("TickInbound (message): %v", err)
	}

	if !gotOK {
		t.Fatal("expected RegisterConsumer handler to fire")
	}
	if got.FrameCount != 2 || got.Samples[0] != 5 || got.Samples[1] != 6 {
		t.Fatalf("unexpected packet delivered: %+v", got)
	}

	// A second tick with nothing produced must not emit another frame.
	if err := writer.TickOutbound(); err != nil {
		t.Fatalf("writer.TickOutbound (empty): %v", err)
	}
}
