// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xrpasignal

import (
	"fmt"

	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
	"github.com/nishisan-dev/xrpa-go/internal/xrpareconcile"
)

// Producer supplies the next signal Packet for an outbound tick, per
// spec.md §4.6's three producer disciplines (Callback, RingBuffer,
// Forwarder). Produce must not block: a tick that has nothing ready
// returns ok == false rather than waiting.
type Producer interface {
	Produce(now int64) (p Packet, ok bool, err error)
}

// CallbackProducer implements the Callback discipline: the application
// computes exactly one packet's worth of samples on demand, each time the
// reconciler's outbound tick asks for one.
type CallbackProducer struct {
	Fill func(now int64) (Packet, bool, error)
}

func (c *CallbackProducer) Produce(now int64) (Packet, bool, error) {
	return c.Fill(now)
}

// RingBufferProducer implements the RingBuffer discipline: one or more
// producer goroutines push interleaved sample bytes continuously into
// Ring; each tick drains whatever has accumulated, capped at MaxFrames
// frames, into a single packet.
type RingBufferProducer struct {
	Ring            *RingBuffer
	SampleType      SampleType
	NumChannels     uint32
	FramesPerSecond uint32
	MaxFrames       uint32
}

func (p *RingBufferProducer) frameBytes() int {
	return int(p.NumChannels) * p.SampleType.ByteWidth()
}

func (p *RingBufferProducer) Produce(now int64) (Packet, bool, error) {
	fb := p.frameBytes()
	if fb <= 0 {
		return Packet{}, false, fmt.Errorf("xrpasignal: zero-width frame (sampleType=%s, numChannels=%d)", p.SampleType, p.NumChannels)
	}
	data, ok := p.Ring.Drain(int(p.MaxFrames) * fb)
	if !ok {
		return Packet{}, false, nil
	}
	frameCount := len(data) / fb
	if usable := frameCount * fb; usable != len(data) {
		// A producer writing partial frames shouldn't happen, but trim
		// rather than ship a packet whose declared shape doesn't match its
		// byte length.
		data = data[:usable]
	}
	return Packet{
		SampleType:      p.SampleType,
		NumChannels:     p.NumChannels,
		FramesPerSecond: p.FramesPerSecond,
		FrameCount:      uint32(frameCount),
		Samples:         data,
	}, true, nil
}

// Sink is anywhere a Forwarder can re-emit a received packet.
type Sink interface {
	Send(p Packet) error
}

// Forwarder implements the Forwarder discipline: an inbound signal handler
// re-emits every packet it receives to N outbound recipients within the
// same tick, with no intermediate buffering.
type Forwarder struct {
	Sinks []Sink
}

// HandleInbound sends p to every sink in order, stopping at the first
// error.
func (f *Forwarder) HandleInbound(p Packet) error {
	for _, s := range f.Sinks {
		if err := s.Send(p); err != nil {
			return err
		}
	}
	return nil
}

// Channel binds a Producer to one object's outbound Message traffic on a
// reconciler, implementing spec.md §4.4's "advance any signal-channel tick
// for objects exposing a streaming producer".
type Channel struct {
	reconciler   *xrpareconcile.Reconciler
	collectionID int32
	objectID     xrpabuf.ObjectID
	messageType  int32
	producer     Producer
}

// NewChannel returns a Channel that sends messageType Message frames
// addressed to objectID in collectionID, sourced from producer, and
// registers it with r so r.TickOutbound advances it automatically, per
// spec.md §4.4's "advances any signal-channel tick" clause. Callers never
// need to tick a Channel themselves.
func NewChannel(r *xrpareconcile.Reconciler, collectionID int32, objectID xrpabuf.ObjectID, messageType int32, producer Producer) *Channel {
	ch := &Channel{
		reconciler:   r,
		collectionID: collectionID,
		objectID:     objectID,
		messageType:  messageType,
		producer:     producer,
	}
	r.RegisterSignalChannel(ch)
	return ch
}

// TickOutbound asks the channel's producer for the next packet and, if one
// is ready, appends it as a Message frame on the reconciler's outbound
// stream. Reconciler.TickOutbound calls this once per outbound tick for
// every channel registered with it.
func (ch *Channel) TickOutbound(now int64) error {
	p, ok, err := ch.producer.Produce(now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return ch.reconciler.SendMessage(ch.collectionID, ch.objectID, ch.messageType, p.WireSize(), func(a *xrpabuf.MemoryAccessor) error {
		return WritePacket(a, p)
	})
}

// RegisterConsumer wires handle as the inbound message handler for
// messageType on collection, decoding each frame's payload into a Packet
// before invoking handle with the frame's timestamp — the consumer side of
// the signal channel.
func RegisterConsumer(collection *xrpareconcile.Collection, messageType int32, handle func(obj xrpareconcile.Object, timestamp int64, p Packet) error) {
	collection.RegisterMessageHandler(messageType, func(obj xrpareconcile.Object, timestamp int64, a *xrpabuf.MemoryAccessor) error {
		p, err := ReadPacket(a)
		if err != nil {
			return err
		}
		return handle(obj, timestamp, p)
	})
}
