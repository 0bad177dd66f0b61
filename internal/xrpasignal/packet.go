// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package xrpasignal implements the signal channel from spec.md §4.6: a
// Message-frame-carried stream of interleaved sample data (audio, sensor
// readings, or any other periodic numeric feed), plus the three producer
// disciplines a generated signal field can be wired to.
package xrpasignal

import (
	"fmt"

	"github.com/nishisan-dev/xrpa-go/internal/xrpabuf"
	"github.com/nishisan-dev/xrpa-go/internal/xrpaerr"
)

// SampleType discriminates the wire width of a Packet's interleaved
// samples, per spec.md §4.6.
type SampleType uint32

const (
	SampleTypeFloat32 SampleType = iota
	SampleTypeInt16
	SampleTypeInt8
)

// ByteWidth returns the per-sample byte width for t.
func (t SampleType) ByteWidth() int {
	switch t {
	case SampleTypeFloat32:
		return 4
	case SampleTypeInt16:
		return 2
	case SampleTypeInt8:
		return 1
	default:
		return 0
	}
}

func (t SampleType) String() string {
	switch t {
	case SampleTypeFloat32:
		return "Float32"
	case SampleTypeInt16:
		return "Int16"
	case SampleTypeInt8:
		return "Int8"
	default:
		return fmt.Sprintf("SampleType(%d)", uint32(t))
	}
}

// headerSize is the fixed portion of a Packet's wire encoding: sampleType(4)
// + numChannels(4) + framesPerSecond(4) + frameCount(4).
const headerSize = 16

// Packet is one signal channel payload: a block of interleaved samples
// across NumChannels channels, FrameCount frames long, at FramesPerSecond.
// Samples holds FrameCount*NumChannels*SampleType.ByteWidth() raw bytes in
// channel-interleaved frame order, matching spec.md §4.6's wire layout.
type Packet struct {
	SampleType      SampleType
	NumChannels     uint32
	FramesPerSecond uint32
	FrameCount      uint32
	Samples         []byte
}

// SampleBytes returns the exact byte length Samples must hold for the
// packet's declared shape.
func (p Packet) SampleBytes() int {
	return int(p.FrameCount) * int(p.NumChannels) * p.SampleType.ByteWidth()
}

// WireSize returns the unpadded byte size of p's encoding — the value to
// pass as SendMessage's byteCount.
func (p Packet) WireSize() int {
	return headerSize + p.SampleBytes()
}

// WritePacket encodes p at a's current cursor.
func WritePacket(a *xrpabuf.MemoryAccessor, p Packet) error {
	if len(p.Samples) != p.SampleBytes() {
		return fmt.Errorf("xrpasignal: packet declares %d sample bytes, has %d", p.SampleBytes(), len(p.Samples))
	}
	if err := a.WriteUint32(uint32(p.SampleType)); err != nil {
		return err
	}
	if err := a.WriteUint32(p.NumChannels); err != nil {
		return err
	}
	if err := a.WriteUint32(p.FramesPerSecond); err != nil {
		return err
	}
	if err := a.WriteUint32(p.FrameCount); err != nil {
		return err
	}
	return a.WriteBytes(p.Samples)
}

// ReadPacket decodes a Packet, reading exactly as many sample bytes as the
// header declares. A declared sample length that doesn't fit the remaining
// window is reported as xrpaerr.ErrSchemaDecode.
func ReadPacket(a *xrpabuf.MemoryAccessor) (Packet, error) {
	sampleType, err := a.ReadUint32()
	if err != nil {
		return Packet{}, err
	}
	numChannels, err := a.ReadUint32()
	if err != nil {
		return Packet{}, err
	}
	fps, err := a.ReadUint32()
	if err != nil {
		return Packet{}, err
	}
	frameCount, err := a.ReadUint32()
	if err != nil {
		return Packet{}, err
	}
	p := Packet{
		SampleType:      SampleType(sampleType),
		NumChannels:     numChannels,
		FramesPerSecond: fps,
		FrameCount:      frameCount,
	}
	n := p.SampleBytes()
	if n > a.Remaining() {
		return Packet{}, fmt.Errorf("xrpasignal: packet declares %d sample bytes, %d remaining: %w", n, a.Remaining(), xrpaerr.ErrSchemaDecode)
	}
	samples, err := a.ReadBytes(n)
	if err != nil {
		return Packet{}, err
	}
	p.Samples = samples
	return p, nil
}
