// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package xrpasignal

import (
	"errors"
	"sync"
)

// ErrRingClosed is returned by Write once the ring has been closed.
var ErrRingClosed = errors.New("xrpasignal: ring buffer closed")

// RingBuffer is a thread-safe circular byte buffer feeding the RingBuffer
// producer discipline: one or more producer goroutines Write interleaved
// sample bytes as they're generated; the reconciler's outbound tick calls
// Drain to pull whatever has accumulated into the next Packet.
//
// Grounded on the teacher's internal/agent/ringbuffer.go (a sync.Cond-gated
// circular buffer addressed by absolute, never-resetting head/tail
// offsets), adapted from "blocking ReadAt at an absolute stream offset" —
// appropriate when a consumer goroutine can afford to wait on a network
// peer — to "non-blocking Drain of whatever is currently buffered", since a
// reconciler's outbound tick must never stall waiting on a producer that
// hasn't produced anything yet.
type RingBuffer struct {
	buf  []byte
	size int64

	head int64 // next absolute write position
	tail int64 // oldest absolute position still buffered

	closed bool
	mu     sync.Mutex
	notFull sync.Cond
}

// NewRingBuffer allocates a ring buffer of the given byte capacity.
func NewRingBuffer(size int64) *RingBuffer {
	rb := &RingBuffer{buf: make([]byte, size), size: size}
	rb.notFull.L = &rb.mu
	return rb
}

// Write blocks while the buffer is full, exactly as the teacher's
// RingBuffer.Write backpressures a producer against a slow consumer.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		rb.mu.Lock()
		for rb.available() == 0 && !rb.closed {
			rb.notFull.Wait()
		}
		if rb.closed {
			rb.mu.Unlock()
			return written, ErrRingClosed
		}

		avail := rb.available()
		chunk := len(p) - written
		if int64(chunk) > avail {
			chunk = int(avail)
		}

		start := rb.head % rb.size
		if start+int64(chunk) <= rb.size {
			copy(rb.buf[start:], p[written:written+chunk])
		} else {
			firstPart := int(rb.size - start)
			copy(rb.buf[start:], p[written:written+firstPart])
			copy(rb.buf[0:], p[written+firstPart:written+chunk])
		}

		rb.head += int64(chunk)
		written += chunk
		rb.mu.Unlock()
	}
	return written, nil
}

// Drain copies out up to maxBytes of the oldest unread data without
// blocking, advancing tail past what it returns. ok is false when nothing
// is currently buffered.
func (rb *RingBuffer) Drain(maxBytes int) (data []byte, ok bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	avail := rb.head - rb.tail
	if avail <= 0 {
		return nil, false
	}
	n := avail
	if int64(maxBytes) < n {
		n = int64(maxBytes)
	}

	out := make([]byte, n)
	start := rb.tail % rb.size
	if start+n <= rb.size {
		copy(out, rb.buf[start:start+n])
	} else {
		firstPart := rb.size - start
		copy(out, rb.buf[start:])
		copy(out[firstPart:], rb.buf[0:n-firstPart])
	}

	rb.tail += n
	rb.notFull.Broadcast()
	return out, true
}

// Close marks the buffer closed; any blocked or future Write returns
// ErrRingClosed.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.notFull.Broadcast()
}

// available returns bytes free for writing. Must be called with rb.mu held.
func (rb *RingBuffer) available() int64 {
	return rb.size - (rb.head - rb.tail)
}
