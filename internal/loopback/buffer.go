// File: internal/loopback/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FIFO of captured chunks waiting for the playback device.

package loopback

import "github.com/eapache/queue"

// PendingBuffer queues raw audio chunks in arrival order. A single front
// slot holds the remainder of a partially written chunk so it is written
// before anything queued behind it.
type PendingBuffer struct {
	q     *queue.Queue
	front []byte
	bytes int
}

// NewPendingBuffer returns an empty buffer.
func NewPendingBuffer() *PendingBuffer {
	return &PendingBuffer{q: queue.New()}
}

// PushBack appends chunk at the tail. Empty chunks are ignored.
func (b *PendingBuffer) PushBack(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.q.Add(chunk)
	b.bytes += len(chunk)
}

// PushFront puts chunk back at the head. An existing front slot is moved
// behind it into the queue order by re-queueing.
func (b *PendingBuffer) PushFront(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	if b.front != nil {
		// rare: requeue twice without a pop in between
		rest := b.drainAll()
		b.front = chunk
		b.bytes += len(chunk)
		for _, c := range rest {
			b.PushBack(c)
		}
		return
	}
	b.front = chunk
	b.bytes += len(chunk)
}

// Pop removes and returns the oldest chunk, or nil when empty.
func (b *PendingBuffer) Pop() []byte {
	if b.front != nil {
		c := b.front
		b.front = nil
		b.bytes -= len(c)
		return c
	}
	if b.q.Length() == 0 {
		return nil
	}
	c := b.q.Remove().([]byte)
	b.bytes -= len(c)
	return c
}

// Len returns the number of queued chunks.
func (b *PendingBuffer) Len() int {
	n := b.q.Length()
	if b.front != nil {
		n++
	}
	return n
}

// Bytes returns the total size of queued chunks.
func (b *PendingBuffer) Bytes() int {
	return b.bytes
}

// Reset discards every queued chunk.
func (b *PendingBuffer) Reset() {
	b.q = queue.New()
	b.front = nil
	b.bytes = 0
}

func (b *PendingBuffer) drainAll() [][]byte {
	out := make([][]byte, 0, b.Len())
	for c := b.Pop(); c != nil; c = b.Pop() {
		out = append(out, c)
	}
	return out
}
