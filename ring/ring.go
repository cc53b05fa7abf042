// Package ring implements a fixed capacity circular byte buffer for exactly
// one producer and one consumer goroutine.
//
// The producer fills WriteSlice and publishes the bytes with Commit; the
// consumer reads ReadSlice and releases the bytes with Consume. Cursors are
// free running counters, so every byte of capacity is usable and the
// difference between them is always the number of buffered bytes.
package ring

import (
	"sync/atomic"
)

type Ring struct {
	buf []byte

	// read is only written by the consumer, write only by the producer.
	read  uint64
	write uint64
}

func New(size int) *Ring {
	return &Ring{buf: make([]byte, size)}
}

func (r *Ring) Cap() int {
	return len(r.buf)
}

// BytesAvailable is the number of bytes ready to be read.
func (r *Ring) BytesAvailable() int {
	return int(atomic.LoadUint64(&r.write) - atomic.LoadUint64(&r.read))
}

// BytesFree is the number of bytes that can be written before the buffer is
// full.
func (r *Ring) BytesFree() int {
	return len(r.buf) - r.BytesAvailable()
}

// WriteChunk is the length of the next contiguous writable region.
func (r *Ring) WriteChunk() int {
	if len(r.buf) == 0 {
		return 0
	}

	pos := int(atomic.LoadUint64(&r.write) % uint64(len(r.buf)))
	chunk := len(r.buf) - pos

	if free := r.BytesFree(); free < chunk {
		return free
	}

	return chunk
}

// WriteSlice returns the next contiguous writable region.
func (r *Ring) WriteSlice() []byte {
	chunk := r.WriteChunk()
	if chunk == 0 {
		return nil
	}

	pos := int(atomic.LoadUint64(&r.write) % uint64(len(r.buf)))
	return r.buf[pos : pos+chunk]
}

// Commit publishes n bytes previously written into WriteSlice.
func (r *Ring) Commit(n int) {
	if n > r.WriteChunk() {
		panic("ring: commit beyond writable chunk")
	}

	atomic.AddUint64(&r.write, uint64(n))
}

// ReadChunk is the length of the next contiguous readable region.
func (r *Ring) ReadChunk() int {
	if len(r.buf) == 0 {
		return 0
	}

	pos := int(atomic.LoadUint64(&r.read) % uint64(len(r.buf)))
	chunk := len(r.buf) - pos

	if avail := r.BytesAvailable(); avail < chunk {
		return avail
	}

	return chunk
}

// ReadSlice returns the next contiguous readable region.
func (r *Ring) ReadSlice() []byte {
	chunk := r.ReadChunk()
	if chunk == 0 {
		return nil
	}

	pos := int(atomic.LoadUint64(&r.read) % uint64(len(r.buf)))
	return r.buf[pos : pos+chunk]
}

// Consume releases n bytes previously read from ReadSlice.
func (r *Ring) Consume(n int) {
	if n > r.BytesAvailable() {
		panic("ring: consume beyond available bytes")
	}

	atomic.AddUint64(&r.read, uint64(n))
}

// Write copies p into the buffer, wrapping as needed. It writes all of p or
// nothing and reports whether it did.
func (r *Ring) Write(p []byte) bool {
	if len(p) > r.BytesFree() {
		return false
	}

	for len(p) > 0 {
		n := copy(r.WriteSlice(), p)
		r.Commit(n)
		p = p[n:]
	}

	return true
}

// Read copies up to len(p) buffered bytes into p and returns how many were
// copied.
func (r *Ring) Read(p []byte) int {
	total := 0

	for len(p) > 0 {
		chunk := r.ReadSlice()
		if len(chunk) == 0 {
			break
		}

		n := copy(p, chunk)
		r.Consume(n)
		p = p[n:]
		total += n
	}

	return total
}

// Peek copies up to len(p) buffered bytes into p without consuming them.
func (r *Ring) Peek(p []byte) int {
	avail := r.BytesAvailable()
	if len(p) > avail {
		p = p[:avail]
	}

	if len(p) == 0 {
		return 0
	}

	pos := int(atomic.LoadUint64(&r.read) % uint64(len(r.buf)))
	n := copy(p, r.buf[pos:])
	n += copy(p[n:], r.buf)

	return n
}
