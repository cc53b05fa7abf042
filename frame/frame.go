// Package frame implements the byte buffer used to build and receive AMS
// frames.
//
// A Frame keeps its valid bytes at the back of its backing array so headers
// can be prepended in front of an already serialised payload without moving
// it. The same array is used as raw receive space: RawData exposes the whole
// capacity and Limit marks how much of it holds valid bytes.
package frame

// Frame is not safe for concurrent use.
type Frame struct {
	buf  []byte
	head int
	tail int
}

// New returns an empty Frame with room for size bytes.
func New(size int) *Frame {
	return &Frame{
		buf:  make([]byte, size),
		head: size,
		tail: size,
	}
}

// Bytes returns the valid bytes of the frame. The slice aliases the frame
// and is only valid until the next mutation.
func (f *Frame) Bytes() []byte {
	return f.buf[f.head:f.tail]
}

func (f *Frame) Len() int {
	return f.tail - f.head
}

// Capacity is the number of bytes the frame can hold without growing.
func (f *Frame) Capacity() int {
	return len(f.buf)
}

// RawData returns the whole backing array, for reading a payload of up to
// Capacity bytes directly into the frame. Follow with Limit.
func (f *Frame) RawData() []byte {
	return f.buf
}

// Prepend copies b in front of the current contents, growing the backing
// array when there is not enough headroom.
func (f *Frame) Prepend(b []byte) *Frame {
	if len(b) > f.head {
		f.grow(len(b) - f.head)
	}

	f.head -= len(b)
	copy(f.buf[f.head:], b)

	return f
}

// Limit marks the first n bytes of RawData as the frame contents.
func (f *Frame) Limit(n int) *Frame {
	if n > len(f.buf) {
		n = len(f.buf)
	}

	f.head = 0
	f.tail = n

	return f
}

// Clear drops the contents, keeping the allocation.
func (f *Frame) Clear() *Frame {
	f.head = len(f.buf)
	f.tail = len(f.buf)

	return f
}

// Reset drops the contents and makes sure the frame can hold at least size
// bytes.
func (f *Frame) Reset(size int) *Frame {
	if size > len(f.buf) {
		f.buf = make([]byte, size)
	}

	return f.Clear()
}

func (f *Frame) grow(extra int) {
	n := len(f.buf) * 2
	if n < len(f.buf)+extra {
		n = len(f.buf) + extra
	}

	buf := make([]byte, n)
	size := f.Len()
	copy(buf[n-size:], f.Bytes())

	f.buf = buf
	f.head = n - size
	f.tail = n
}
