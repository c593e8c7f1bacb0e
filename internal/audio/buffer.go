package audio

// RingBuffer keeps the most recent size bytes written to it; older bytes are
// overwritten. It holds the pre-roll audio in front of a speech onset and is
// only touched under the owning call's lock.
type RingBuffer struct {
	buffer []byte
	size   int
	start  int
	length int
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	if size < 0 {
		size = 0
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, overwriting the oldest bytes once the buffer is full.
// Only the last size bytes of data are retained.
func (rb *RingBuffer) Write(data []byte) {
	if rb.size == 0 {
		return
	}
	if len(data) >= rb.size {
		copy(rb.buffer, data[len(data)-rb.size:])
		rb.start = 0
		rb.length = rb.size
		return
	}

	for _, b := range data {
		end := (rb.start + rb.length) % rb.size
		rb.buffer[end] = b
		if rb.length < rb.size {
			rb.length++
		} else {
			rb.start = (rb.start + 1) % rb.size
		}
	}
}

// Drain returns the buffered bytes oldest first and empties the buffer.
func (rb *RingBuffer) Drain() []byte {
	out := make([]byte, rb.length)
	for i := 0; i < rb.length; i++ {
		out[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	rb.Clear()
	return out
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	return rb.length
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.start = 0
	rb.length = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	return rb.length == 0
}

// IsFull returns true if the buffer is full
func (rb *RingBuffer) IsFull() bool {
	return rb.length == rb.size
}
