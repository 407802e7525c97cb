package buffer

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// BufferPool is a thread-safe pool of byte buffers backed by
// valyala/bytebufferpool, used for scratch buffers during segment reads so
// per-read allocations don't pile up on long playback sessions.
type BufferPool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewBufferPool creates a pool whose buffers grow to at least bufferSize.
func NewBufferPool(bufferSize int64) *BufferPool {
	return &BufferPool{
		bufferSize: int(bufferSize),
		pool:       &bytebufferpool.Pool{},
	}
}

// Get retrieves a reset buffer from the pool, grown to the configured size
// when necessary.
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	buf.Reset()
	if cap(buf.B) < bp.bufferSize {
		buf.B = make([]byte, 0, bp.bufferSize)
	}
	return buf
}

// Put returns a buffer to the pool.
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}

// RingBuffer is the session's rendering surface: a circular byte buffer the
// active playback engine writes decoded stream data into. Exactly one engine
// may write at a time; that is enforced by the playback controller's
// teardown-before-construct ordering, not by this type. Readers (the glow
// sampler, the status surface) only peek.
type RingBuffer struct {
	data      []byte
	size      int64
	writePos  atomic.Int64
	destroyed atomic.Bool
	mu        sync.RWMutex
}

// NewRingBuffer creates and returns a new RingBuffer with the specified size.
func NewRingBuffer(size int64) *RingBuffer {
	rb := &RingBuffer{
		data: make([]byte, size),
		size: size,
	}
	rb.destroyed.Store(false)
	return rb
}

// Write appends data to the ring buffer, overwriting the oldest bytes when
// full. Ignored after Destroy.
func (rb *RingBuffer) Write(data []byte) {
	if rb.destroyed.Load() {
		return
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.destroyed.Load() || rb.data == nil {
		return
	}

	dataLen := int64(len(data))
	writePos := rb.writePos.Load()

	for i := int64(0); i < dataLen; i++ {
		rb.data[(writePos+i)%rb.size] = data[i]
	}

	rb.writePos.Add(dataLen)
}

// Reset clears the buffer content. Called on every engine teardown so a new
// engine never renders over the previous engine's tail.
func (rb *RingBuffer) Reset() {
	if rb.destroyed.Load() {
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.destroyed.Load() {
		return
	}

	rb.writePos.Store(0)
}

// WritePosition returns the total number of bytes written since the last
// Reset. Used for activity monitoring.
func (rb *RingBuffer) WritePosition() int64 {
	if rb.destroyed.Load() {
		return 0
	}
	return rb.writePos.Load()
}

// PeekRecentData returns a copy of the most recent data up to maxBytes, or
// nil if the buffer is destroyed or empty.
func (rb *RingBuffer) PeekRecentData(maxBytes int64) []byte {
	if rb.destroyed.Load() || rb.data == nil {
		return nil
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.destroyed.Load() {
		return nil
	}

	writePos := rb.writePos.Load()
	if writePos == 0 {
		return nil
	}

	dataSize := maxBytes
	if dataSize > writePos {
		dataSize = writePos
	}
	if dataSize > rb.size {
		dataSize = rb.size
	}

	result := make([]byte, dataSize)
	startPos := (writePos - dataSize) % rb.size
	for i := int64(0); i < dataSize; i++ {
		result[i] = rb.data[(startPos+i)%rb.size]
	}

	return result
}

// Destroy zeroes and releases the storage, making the buffer unusable.
// Irreversible and thread-safe.
func (rb *RingBuffer) Destroy() {
	if !rb.destroyed.CompareAndSwap(false, true) {
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.data != nil {
		for i := range rb.data {
			rb.data[i] = 0
		}
		rb.data = nil
	}

	rb.writePos.Store(0)

	runtime.GC()
}

// IsDestroyed returns true once Destroy has been called.
func (rb *RingBuffer) IsDestroyed() bool {
	return rb.destroyed.Load()
}
