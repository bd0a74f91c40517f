package p2p

import "sync"

// BufferPool provides a pool of reusable fixed-size buffers
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a new buffer pool with the specified buffer size
func NewBufferPool(bufferSize int) *BufferPool {
	bp := &BufferPool{size: bufferSize}
	bp.pool.New = func() interface{} {
		buf := make([]byte, bufferSize)
		return &buf
	}
	return bp
}

// Size reports the length of buffers handed out by Get
func (bp *BufferPool) Size() int {
	return bp.size
}

// Get retrieves a full-length buffer from the pool
func (bp *BufferPool) Get() []byte {
	return *bp.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool for reuse. Buffers of a foreign size are dropped.
func (bp *BufferPool) Put(buffer []byte) {
	if cap(buffer) != bp.size {
		return
	}
	buffer = buffer[:bp.size]
	bp.pool.Put(&buffer)
}

// Global buffer pools for different use cases
var (
	// ChunkBufferPool is used for payload chunks
	ChunkBufferPool = NewBufferPool(ChunkSize)
	// DiscoveryBufferPool is used for announcement datagrams
	DiscoveryBufferPool = NewBufferPool(DatagramBufferSize)
	// HeaderBufferPool is used for the bounded transfer header read
	HeaderBufferPool = NewBufferPool(HeaderBufferSize)
)

// getChunkBuffer returns a pooled buffer when size matches the pool, otherwise a fresh one.
func getChunkBuffer(size int) ([]byte, func()) {
	if size == ChunkBufferPool.Size() {
		buf := ChunkBufferPool.Get()
		return buf, func() { ChunkBufferPool.Put(buf) }
	}
	return make([]byte, size), func() {}
}
