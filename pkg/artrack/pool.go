package artrack

import (
	"sync"

	"github.com/google/uuid"
)

// poolCap is the default number of buffers retained per (kind, size)
// bucket before acquisition falls back to a non-pooled allocation.
const poolCap = 32

// byteBucket is a free-list of same-sized byte slices guarded by its own
// mutex, so that acquiring a frame buffer never contends with acquiring
// a descriptor buffer. The critical section here is strictly book-
// keeping: it is held only long enough to pop or push a slice, never
// across image work.
type byteBucket struct {
	mu     sync.Mutex
	size   int
	free   [][]byte
	cap    int
	inUse  int
	allocs int
}

func newByteBucket(size, cap int) *byteBucket {
	return &byteBucket{size: size, cap: cap}
}

// acquire returns a buffer of the bucket's size, zero-initialized only if
// it is freshly allocated. Reused buffers retain whatever the previous
// tenant left in them.
func (b *byteBucket) acquire() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inUse++
	if n := len(b.free); n > 0 {
		buf := b.free[n-1]
		b.free = b.free[:n-1]
		return buf
	}
	b.allocs++
	return make([]byte, b.size)
}

func (b *byteBucket) release(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inUse--
	if len(b.free) >= b.cap {
		return // beyond the cap: let the GC reclaim it
	}
	b.free = append(b.free, buf)
}

func (b *byteBucket) stats() (inUse, pooled, allocs int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inUse, len(b.free), b.allocs
}

// float32Bucket is the point-buffer analogue of byteBucket.
type float32Bucket struct {
	mu     sync.Mutex
	size   int
	free   [][]float32
	cap    int
	inUse  int
	allocs int
}

func newFloat32Bucket(size, cap int) *float32Bucket {
	return &float32Bucket{size: size, cap: cap}
}

func (b *float32Bucket) acquire() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inUse++
	if n := len(b.free); n > 0 {
		buf := b.free[n-1]
		b.free = b.free[:n-1]
		return buf
	}
	b.allocs++
	return make([]float32, b.size)
}

func (b *float32Bucket) release(buf []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inUse--
	if len(b.free) >= b.cap {
		return
	}
	b.free = append(b.free, buf)
}

func (b *float32Bucket) stats() (inUse, pooled, allocs int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inUse, len(b.free), b.allocs
}

// MemoryPool hands out reusable byte and float32 buffers keyed by shape
// category (grayscale frame, descriptor matrix, point buffer) and exact
// size within that category. Acquire/Release are safe to call from
// multiple goroutines; pools grow on demand up to a per-bucket cap and
// fall back to unpooled allocation beyond it.
type MemoryPool struct {
	id string // debug correlation id (not included in MemoryInfo)

	mu           sync.Mutex // guards the bucket maps themselves, not their contents
	frameBuckets map[int]*byteBucket
	descBuckets  map[int]*byteBucket
	pointBuckets map[int]*float32Bucket

	bucketCap int
}

// NewMemoryPool creates an empty memory pool. cap bounds how many
// buffers are retained per (kind, size) bucket; pass 0 to use the
// default.
func NewMemoryPool(cap int) *MemoryPool {
	if cap <= 0 {
		cap = poolCap
	}
	return &MemoryPool{
		id:           uuid.NewString(),
		frameBuckets: make(map[int]*byteBucket),
		descBuckets:  make(map[int]*byteBucket),
		pointBuckets: make(map[int]*float32Bucket),
		bucketCap:    cap,
	}
}

func (p *MemoryPool) frameBucket(size int) *byteBucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.frameBuckets[size]
	if !ok {
		b = newByteBucket(size, p.bucketCap)
		p.frameBuckets[size] = b
	}
	return b
}

func (p *MemoryPool) descBucket(size int) *byteBucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.descBuckets[size]
	if !ok {
		b = newByteBucket(size, p.bucketCap)
		p.descBuckets[size] = b
	}
	return b
}

func (p *MemoryPool) pointBucket(size int) *float32Bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.pointBuckets[size]
	if !ok {
		b = newFloat32Bucket(size, p.bucketCap)
		p.pointBuckets[size] = b
	}
	return b
}

// ByteHandle is a scoped acquisition of a byte buffer. Release is
// idempotent: calling it more than once (including via a deferred call
// alongside an earlier explicit call) is safe.
type ByteHandle struct {
	bucket   *byteBucket
	buf      []byte
	released bool
}

// Bytes returns the underlying buffer. It is only valid until Release.
func (h *ByteHandle) Bytes() []byte { return h.buf }

// Release returns the buffer to its pool.
func (h *ByteHandle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	h.bucket.release(h.buf)
}

// Float32Handle is the point-buffer analogue of ByteHandle.
type Float32Handle struct {
	bucket   *float32Bucket
	buf      []float32
	released bool
}

// Floats returns the underlying buffer. It is only valid until Release.
func (h *Float32Handle) Floats() []float32 { return h.buf }

// Release returns the buffer to its pool.
func (h *Float32Handle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	h.bucket.release(h.buf)
}

// AcquireFrameBuffer returns a grayscale frame-sized byte buffer of
// exactly n bytes.
func (p *MemoryPool) AcquireFrameBuffer(n int) *ByteHandle {
	b := p.frameBucket(n)
	return &ByteHandle{bucket: b, buf: b.acquire()}
}

// AcquireDescriptorBuffer returns a byte buffer sized for rows
// descriptors of DescriptorSize bytes each.
func (p *MemoryPool) AcquireDescriptorBuffer(rows int) *ByteHandle {
	b := p.descBucket(rows * DescriptorSize)
	return &ByteHandle{bucket: b, buf: b.acquire()}
}

// AcquirePointBuffer returns a float32 buffer sized for n points
// (2 floats per point).
func (p *MemoryPool) AcquirePointBuffer(n int) *Float32Handle {
	b := p.pointBucket(n * 2)
	return &Float32Handle{bucket: b, buf: b.acquire()}
}

// MemoryInfo summarizes the pool's current allocation footprint.
type MemoryInfo struct {
	HeapSize    int64 // total bytes currently retained across all buckets (pooled + in-use)
	InUse       int   // buffers currently acquired and not yet released, across all buckets
	PoolBuckets int   // distinct (kind, size) buckets created so far
}

// Info reports a snapshot of the pool's bookkeeping.
func (p *MemoryPool) Info() MemoryInfo {
	p.mu.Lock()
	frameBuckets := make([]*byteBucket, 0, len(p.frameBuckets))
	for _, b := range p.frameBuckets {
		frameBuckets = append(frameBuckets, b)
	}
	descBuckets := make([]*byteBucket, 0, len(p.descBuckets))
	for _, b := range p.descBuckets {
		descBuckets = append(descBuckets, b)
	}
	pointBuckets := make([]*float32Bucket, 0, len(p.pointBuckets))
	for _, b := range p.pointBuckets {
		pointBuckets = append(pointBuckets, b)
	}
	p.mu.Unlock()

	var info MemoryInfo
	info.PoolBuckets = len(frameBuckets) + len(descBuckets) + len(pointBuckets)

	for _, b := range frameBuckets {
		inUse, pooled, _ := b.stats()
		info.InUse += inUse
		info.HeapSize += int64(b.size) * int64(inUse+pooled)
	}
	for _, b := range descBuckets {
		inUse, pooled, _ := b.stats()
		info.InUse += inUse
		info.HeapSize += int64(b.size) * int64(inUse+pooled)
	}
	for _, b := range pointBuckets {
		inUse, pooled, _ := b.stats()
		info.InUse += inUse
		info.HeapSize += int64(b.size) * 4 * int64(inUse+pooled)
	}
	return info
}
