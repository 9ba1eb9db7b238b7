package udpconn

import "sync"

// BufferPool is the abstract rent/return interface for byte buffers used by
// Send, SendAsync and the negotiation cache. It is the one allocator the core
// depends on; a caller may supply their own (e.g. to pin buffers for a DMA-capable
// transport) via WithPool.
type BufferPool interface {
	// Rent returns a buffer with at least minLen bytes of capacity. pinned
	// hints that the returned memory should not be moved or reused
	// concurrently with in-flight I/O; the default pool ignores the hint.
	Rent(minLen int, pinned bool) (OwnedBuffer, error)
}

// OwnedBuffer is a scoped handle on rented memory. Release returns the
// buffer to its pool; it is safe to call Release more than once.
type OwnedBuffer struct {
	b    []byte
	pool *DefaultPool
	once sync.Once
}

// Bytes returns the rented slice. Its length is the minLen passed to Rent;
// its capacity may be larger. It is zero-valued only when freshly allocated;
// a reused slice keeps the bytes of its earlier rental.
func (o *OwnedBuffer) Bytes() []byte { return o.b }

// Release returns the buffer to its pool. A nil-pool buffer (e.g. one built
// by NewStaticBuffer for tests) is a no-op.
func (o *OwnedBuffer) Release() {
	if o.pool == nil {
		return
	}
	o.once.Do(func() {
		//nolint:staticcheck // reset length, keep capacity for reuse
		o.pool.pool.Put(o.b[:0:cap(o.b)])
	})
}

// NewStaticBuffer wraps an existing slice as an OwnedBuffer whose Release is
// a no-op. Used by tests and by callers adapting a buffer they already own.
func NewStaticBuffer(b []byte) OwnedBuffer {
	return OwnedBuffer{b: b}
}

// DefaultPool is the default BufferPool, backed by a sync.Pool of byte
// slices. New slices have the pool's initial capacity; a rental larger than
// the slice drawn allocates one of the requested size, which joins the pool
// on Release, so pooled slices can differ in size — mirroring the
// teacher's package-level buffersPool sync.Pool of *Buffers structs, which
// are fetched in newConn and returned in Close.
type DefaultPool struct {
	pool sync.Pool
}

// NewDefaultPool creates a pool whose slices start at initialCap capacity
// (grown on demand by Rent).
func NewDefaultPool(initialCap int) *DefaultPool {
	if initialCap <= 0 {
		initialCap = DefaultMTU
	}
	p := &DefaultPool{}
	p.pool.New = func() any {
		return make([]byte, 0, initialCap)
	}
	return p
}

// Rent implements BufferPool. It never declines to grow, so it never
// returns ErrAlloc; a pool that models an exhaustible resource (for tests)
// should implement BufferPool directly instead of embedding DefaultPool.
func (p *DefaultPool) Rent(minLen int, _ bool) (OwnedBuffer, error) {
	raw := p.pool.Get().([]byte)
	if cap(raw) < minLen {
		raw = make([]byte, 0, minLen)
	}
	return OwnedBuffer{b: raw[:minLen], pool: p}, nil
}
