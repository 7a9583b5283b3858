// Package buffer implements the node-local pool of fixed-size,
// reference-counted tuple buffers (C1 in the design).
package buffer

import (
	"sync/atomic"
	"time"

	"github.com/nebula-stream/nebula/pkg/ids"
)

// TupleBuffer is a contiguous byte region carrying n tuples and routing
// metadata. It is exclusively owned by one task at a time; sharing is
// expressed only through the reference count, never through mutable
// aliasing.
type TupleBuffer struct {
	data []byte

	NumTuples      int
	OriginID       ids.OriginID
	SequenceNumber uint64
	ChunkNumber    uint32
	LastChunk      bool
	Watermark      int64
	CreatedAt      time.Time

	unpooled bool
	refCount atomic.Int32
	pool     *Pool
}

// Bytes returns the full backing slice for this buffer (capacity length,
// not NumTuples-bounded — callers index within it themselves).
func (b *TupleBuffer) Bytes() []byte { return b.data }

// Unpooled reports whether this buffer came from the unpooled fallback
// allocator (oversized control messages) rather than the fixed pool.
func (b *TupleBuffer) Unpooled() bool { return b.unpooled }

// Clone increments the reference count and returns the same buffer,
// mirroring the pool's +1/-1 refcount discipline on clone/release.
func (b *TupleBuffer) Clone() *TupleBuffer {
	b.refCount.Add(1)
	return b
}

// Release decrements the reference count; at zero, metadata is reset and
// the buffer is returned to its pool (or freed, if unpooled). Buffer
// content is intentionally NOT zeroed on release.
func (b *TupleBuffer) Release() {
	if b.refCount.Add(-1) > 0 {
		return
	}
	b.reset()
	if b.unpooled || b.pool == nil {
		return
	}
	select {
	case b.pool.free <- b:
	default:
		// Pool free-list is full (shouldn't happen — every buffer
		// originates from exactly one pool slot), drop silently.
	}
}

func (b *TupleBuffer) reset() {
	b.NumTuples = 0
	b.OriginID = 0
	b.SequenceNumber = 0
	b.ChunkNumber = 0
	b.LastChunk = false
	b.Watermark = 0
	b.CreatedAt = time.Time{}
}
