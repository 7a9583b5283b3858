package buffer

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrPoolExhausted is returned by AcquireNonBlocking when no pooled buffer
// is immediately available.
var ErrPoolExhausted = errors.New("buffer: pool exhausted")

// Pool is a fixed-size collection of preallocated TupleBuffers of size
// BufferSize, backed by a buffered channel acting as the free-list — the
// same channel-as-queue idiom the teacher uses for its pipeline stage
// message channel.
type Pool struct {
	logger     zerolog.Logger
	bufferSize int
	free       chan *TupleBuffer
}

// NewPool preallocates numBuffers buffers of bufferSize bytes each.
func NewPool(numBuffers, bufferSize int, logger zerolog.Logger) *Pool {
	p := &Pool{
		logger:     logger.With().Str("component", "buffer-pool").Logger(),
		bufferSize: bufferSize,
		free:       make(chan *TupleBuffer, numBuffers),
	}
	for i := 0; i < numBuffers; i++ {
		buf := &TupleBuffer{data: make([]byte, bufferSize), pool: p}
		p.free <- buf
	}
	p.logger.Debug().Int("count", numBuffers).Int("size", bufferSize).Msg("buffer pool initialized")
	return p
}

// BufferSize returns the fixed size of pooled buffers.
func (p *Pool) BufferSize() int { return p.bufferSize }

// Available returns the number of buffers currently free in the pool.
func (p *Pool) Available() int { return len(p.free) }

// Acquire blocks until a buffer is available, or ctx is cancelled. If size
// exceeds the pool's fixed buffer size, an unpooled buffer is allocated
// instead and never blocks.
func (p *Pool) Acquire(ctx context.Context, size int) (*TupleBuffer, error) {
	if size > p.bufferSize {
		return p.acquireUnpooled(size), nil
	}
	select {
	case buf := <-p.free:
		buf.refCount.Store(1)
		return buf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AcquireNonBlocking returns ErrPoolExhausted if no pooled buffer is
// immediately free. Oversized requests still succeed via the unpooled path.
func (p *Pool) AcquireNonBlocking(size int) (*TupleBuffer, error) {
	if size > p.bufferSize {
		return p.acquireUnpooled(size), nil
	}
	select {
	case buf := <-p.free:
		buf.refCount.Store(1)
		return buf, nil
	default:
		return nil, ErrPoolExhausted
	}
}

func (p *Pool) acquireUnpooled(size int) *TupleBuffer {
	buf := &TupleBuffer{data: make([]byte, size), unpooled: true}
	buf.refCount.Store(1)
	return buf
}
