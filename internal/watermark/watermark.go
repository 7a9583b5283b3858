// Package watermark implements the WatermarkProcessor (C5): per-origin
// largest-contiguous-prefix tracking of completed sequence numbers, with
// the global watermark exposed as the minimum across non-retired origins.
// A sequence number counts as complete once its lastChunk update arrives;
// whether its earlier chunks have arrived is not checked.
package watermark

import (
	"sync"

	"github.com/nebula-stream/nebula/pkg/ids"
)

// chunkKey identifies one (sequence number, chunk number) unit of work
// within an origin's stream.
type chunkKey struct {
	sn    uint64
	chunk uint32
}

// pendingChunk is one not-yet-drained (sn, chunk) arrival: its watermark
// value, and whether that call was the sequence number's final chunk.
// Only a last=true entry can complete its sequence number — a non-final
// chunk sitting in pending for a later sn must never be misread as that
// sn's completion signal.
type pendingChunk struct {
	wm   int64
	last bool
}

// originState tracks the watermark progress of a single origin: the
// largest contiguous prefix of completed sequence numbers, plus any
// out-of-order arrivals waiting for that prefix to catch up.
type originState struct {
	watermark int64
	nextSN    uint64
	pending   map[chunkKey]pendingChunk
	retired   bool
}

// Processor tracks, per origin, the largest watermark that every tuple up
// to and including it has already been observed for, and exposes the
// global watermark as the minimum across all non-retired origins.
type Processor struct {
	mu      sync.Mutex
	origins map[ids.OriginID]*originState
}

// New creates an empty Processor.
func New() *Processor {
	return &Processor{origins: make(map[ids.OriginID]*originState)}
}

// Update records that a buffer carrying (sn, chunk) from origin has been
// fully processed with the given watermark value, and reports the new
// global watermark (the minimum across all tracked, non-retired origins).
// lastChunk marks the final chunk of a sequence number; that call alone
// completes the sequence number and advances nextSN.
func (p *Processor) Update(origin ids.OriginID, sn uint64, chunk uint32, lastChunk bool, wm int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.origins[origin]
	if !ok {
		st = &originState{pending: make(map[chunkKey]pendingChunk)}
		p.origins[origin] = st
	}

	if sn < st.nextSN {
		// Already-accounted-for duplicate or stale retransmit; ignore.
		return p.globalLocked()
	}

	st.pending[chunkKey{sn, chunk}] = pendingChunk{wm: wm, last: lastChunk}
	if sn == st.nextSN && lastChunk {
		st.nextSN++
		if v, ok := st.pending[chunkKey{sn, chunk}]; ok && v.wm > st.watermark {
			st.watermark = v.wm
		}
		delete(st.pending, chunkKey{sn, chunk})
		// Drain any subsequent sequence numbers whose lastChunk already
		// arrived. A pending entry only counts if it was itself recorded
		// as that sn's final chunk — a non-final chunk belonging to a
		// later sn must not be mistaken for the next sn's completion.
		for {
			advanced := false
			for k, v := range st.pending {
				if k.sn == st.nextSN && v.last {
					if v.wm > st.watermark {
						st.watermark = v.wm
					}
					delete(st.pending, k)
					st.nextSN++
					advanced = true
					break
				}
			}
			if !advanced {
				break
			}
		}
	}

	return p.globalLocked()
}

// RetireOrigin marks an origin as finished (EOF); it is excluded from the
// global-watermark minimum from this point on.
func (p *Processor) RetireOrigin(origin ids.OriginID) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.origins[origin]
	if !ok {
		st = &originState{pending: make(map[chunkKey]pendingChunk)}
		p.origins[origin] = st
	}
	st.retired = true
	return p.globalLocked()
}

// OriginWatermark returns the current per-origin watermark, or (0, false)
// if the origin is unknown.
func (p *Processor) OriginWatermark(origin ids.OriginID) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.origins[origin]
	if !ok {
		return 0, false
	}
	return st.watermark, true
}

// Global returns the current global watermark: the minimum watermark
// across all non-retired, known origins. Returns 0 if no origin is known.
func (p *Processor) Global() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.globalLocked()
}

func (p *Processor) globalLocked() int64 {
	min := int64(-1)
	found := false
	for _, st := range p.origins {
		if st.retired {
			continue
		}
		if !found || st.watermark < min {
			min = st.watermark
			found = true
		}
	}
	if !found {
		return 0
	}
	return min
}

// NumOrigins returns how many distinct origins have been observed,
// including retired ones.
func (p *Processor) NumOrigins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.origins)
}
