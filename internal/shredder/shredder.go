// Package shredder implements the SequenceShredder (C6): a bounded ring of
// slots that assembles tuples spanning two or more consecutive buffers
// without serializing all input through a single thread.
package shredder

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrSequenceOutOfRange is returned when a sequence number falls further
// ahead of the ring's tail than a reclaimable slot can accommodate.
var ErrSequenceOutOfRange = errors.New("shredder: sequence number out of range")

const (
	bitIndexed = uint64(1) << iota
	bitDelim
	bitClaimLead
	bitClaimTrail
)

// Interval identifies an inclusive range [Lo, Hi] of sequence numbers whose
// concatenated buffers contain exactly one complete spanning tuple.
type Interval struct {
	Lo uint64
	Hi uint64
}

type slot struct {
	mu    sync.Mutex
	state atomic.Uint64 // bitIndexed | bitDelim | bitClaimLead | bitClaimTrail
	tag   uint64        // generation = sn / width, guards ABA on ring reuse
	data  []byte
}

func (s *slot) claim(bit uint64) bool {
	for {
		old := s.state.Load()
		if old&bit != 0 {
			return false
		}
		if s.state.CompareAndSwap(old, old|bit) {
			return true
		}
	}
}

// Shredder assembles spanning tuples across a bounded window of W = width
// consecutive sequence numbers per origin.
type Shredder struct {
	width uint64
	slots []slot
	tail  atomic.Uint64
}

// New creates a Shredder with a ring of the given width (spec.md default
// is 1024).
func New(width int) *Shredder {
	return &Shredder{
		width: uint64(width),
		slots: make([]slot, width),
	}
}

// Tail returns the oldest sequence number still reclaimable in the ring.
func (s *Shredder) Tail() uint64 { return s.tail.Load() }

// ProcessSequenceNumber records one buffer's worth of bytes for sn and
// returns any spanning-tuple intervals this buffer completes. hasDelimiter
// reports whether this buffer itself contains a tuple delimiter (so it can
// close out a run of leading partials, or its own trailing partial closes
// out a run of subsequent partials arriving out of order).
func (s *Shredder) ProcessSequenceNumber(sn uint64, data []byte, hasDelimiter bool) ([]Interval, error) {
	for sn >= s.tail.Load()+s.width {
		if !s.tryReclaimOldest() {
			return nil, ErrSequenceOutOfRange
		}
	}
	if sn < s.tail.Load() {
		// Stale retransmit behind the reclaimed tail; the ring carries no
		// policy to flush or re-request it, so it is silently dropped.
		return nil, nil
	}

	idx := sn % s.width
	sl := &s.slots[idx]
	tag := sn / s.width

	flags := bitIndexed
	if hasDelimiter {
		flags |= bitDelim
	}

	sl.mu.Lock()
	sl.data = data
	sl.tag = tag
	sl.mu.Unlock()
	sl.state.Store(flags)

	var intervals []Interval
	if hasDelimiter {
		if lo, ok := s.scanLeft(sn); ok && sl.claim(bitClaimTrail) {
			intervals = append(intervals, Interval{Lo: lo, Hi: sn})
		}
	} else if hi, ok := s.scanRightImmediate(sn); ok {
		intervals = append(intervals, Interval{Lo: sn, Hi: hi})
	}
	return intervals, nil
}

// scanLeft walks backwards from sn while each preceding slot is indexed
// and carries no delimiter of its own, reporting the earliest such slot.
// It stops (without spanning) at a not-yet-indexed slot or at a slot that
// already closed its own tuple with a delimiter.
func (s *Shredder) scanLeft(sn uint64) (uint64, bool) {
	if sn == 0 {
		return 0, false
	}
	lo := sn
	spanned := false
	for cur := sn - 1; ; cur-- {
		idx := cur % s.width
		sl := &s.slots[idx]
		st := sl.state.Load()
		sl.mu.Lock()
		tag := sl.tag
		sl.mu.Unlock()

		if st&bitIndexed == 0 || tag != cur/s.width {
			break
		}
		if st&bitDelim != 0 {
			break
		}
		lo = cur
		spanned = true
		if cur == 0 {
			break
		}
	}
	return lo, spanned
}

// scanRightImmediate handles the out-of-order case: a delimiter-bearing
// buffer for sn+1 already arrived and is waiting on sn's trailing partial.
// The claim CAS ensures only one caller ever emits this interval.
func (s *Shredder) scanRightImmediate(sn uint64) (uint64, bool) {
	next := sn + 1
	idx := next % s.width
	sl := &s.slots[idx]
	st := sl.state.Load()
	sl.mu.Lock()
	tag := sl.tag
	sl.mu.Unlock()

	if st&bitIndexed == 0 || tag != next/s.width {
		return 0, false
	}
	if st&bitDelim == 0 {
		return 0, false
	}
	if !sl.claim(bitClaimTrail) {
		return 0, false
	}
	return next, true
}

// tryReclaimOldest advances the tail by one slot if the oldest slot has
// already been indexed (and is therefore no longer needed to resolve a
// spanning tuple further back than the window allows).
func (s *Shredder) tryReclaimOldest() bool {
	tail := s.tail.Load()
	idx := tail % s.width
	sl := &s.slots[idx]
	if sl.state.Load()&bitIndexed == 0 {
		return false
	}
	return s.tail.CompareAndSwap(tail, tail+1)
}
