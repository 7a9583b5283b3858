package operatorstate

import (
	"sort"
	"sync"
)

// Slice is one window slice: a contiguous [Start, End) time range plus
// caller-defined aggregate state.
type Slice[T any] struct {
	Start int64
	End   int64
	State T
}

// WindowHandler is a window-style OperatorHandler: it exposes a slice
// factory and a trigger that fires completed slices downstream.
type WindowHandler[T any] struct {
	mu      sync.Mutex
	newFn   func() T
	slices  []*Slice[T]
	onFired func([]*Slice[T])
}

// NewWindowHandler creates a WindowHandler whose slice state is produced
// by newFn and whose triggered slices are delivered to onFired.
func NewWindowHandler[T any](newFn func() T, onFired func([]*Slice[T])) *WindowHandler[T] {
	return &WindowHandler[T]{newFn: newFn, onFired: onFired}
}

func (h *WindowHandler[T]) Setup(int) error { return nil }
func (h *WindowHandler[T]) Stop() error     { return nil }

// GetCreateNewSlicesFunction returns a function that creates (or returns
// the existing) slice covering [start, end), matching spec.md §4.6's
// "slice-start/slice-end -> slice" contract.
func (h *WindowHandler[T]) GetCreateNewSlicesFunction() func(start, end int64) *Slice[T] {
	return func(start, end int64) *Slice[T] {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, s := range h.slices {
			if s.Start == start && s.End == end {
				return s
			}
		}
		s := &Slice[T]{Start: start, End: end, State: h.newFn()}
		h.slices = append(h.slices, s)
		return s
	}
}

// TriggerSlices fires every slice whose End is <= watermark, removing them
// from the pending set and handing them to onFired in increasing Start
// order.
func (h *WindowHandler[T]) TriggerSlices(watermark int64) {
	h.mu.Lock()
	var fired []*Slice[T]
	var remaining []*Slice[T]
	for _, s := range h.slices {
		if s.End <= watermark {
			fired = append(fired, s)
		} else {
			remaining = append(remaining, s)
		}
	}
	h.slices = remaining
	h.mu.Unlock()
	sort.SliceStable(fired, func(i, j int) bool { return fired[i].Start < fired[j].Start })

	if len(fired) > 0 && h.onFired != nil {
		h.onFired(fired)
	}
}

// PendingSlices returns a snapshot count of not-yet-triggered slices, for
// tests and observability.
func (h *WindowHandler[T]) PendingSlices() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.slices)
}
