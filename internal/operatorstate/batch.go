package operatorstate

import "sync"

// Batch accumulates T-typed items up to a configured size before closing.
type Batch[T any] struct {
	Items   []T
	started bool
}

// BatchHandler is a batch-style OperatorHandler (spec.md §4.6): it closes
// the current batch when its tuple count reaches batchSize, or exposes the
// not-yet-started state so the caller knows a fresh batch must begin.
type BatchHandler[T any] struct {
	mu        sync.Mutex
	batchSize int
	current   *Batch[T]
	onClosed  func(*Batch[T])
}

// NewBatchHandler creates a BatchHandler that closes batches at batchSize
// items, delivering each closed batch to onClosed.
func NewBatchHandler[T any](batchSize int, onClosed func(*Batch[T])) *BatchHandler[T] {
	return &BatchHandler[T]{batchSize: batchSize, onClosed: onClosed}
}

func (h *BatchHandler[T]) Setup(int) error { return nil }
func (h *BatchHandler[T]) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != nil && len(h.current.Items) > 0 {
		h.closeLocked()
	}
	return nil
}

// GetOrCreateBatch returns the current open batch, starting a new one if
// none is open, and appends item to it. If appending completes the batch
// (len reaches batchSize), the batch is closed and delivered to onClosed
// before this call returns.
func (h *BatchHandler[T]) GetOrCreateBatch(item T) *Batch[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current == nil {
		h.current = &Batch[T]{started: true}
	}
	h.current.Items = append(h.current.Items, item)
	b := h.current

	if len(h.current.Items) >= h.batchSize {
		h.closeLocked()
	}
	return b
}

func (h *BatchHandler[T]) closeLocked() {
	closed := h.current
	h.current = nil
	if h.onClosed != nil {
		h.onClosed(closed)
	}
}

// IsStarted reports whether a batch is currently open (spec.md: "closes
// the current batch ... when the current buffer is not yet started" is
// the inverse condition callers check before appending more input).
func (h *BatchHandler[T]) IsStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil && h.current.started
}
