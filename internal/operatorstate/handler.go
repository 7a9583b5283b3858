// Package operatorstate implements OperatorHandler (C7): long-lived,
// operator-specific state, thread-sharded during execute and merged under
// a lock only at emission time.
package operatorstate

import "sync"

// Handler is the lifecycle contract every stateful operator's handler
// satisfies: constructed at pipeline setup, destroyed at pipeline stop.
type Handler interface {
	// Setup allocates any resources needed before Execute is first called.
	Setup(numWorkerThreads int) error
	// Stop releases resources held by the handler.
	Stop() error
}

// Sharded holds one state shard per worker thread, so concurrent Execute
// calls never contend on a lock, and merges them under a single lock only
// when a window or batch triggers (spec.md §4.6).
type Sharded[T any] struct {
	mu     sync.Mutex
	shards []T
	newFn  func() T
}

// NewSharded creates a Sharded handler with numWorkerThreads independent
// shards, each produced by newFn.
func NewSharded[T any](numWorkerThreads int, newFn func() T) *Sharded[T] {
	s := &Sharded[T]{
		shards: make([]T, numWorkerThreads),
		newFn:  newFn,
	}
	for i := range s.shards {
		s.shards[i] = newFn()
	}
	return s
}

// Setup is a no-op for Sharded — shards are allocated at construction so
// that getShard never races with first use. It exists to satisfy Handler.
func (s *Sharded[T]) Setup(int) error { return nil }

// Stop is a no-op for Sharded by default; callers whose T needs explicit
// teardown should wrap Sharded rather than relying on this.
func (s *Sharded[T]) Stop() error { return nil }

// Shard returns the shard owned by the given worker thread, indexed by
// workerThreadID % P as spec.md §9 prescribes (no lock: execute never
// contends with another thread's shard).
func (s *Sharded[T]) Shard(workerThreadID int) *T {
	idx := workerThreadID % len(s.shards)
	return &s.shards[idx]
}

// Combine folds every shard into a single accumulator under the handler's
// lock, starting from newFn() as the zero accumulator.
func (s *Sharded[T]) Combine(fold func(acc, shard T) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.newFn()
	for _, shard := range s.shards {
		acc = fold(acc, shard)
	}
	return acc
}

// NumShards returns the number of worker-thread shards.
func (s *Sharded[T]) NumShards() int { return len(s.shards) }
