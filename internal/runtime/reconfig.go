package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/nebula-stream/nebula/internal/buffer"
	"github.com/nebula-stream/nebula/internal/stage"
)

// reconfigBarrier is the runtime's internal reconfiguration entry point
// (spec.md §4.2): a stage.PipelineStage whose Execute blocks every worker
// that reaches it until all n have arrived, then runs callback exactly
// once before releasing everyone — grounded in the original's
// ReconfigurationTaskEntryPointPipelineStage (task->wait() / reconfigure()
// / postReconfiguration() / postWait()) and the teacher's
// sentinel.Coordinator confirmation-channel idiom.
type reconfigBarrier struct {
	n        int32
	arrived  atomic.Int32
	done     chan struct{}
	once     sync.Once
	callback func()
}

func newReconfigBarrier(n int, callback func()) *reconfigBarrier {
	return &reconfigBarrier{n: int32(n), done: make(chan struct{}), callback: callback}
}

// Setup is a no-op; the barrier has no per-worker thread-local state.
func (b *reconfigBarrier) Setup(*stage.WorkerContext) error { return nil }

// Execute implements stage.PipelineStage. The worker that observes the
// last arrival runs callback and releases every waiter, including itself.
func (b *reconfigBarrier) Execute(_ *buffer.TupleBuffer, _ *stage.PipelineContext, _ *stage.WorkerContext) (stage.ExecutionResult, error) {
	if b.arrived.Add(1) == b.n {
		b.once.Do(func() {
			if b.callback != nil {
				b.callback()
			}
			close(b.done)
		})
		return stage.Completed, nil
	}
	<-b.done
	return stage.Completed, nil
}

// Stop is a no-op; the barrier holds no resources to drain.
func (b *reconfigBarrier) Stop(*stage.PipelineContext) error { return nil }
