// Package runtime implements the QueryManager/TaskQueue scheduling core
// (C4): a fixed-size worker pool pumping buffers through pipelines off a
// single MPMC task queue, with reconfiguration tasks carried in-band on
// the same queue.
package runtime

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/nebula-stream/nebula/internal/buffer"
	"github.com/nebula-stream/nebula/internal/pipeline"
)

// Task is (pipelineRef, bufferRef): one unit of work a worker pops and
// executes. Buffer is nil for a pure reconfiguration task.
type Task struct {
	Pipeline *pipeline.Pipeline
	Buffer   *buffer.TupleBuffer
}

// TaskQueue is the single shared MPMC deque: producers push at the back,
// workers pop from the front, blocking on a condvar when empty — the
// teacher's channel-as-queue idiom adapted to cond-var form because Stop
// must wake every blocked popper without risking a lost wakeup from a
// second close.
type TaskQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	q       *queue.Queue
	stopped bool
}

// NewTaskQueue creates an empty TaskQueue.
func NewTaskQueue() *TaskQueue {
	tq := &TaskQueue{q: queue.New()}
	tq.cond = sync.NewCond(&tq.mu)
	return tq
}

// Push enqueues a task at the back and wakes one blocked popper.
func (tq *TaskQueue) Push(t Task) {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	if tq.stopped {
		return
	}
	tq.q.Add(t)
	tq.cond.Signal()
}

// Pop blocks until a task is available or the queue is stopped. The
// second return value is false only when the queue is stopped and
// drained — callers use this to exit their worker loop.
func (tq *TaskQueue) Pop() (Task, bool) {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	for tq.q.Length() == 0 && !tq.stopped {
		tq.cond.Wait()
	}
	if tq.q.Length() == 0 {
		return Task{}, false
	}
	t := tq.q.Remove().(Task)
	return t, true
}

// Len reports the current queue depth, for metrics.
func (tq *TaskQueue) Len() int {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.q.Length()
}

// Stop wakes every blocked popper; once stopped, Push is a no-op and
// Pop drains remaining tasks before returning false.
func (tq *TaskQueue) Stop() {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	tq.stopped = true
	tq.cond.Broadcast()
}
