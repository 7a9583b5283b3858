package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nebula-stream/nebula/internal/buffer"
	"github.com/nebula-stream/nebula/internal/execplan"
	"github.com/nebula-stream/nebula/internal/pipeline"
	"github.com/nebula-stream/nebula/internal/stage"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// QueryStatistics accumulates per-query counters updated on the worker
// loop's step 4 (spec.md §4.3).
type QueryStatistics struct {
	ProcessedTuples  atomic.Int64
	ProcessedBuffers atomic.Int64
	StartedAt        time.Time
}

type sourceKey struct {
	queryID    ids.QueryID
	operatorID ids.OperatorID
}

// QueryManager owns the TaskQueue, the worker pool, and the bookkeeping
// that ties operators and sources back to the ExecutableQueryPlan that
// owns them on this node.
type QueryManager struct {
	logger     zerolog.Logger
	queue      *TaskQueue
	numWorkers int
	eg         *errgroup.Group

	mu                   sync.Mutex
	plans                map[ids.QueryID][]*execplan.Plan
	pipelinesByID        map[ids.PipelineID]*pipeline.Pipeline
	operatorIdToQueryMap map[ids.OperatorID]map[*execplan.Plan]struct{}
	sourcesIndex         map[sourceKey]struct{}
	stats                map[ids.QueryID]*QueryStatistics
}

// NewQueryManager creates a QueryManager with a pool of numWorkers worker
// goroutines, none of which are started until Start is called.
func NewQueryManager(numWorkers int, logger zerolog.Logger) *QueryManager {
	return &QueryManager{
		logger:               logger.With().Str("component", "query-manager").Logger(),
		queue:                NewTaskQueue(),
		numWorkers:           numWorkers,
		eg:                   &errgroup.Group{},
		plans:                make(map[ids.QueryID][]*execplan.Plan),
		pipelinesByID:        make(map[ids.PipelineID]*pipeline.Pipeline),
		operatorIdToQueryMap: make(map[ids.OperatorID]map[*execplan.Plan]struct{}),
		sourcesIndex:         make(map[sourceKey]struct{}),
		stats:                make(map[ids.QueryID]*QueryStatistics),
	}
}

// Start launches numWorkers worker goroutines, each running workerLoop
// until the queue is stopped.
func (qm *QueryManager) Start() {
	for i := 0; i < qm.numWorkers; i++ {
		workerID := i
		qm.eg.Go(func() error { return qm.workerLoop(workerID) })
	}
}

// Shutdown stops the task queue and waits for every worker to drain.
func (qm *QueryManager) Shutdown() error {
	qm.queue.Stop()
	return qm.eg.Wait()
}

// Enqueue pushes a task directly onto the shared queue — the entry point
// sources use to dispatch newly produced buffers (spec.md §4.3:
// "sources own their own threads or dispatch to the queue").
func (qm *QueryManager) Enqueue(pl *pipeline.Pipeline, buf *buffer.TupleBuffer) {
	qm.queue.Push(Task{Pipeline: pl, Buffer: buf})
}

// QueueDepth reports the current task queue length, for metrics.
func (qm *QueryManager) QueueDepth() int { return qm.queue.Len() }

// RegisterQuery records plan's pipelines under queryID and associates
// each of operatorIDs with plan, rejecting a second registration of the
// same operator for the same query (the original's "no double
// registration of the same source+plan" check).
func (qm *QueryManager) RegisterQuery(queryID ids.QueryID, plan *execplan.Plan, operatorIDs []ids.OperatorID) error {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	for _, opID := range operatorIDs {
		key := sourceKey{queryID: queryID, operatorID: opID}
		if _, exists := qm.sourcesIndex[key]; exists {
			return fmt.Errorf("runtime: operator %d already registered for query %d", opID, queryID)
		}
	}
	for _, opID := range operatorIDs {
		key := sourceKey{queryID: queryID, operatorID: opID}
		qm.sourcesIndex[key] = struct{}{}
		if qm.operatorIdToQueryMap[opID] == nil {
			qm.operatorIdToQueryMap[opID] = make(map[*execplan.Plan]struct{})
		}
		qm.operatorIdToQueryMap[opID][plan] = struct{}{}
	}

	qm.plans[queryID] = append(qm.plans[queryID], plan)
	for _, pl := range plan.Pipelines {
		qm.pipelinesByID[pl.ID] = pl
	}
	if qm.stats[queryID] == nil {
		qm.stats[queryID] = &QueryStatistics{StartedAt: time.Now()}
	}
	qm.logger.Debug().Uint64("queryId", uint64(queryID)).Int("operators", len(operatorIDs)).Msg("query registered")
	return nil
}

// DeployQuery registers plan under queryID/operatorIDs, then deploys and
// starts it.
func (qm *QueryManager) DeployQuery(queryID ids.QueryID, plan *execplan.Plan, operatorIDs []ids.OperatorID) error {
	if err := qm.RegisterQuery(queryID, plan, operatorIDs); err != nil {
		return err
	}
	if err := plan.Deploy(); err != nil {
		return err
	}
	return plan.Start()
}

// GetQueryStatistics returns the statistics tracked for queryID.
func (qm *QueryManager) GetQueryStatistics(queryID ids.QueryID) (*QueryStatistics, bool) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	s, ok := qm.stats[queryID]
	return s, ok
}

// StopQuery enqueues a Destroy reconfiguration task (spec.md §4.3): once
// every worker has arrived at the barrier — meaning every task enqueued
// ahead of it has already completed — the callback looks for tasks of
// queryID that those tasks forwarded behind the barrier. While any are
// queued it enqueues another barrier round; once none is left, every
// subplan of queryID is stopped.
func (qm *QueryManager) StopQuery(queryID ids.QueryID) {
	qm.mu.Lock()
	plans := append([]*execplan.Plan(nil), qm.plans[queryID]...)
	qm.mu.Unlock()

	var stop func()
	stop = func() {
		qm.queue.mu.Lock()
		pending := false
		for i := 0; i < qm.queue.q.Length() && !pending; i++ {
			t := qm.queue.q.Get(i).(Task)
			pending = t.Pipeline != nil && !t.Pipeline.IsReconfiguration && t.Pipeline.QueryID == queryID
		}
		qm.queue.mu.Unlock()
		if pending {
			qm.reconfigure(stop)
			return
		}
		for _, p := range plans {
			if err := p.Stop(); err != nil {
				qm.logger.Error().Err(err).Uint64("queryId", uint64(queryID)).Msg("stop query failed")
			}
		}
		qm.logger.Info().Uint64("queryId", uint64(queryID)).Msg("query stopped")
	}
	qm.reconfigure(stop)
}

// failQuery transitions every subplan of queryID to Failed and enqueues one
// barrier round whose callback only logs completion; no per-pipeline
// cleanup reconfiguration runs in it.
func (qm *QueryManager) failQuery(queryID ids.QueryID, cause error) {
	qm.mu.Lock()
	plans := append([]*execplan.Plan(nil), qm.plans[queryID]...)
	qm.mu.Unlock()

	for _, p := range plans {
		p.Fail(cause)
	}
	qm.logger.Error().Err(cause).Uint64("queryId", uint64(queryID)).Msg("query failed")
	qm.reconfigure(func() {
		qm.logger.Info().Uint64("queryId", uint64(queryID)).Msg("cleanup reconfiguration completed")
	})
}

// reconfigure enqueues numWorkers barrier tasks so that callback runs
// exactly once, after every worker currently in the pool has arrived.
func (qm *QueryManager) reconfigure(callback func()) {
	barrier := newReconfigBarrier(qm.numWorkers, callback)
	rp := pipeline.New(0, 0, nil, nil, barrier, qm.logger)
	rp.IsReconfiguration = true
	for i := 0; i < qm.numWorkers; i++ {
		qm.queue.Push(Task{Pipeline: rp})
	}
}

// workerLoop is one worker thread: pop, execute, forward emitted buffers,
// update statistics, repeat until the queue is stopped.
func (qm *QueryManager) workerLoop(workerID int) error {
	wctx := &stage.WorkerContext{ThreadID: workerID}
	for {
		task, ok := qm.queue.Pop()
		if !ok {
			return nil
		}
		pl := task.Pipeline
		pctx := stage.NewPipelineContext(pl.ID, pl.QueryID, func(out *buffer.TupleBuffer) {
			qm.forward(pl, out)
		})

		if _, err := pl.Stage.Execute(task.Buffer, pctx, wctx); err != nil {
			if !pl.IsReconfiguration {
				qm.failQuery(pl.QueryID, err)
			} else {
				qm.logger.Error().Err(err).Msg("reconfiguration task failed")
			}
			continue
		}
		if !pl.IsReconfiguration {
			qm.recordStats(pl.QueryID, task.Buffer)
		}
	}
}

// forward routes a buffer emitted by pl to every one of pl's successor
// pipelines as a new task.
func (qm *QueryManager) forward(pl *pipeline.Pipeline, buf *buffer.TupleBuffer) {
	qm.mu.Lock()
	successors := make([]*pipeline.Pipeline, 0, len(pl.Successors))
	for _, id := range pl.Successors {
		if succ, ok := qm.pipelinesByID[id]; ok {
			successors = append(successors, succ)
		}
	}
	qm.mu.Unlock()
	for _, succ := range successors {
		qm.queue.Push(Task{Pipeline: succ, Buffer: buf})
	}
}

// recordStats updates queryID's processed-tuple/buffer counters.
func (qm *QueryManager) recordStats(queryID ids.QueryID, buf *buffer.TupleBuffer) {
	qm.mu.Lock()
	s := qm.stats[queryID]
	if s == nil {
		s = &QueryStatistics{StartedAt: time.Now()}
		qm.stats[queryID] = s
	}
	qm.mu.Unlock()

	s.ProcessedBuffers.Add(1)
	if buf != nil {
		s.ProcessedTuples.Add(int64(buf.NumTuples))
	}
}
