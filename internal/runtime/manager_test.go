package runtime_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nebula-stream/nebula/internal/buffer"
	"github.com/nebula-stream/nebula/internal/execplan"
	"github.com/nebula-stream/nebula/internal/pipeline"
	"github.com/nebula-stream/nebula/internal/runtime"
	"github.com/nebula-stream/nebula/internal/stage"
	"github.com/nebula-stream/nebula/pkg/ids"
)

type forwardingStage struct{}

func (forwardingStage) Setup(*stage.WorkerContext) error { return nil }
func (forwardingStage) Execute(buf *buffer.TupleBuffer, pctx *stage.PipelineContext, _ *stage.WorkerContext) (stage.ExecutionResult, error) {
	pctx.Emit(buf)
	return stage.Ok, nil
}
func (forwardingStage) Stop(*stage.PipelineContext) error { return nil }

type countingStage struct{ count atomic.Int32 }

func (s *countingStage) Setup(*stage.WorkerContext) error { return nil }
func (s *countingStage) Execute(*buffer.TupleBuffer, *stage.PipelineContext, *stage.WorkerContext) (stage.ExecutionResult, error) {
	s.count.Add(1)
	return stage.Ok, nil
}
func (s *countingStage) Stop(*stage.PipelineContext) error { return nil }

type failingStage struct{}

func (failingStage) Setup(*stage.WorkerContext) error { return nil }
func (failingStage) Execute(*buffer.TupleBuffer, *stage.PipelineContext, *stage.WorkerContext) (stage.ExecutionResult, error) {
	return stage.Error, errors.New("boom")
}
func (failingStage) Stop(*stage.PipelineContext) error { return nil }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestQueryManager_ForwardsAcrossSuccessors(t *testing.T) {
	logger := zerolog.Nop()
	counter := &countingStage{}
	upstream := pipeline.New(1, 1, nil, []ids.PipelineID{2}, forwardingStage{}, logger)
	downstream := pipeline.New(2, 1, nil, nil, counter, logger)

	plan := execplan.New(1, 1, logger)
	plan.AddPipeline(upstream)
	plan.AddPipeline(downstream)

	qm := runtime.NewQueryManager(2, logger)
	if err := qm.DeployQuery(1, plan, []ids.OperatorID{10}); err != nil {
		t.Fatalf("DeployQuery: %v", err)
	}
	qm.Start()
	defer qm.Shutdown()

	pool := buffer.NewPool(2, 64, logger)
	buf, err := pool.Acquire(context.Background(), 8)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	buf.NumTuples = 3
	qm.Enqueue(upstream, buf)

	waitFor(t, time.Second, func() bool { return counter.count.Load() == 1 })

	stats, ok := qm.GetQueryStatistics(1)
	if !ok {
		t.Fatalf("expected statistics for query 1")
	}
	// Both pipelines execute the 3-tuple buffer, and each execute counts.
	waitFor(t, time.Second, func() bool { return stats.ProcessedTuples.Load() == 6 })
	if stats.ProcessedBuffers.Load() != 2 {
		t.Fatalf("expected 2 processed buffers, got %d", stats.ProcessedBuffers.Load())
	}
}

func TestQueryManager_RegisterQuery_RejectsDoubleRegistration(t *testing.T) {
	logger := zerolog.Nop()
	plan := execplan.New(1, 1, logger)
	qm := runtime.NewQueryManager(1, logger)

	if err := qm.RegisterQuery(1, plan, []ids.OperatorID{5}); err != nil {
		t.Fatalf("first RegisterQuery: %v", err)
	}
	if err := qm.RegisterQuery(1, plan, []ids.OperatorID{5}); err == nil {
		t.Fatalf("expected double registration of operator 5 for query 1 to fail")
	}
}

func TestQueryManager_StopQuery_WaitsForInFlightThenStops(t *testing.T) {
	logger := zerolog.Nop()
	counter := &countingStage{}
	pl := pipeline.New(1, 1, nil, nil, counter, logger)

	plan := execplan.New(1, 1, logger)
	plan.AddPipeline(pl)

	qm := runtime.NewQueryManager(2, logger)
	if err := qm.DeployQuery(1, plan, nil); err != nil {
		t.Fatalf("DeployQuery: %v", err)
	}
	qm.Start()
	defer qm.Shutdown()

	for i := 0; i < 5; i++ {
		qm.Enqueue(pl, nil)
	}
	qm.StopQuery(1)

	waitFor(t, time.Second, func() bool { return plan.Status() == execplan.Stopped })
	if counter.count.Load() != 5 {
		t.Fatalf("expected all 5 in-flight tasks to complete before stop, got %d", counter.count.Load())
	}
}

func TestQueryManager_FailingStage_TransitionsPlanToFailed(t *testing.T) {
	logger := zerolog.Nop()
	pl := pipeline.New(1, 2, nil, nil, failingStage{}, logger)

	plan := execplan.New(1, 2, logger)
	plan.AddPipeline(pl)

	qm := runtime.NewQueryManager(1, logger)
	if err := qm.DeployQuery(2, plan, nil); err != nil {
		t.Fatalf("DeployQuery: %v", err)
	}
	qm.Start()
	defer qm.Shutdown()

	qm.Enqueue(pl, nil)

	waitFor(t, time.Second, func() bool { return plan.Status() == execplan.Failed })
}
