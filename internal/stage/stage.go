// Package stage defines the opaque PipelineStage contract (C2): the
// runtime invokes scan/filter/map/aggregate/join/sink kernels produced by
// an (out-of-scope) query compiler through this interface only.
package stage

import (
	"github.com/nebula-stream/nebula/internal/buffer"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// ExecutionResult is the outcome of one PipelineStage.Execute call.
type ExecutionResult int

const (
	// Ok means the stage consumed the input and the runtime should
	// continue scheduling buffers for this pipeline as normal.
	Ok ExecutionResult = iota
	// NeedMoreInput means the stage buffered the input and is waiting on
	// further buffers before it can emit (e.g. an incomplete window).
	NeedMoreInput
	// Completed means the stage has produced its final output and the
	// pipeline may be torn down once in-flight successors drain.
	Completed
	// Error means the stage failed unrecoverably for this query.
	Error
)

func (r ExecutionResult) String() string {
	switch r {
	case Ok:
		return "Ok"
	case NeedMoreInput:
		return "NeedMoreInput"
	case Completed:
		return "Completed"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// WorkerContext is passed to every stage call and identifies the worker
// thread executing it, for thread-sharded operator state (C7).
type WorkerContext struct {
	ThreadID int
}

// PipelineContext is the stage's handle back into the runtime: it is how a
// stage emits zero or more output buffers during Execute.
type PipelineContext struct {
	PipelineID ids.PipelineID
	QueryID    ids.QueryID
	emit       func(*buffer.TupleBuffer)
}

// NewPipelineContext constructs a PipelineContext that forwards Emit calls
// to the given sink function (installed by the runtime's worker loop).
func NewPipelineContext(pipelineID ids.PipelineID, queryID ids.QueryID, emit func(*buffer.TupleBuffer)) *PipelineContext {
	return &PipelineContext{PipelineID: pipelineID, QueryID: queryID, emit: emit}
}

// Emit hands an output buffer to the runtime for forwarding to every
// successor pipeline.
func (c *PipelineContext) Emit(buf *buffer.TupleBuffer) {
	if c.emit != nil {
		c.emit(buf)
	}
}

// PipelineStage is the opaque execution kernel invoked per buffer.
type PipelineStage interface {
	// Setup runs once per worker thread and allocates thread-local state.
	Setup(wctx *WorkerContext) error
	// Execute consumes the input buffer, optionally emitting zero or more
	// output buffers via pctx.Emit.
	Execute(buf *buffer.TupleBuffer, pctx *PipelineContext, wctx *WorkerContext) (ExecutionResult, error)
	// Stop drains outstanding state and emits terminal buffers.
	Stop(pctx *PipelineContext) error
}
