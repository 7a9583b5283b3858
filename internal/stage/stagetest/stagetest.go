// Package stagetest provides opaque-kernel fixtures for exercising
// internal/runtime end to end, standing in for the out-of-scope query
// compiler referenced by internal/stage's doc comment. Tuples are encoded
// as fixed-width int64 values; the filter kernel compiles its predicate
// with expr-lang/expr, the same "compile once, evaluate per tuple"
// contract a real operator compiler would produce.
package stagetest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nebula-stream/nebula/internal/buffer"
	"github.com/nebula-stream/nebula/internal/stage"
)

const tupleWidth = 8 // one int64 per tuple, matching buffer.TupleBuffer's byte layout

// EncodeTuples packs vals into buf's backing array and sets NumTuples,
// for use as scan kernel input fixtures.
func EncodeTuples(buf *buffer.TupleBuffer, vals []int64) {
	data := buf.Bytes()
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[i*tupleWidth:], uint64(v))
	}
	buf.NumTuples = len(vals)
}

// DecodeTuples unpacks the first buf.NumTuples int64 values from buf.
func DecodeTuples(buf *buffer.TupleBuffer) []int64 {
	data := buf.Bytes()
	out := make([]int64, buf.NumTuples)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(data[i*tupleWidth:]))
	}
	return out
}

// ScanStage is a scan kernel: it has no input of its own and exists purely
// as a Successors[0] target that Execute is driven against directly by
// tests, mirroring a source pipeline with a single passthrough stage.
type ScanStage struct{}

func (ScanStage) Setup(*stage.WorkerContext) error { return nil }

func (ScanStage) Execute(buf *buffer.TupleBuffer, pctx *stage.PipelineContext, _ *stage.WorkerContext) (stage.ExecutionResult, error) {
	pctx.Emit(buf)
	return stage.Ok, nil
}

func (ScanStage) Stop(*stage.PipelineContext) error { return nil }

// FilterStage evaluates a compiled expr-lang/expr predicate against each
// tuple, compiling once in NewFilterStage and re-running the compiled
// bytecode program per tuple thereafter — Setup does not recompile.
type FilterStage struct {
	program *vm.Program
	pool    *buffer.Pool
}

// NewFilterStage compiles predicate (an expr-lang/expr expression over the
// variable `value`) once and returns a stage that keeps only tuples for
// which it evaluates true. Output buffers are drawn from pool.
func NewFilterStage(predicate string, pool *buffer.Pool) (*FilterStage, error) {
	program, err := expr.Compile(predicate, expr.Env(map[string]any{"value": int64(0)}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("stagetest: compile filter %q: %w", predicate, err)
	}
	return &FilterStage{program: program, pool: pool}, nil
}

func (f *FilterStage) Setup(*stage.WorkerContext) error { return nil }

func (f *FilterStage) Execute(in *buffer.TupleBuffer, pctx *stage.PipelineContext, _ *stage.WorkerContext) (stage.ExecutionResult, error) {
	kept := make([]int64, 0, in.NumTuples)
	for _, v := range DecodeTuples(in) {
		out, err := expr.Run(f.program, map[string]any{"value": v})
		if err != nil {
			return stage.Error, fmt.Errorf("stagetest: run filter: %w", err)
		}
		if pass, _ := out.(bool); pass {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return stage.Ok, nil
	}
	outBuf, err := f.pool.AcquireNonBlocking(len(kept) * tupleWidth)
	if err != nil {
		return stage.Error, fmt.Errorf("stagetest: acquire output buffer: %w", err)
	}
	outBuf.OriginID = in.OriginID
	outBuf.SequenceNumber = in.SequenceNumber
	outBuf.Watermark = in.Watermark
	EncodeTuples(outBuf, kept)
	pctx.Emit(outBuf)
	return stage.Ok, nil
}

func (f *FilterStage) Stop(*stage.PipelineContext) error { return nil }

// SinkStage collects every tuple it observes, safe for concurrent
// Execute calls from multiple worker threads.
type SinkStage struct {
	mu     sync.Mutex
	values []int64
}

func NewSinkStage() *SinkStage { return &SinkStage{} }

func (s *SinkStage) Setup(*stage.WorkerContext) error { return nil }

func (s *SinkStage) Execute(buf *buffer.TupleBuffer, _ *stage.PipelineContext, _ *stage.WorkerContext) (stage.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, DecodeTuples(buf)...)
	return stage.Ok, nil
}

func (s *SinkStage) Stop(*stage.PipelineContext) error { return nil }

// Values returns a snapshot of every tuple collected so far.
func (s *SinkStage) Values() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.values...)
}
