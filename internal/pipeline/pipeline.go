// Package pipeline implements Pipeline (C3): a chain of stages bound to
// input origins, output successors, and per-operator state handlers.
package pipeline

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/nebula-stream/nebula/internal/operatorstate"
	"github.com/nebula-stream/nebula/internal/stage"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// Status is the pipeline lifecycle state: Created -> Running -> Stopped|Failed.
type Status int32

const (
	Created Status = iota
	Running
	Stopped
	Failed
)

func (s Status) String() string {
	switch s {
	case Created:
		return "Created"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Pipeline is a chain of stages bound to input origins, output successors,
// and per-operator state handlers.
type Pipeline struct {
	ID         ids.PipelineID
	QueryID    ids.QueryID
	Origins    map[ids.OriginID]struct{}
	Successors []ids.PipelineID
	Stage      stage.PipelineStage
	Handlers   []operatorstate.Handler

	// IsReconfiguration marks a pipeline whose stage is the runtime's
	// internal reconfiguration entry point (spec.md §4.2).
	IsReconfiguration bool

	status atomic.Int32
	logger zerolog.Logger
}

// New creates a Pipeline in the Created state.
func New(id ids.PipelineID, queryID ids.QueryID, origins []ids.OriginID, successors []ids.PipelineID, st stage.PipelineStage, logger zerolog.Logger) *Pipeline {
	originSet := make(map[ids.OriginID]struct{}, len(origins))
	for _, o := range origins {
		originSet[o] = struct{}{}
	}
	p := &Pipeline{
		ID:         id,
		QueryID:    queryID,
		Origins:    originSet,
		Successors: append([]ids.PipelineID(nil), successors...),
		Stage:      st,
		logger:     logger.With().Str("component", "pipeline").Uint64("pipelineId", uint64(id)).Logger(),
	}
	p.status.Store(int32(Created))
	return p
}

// Status returns the current lifecycle state.
func (p *Pipeline) Status() Status { return Status(p.status.Load()) }

// TryTransition atomically moves the pipeline from `from` to `to`, failing
// if the current status is not `from`.
func (p *Pipeline) TryTransition(from, to Status) bool {
	ok := p.status.CompareAndSwap(int32(from), int32(to))
	if ok {
		p.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("pipeline status transition")
	}
	return ok
}

// AddHandler registers an operator handler with this pipeline.
func (p *Pipeline) AddHandler(h operatorstate.Handler) {
	p.Handlers = append(p.Handlers, h)
}

// HasOrigin reports whether this pipeline consumes buffers from the given
// origin.
func (p *Pipeline) HasOrigin(o ids.OriginID) bool {
	_, ok := p.Origins[o]
	return ok
}
