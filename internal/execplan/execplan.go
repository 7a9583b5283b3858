// Package execplan implements ExecutableQueryPlan (C8): the lifecycle
// holder for the sources, pipelines, and sinks deployed on one node for
// one query sub-plan, guarded by an atomic CAS status machine.
package execplan

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/nebula-stream/nebula/internal/pipeline"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// Status is the ExecutableQueryPlan lifecycle state (spec.md §4.7):
// Created -> Deployed -> Running -> (Stopped | Failed).
type Status int32

const (
	Created Status = iota
	Deployed
	Running
	Stopped
	Failed
)

func (s Status) String() string {
	switch s {
	case Created:
		return "Created"
	case Deployed:
		return "Deployed"
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

// Source and Sink are opaque external connectors; the runtime only needs
// their lifecycle hooks.
type Source interface {
	Start() error
	Stop() error
}

// Sink is the symmetric opaque downstream connector.
type Sink interface {
	Start() error
	Stop() error
}

// Plan is one node's ExecutableQueryPlan: a bundle of sources, pipelines,
// and sinks for one DecomposedSubPlanID, transitioned as a single unit.
type Plan struct {
	SubPlanID ids.DecomposedSubPlanID
	QueryID   ids.QueryID

	Sources   map[string]Source
	Sinks     map[string]Sink
	Pipelines []*pipeline.Pipeline

	mu     sync.Mutex // serializes one transition at a time, per spec.md §4.7
	status atomic.Int32
	logger zerolog.Logger
}

// New creates a Plan in the Created state.
func New(subPlanID ids.DecomposedSubPlanID, queryID ids.QueryID, logger zerolog.Logger) *Plan {
	p := &Plan{
		SubPlanID: subPlanID,
		QueryID:   queryID,
		Sources:   make(map[string]Source),
		Sinks:     make(map[string]Sink),
		logger:    logger.With().Str("component", "execplan").Uint64("subPlanId", uint64(subPlanID)).Logger(),
	}
	p.status.Store(int32(Created))
	return p
}

// Status returns the current lifecycle state.
func (p *Plan) Status() Status { return Status(p.status.Load()) }

// AddSource registers a source connector keyed by name.
func (p *Plan) AddSource(name string, s Source) { p.Sources[name] = s }

// AddSink registers a sink connector keyed by name.
func (p *Plan) AddSink(name string, s Sink) { p.Sinks[name] = s }

// AddPipeline appends a pipeline to this plan.
func (p *Plan) AddPipeline(pl *pipeline.Pipeline) { p.Pipelines = append(p.Pipelines, pl) }

// Deploy transitions Created -> Deployed. It does not start anything; it
// only marks the plan ready for Start.
func (p *Plan) Deploy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.status.CompareAndSwap(int32(Created), int32(Deployed)) {
		return fmt.Errorf("execplan: cannot deploy from status %v", p.Status())
	}
	p.logger.Debug().Msg("deployed")
	return nil
}

// Start transitions Deployed -> Running, starting sinks first, then
// pipelines, then sources — spec.md §4.7: "Starting sinks precedes
// starting pipelines." Sources are started last so nothing is produced
// before its downstream is ready to receive it.
func (p *Plan) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.status.CompareAndSwap(int32(Deployed), int32(Running)) {
		return fmt.Errorf("execplan: double-start rejected from status %v", p.Status())
	}

	for name, sink := range p.Sinks {
		if err := sink.Start(); err != nil {
			p.status.Store(int32(Failed))
			return fmt.Errorf("execplan: start sink %q: %w", name, err)
		}
	}
	for _, pl := range p.Pipelines {
		if !pl.TryTransition(pipeline.Created, pipeline.Running) {
			p.status.Store(int32(Failed))
			return fmt.Errorf("execplan: start pipeline %d: invalid transition from %v", pl.ID, pl.Status())
		}
	}
	for name, src := range p.Sources {
		if err := src.Start(); err != nil {
			p.status.Store(int32(Failed))
			return fmt.Errorf("execplan: start source %q: %w", name, err)
		}
	}
	p.logger.Debug().Msg("running")
	return nil
}

// Stop transitions Running -> Stopped, stopping sources first, then
// pipelines, then sinks (spec.md §4.7: "stopping sources precedes
// stopping pipelines; pipelines are stopped before sinks"). Double-stop is
// idempotent: calling Stop on an already-Stopped plan succeeds silently.
func (p *Plan) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Status() == Stopped {
		return nil
	}
	if !p.status.CompareAndSwap(int32(Running), int32(Stopped)) {
		return fmt.Errorf("execplan: cannot stop from status %v", p.Status())
	}

	var firstErr error
	for name, src := range p.Sources {
		if err := src.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("execplan: stop source %q: %w", name, err)
		}
	}
	for _, pl := range p.Pipelines {
		pl.TryTransition(pipeline.Running, pipeline.Stopped)
	}
	for name, sink := range p.Sinks {
		if err := sink.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("execplan: stop sink %q: %w", name, err)
		}
	}
	p.logger.Debug().Msg("stopped")
	return firstErr
}

// Fail unconditionally transitions the plan to Failed, from any state.
func (p *Plan) Fail(reason error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Store(int32(Failed))
	p.logger.Error().Err(reason).Msg("plan failed")
}
