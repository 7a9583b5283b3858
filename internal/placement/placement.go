// Package placement implements the Placement strategies (C10): mapping
// logical operators onto topology nodes respecting per-node capacity.
package placement

import (
	"errors"
	"fmt"

	"github.com/nebula-stream/nebula/internal/logical"
	"github.com/nebula-stream/nebula/internal/topology"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// ErrUnsupportedStrategy is returned by the ILP placeholder strategy.
var ErrUnsupportedStrategy = errors.New("placement: ILP strategy not implemented")

// PlacementFailure reports why no node could be found for an operator.
type PlacementFailure struct {
	OperatorID ids.OperatorID
	Reason     string
}

func (f *PlacementFailure) Error() string {
	return fmt.Sprintf("placement: operator %d: %s", f.OperatorID, f.Reason)
}

// Request carries the inputs to a placement pass: the logical plan to
// annotate, the topology to place against, and the pinned roots.
type Request struct {
	Plan             *logical.Plan
	Topology         *topology.Topology
	PinnedSources    map[ids.OperatorID]ids.NodeID
	PinnedSinks      map[ids.OperatorID]ids.NodeID
	// AllowZeroCostSink lets a sink pin to a node with zero free slots
	// when the sink is annotated as not consuming a capacity slot
	// (spec.md §9 Open Question, resolved: default false).
	AllowZeroCostSink bool
}

// Strategy maps every operator in a Request's plan to a topology node,
// annotating PINNED_NODE_ID, or fails without partially committing.
type Strategy interface {
	Place(req Request) error
}

// reserve decrements a node's capacity unless it is a zero-cost sink
// placement explicitly allowed by the request.
func reserve(topo *topology.Topology, node ids.NodeID, isZeroCostSink bool) error {
	if isZeroCostSink {
		return nil
	}
	return topo.Reserve(node)
}
