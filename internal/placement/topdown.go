package placement

import (
	"github.com/nebula-stream/nebula/internal/logical"
	"github.com/nebula-stream/nebula/internal/topology"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// TopDown walks the logical plan from pinned sinks upstream, symmetric to
// BottomUp: for N-ary operators it computes the common ancestor of all
// children's locations and verifies capacity, walking further upstream on
// failure (spec.md §4.9).
type TopDown struct{}

// Place pins every operator in req.Plan, or fails without partial commit.
func (TopDown) Place(req Request) error {
	snapshot := req.Plan.Snapshot()
	reserved := make([]ids.NodeID, 0)

	rollback := func() {
		req.Plan.Restore(snapshot)
		for _, n := range reserved {
			req.Topology.Release(n)
		}
	}

	for opID, node := range req.PinnedSinks {
		if err := reserve(req.Topology, node, req.AllowZeroCostSink); err != nil {
			rollback()
			return &PlacementFailure{OperatorID: opID, Reason: err.Error()}
		}
		if !req.AllowZeroCostSink {
			reserved = append(reserved, node)
		}
		if err := req.Plan.Pin(opID, node); err != nil {
			rollback()
			return err
		}
		if err := req.Plan.SetState(opID, logical.Placed); err != nil {
			rollback()
			return err
		}
	}
	for opID, node := range req.PinnedSources {
		if err := req.Plan.Pin(opID, node); err != nil {
			rollback()
			return err
		}
	}

	order, err := topoSort(req.Plan)
	if err != nil {
		rollback()
		return err
	}
	// Process in reverse topological order: sinks first, sources last.
	for i := len(order) - 1; i >= 0; i-- {
		opID := order[i]
		if _, isSink := req.PinnedSinks[opID]; isSink {
			continue
		}
		if _, isSource := req.PinnedSources[opID]; isSource {
			continue
		}
		if a, err := req.Plan.Annotation(opID); err == nil && a.HasPin && a.State == logical.Placed {
			continue
		}

		children := req.Plan.Children(opID)
		candidate, ok := findCommonNodeBetween(req.Plan, req.Topology, children)
		if !ok {
			rollback()
			return &PlacementFailure{OperatorID: opID, Reason: "no common ancestor with capacity found for children"}
		}

		if err := req.Topology.Reserve(candidate); err != nil {
			rollback()
			return &PlacementFailure{OperatorID: opID, Reason: err.Error()}
		}
		reserved = append(reserved, candidate)

		if err := req.Plan.Pin(opID, candidate); err != nil {
			rollback()
			return err
		}
		if err := req.Plan.SetState(opID, logical.Placed); err != nil {
			rollback()
			return err
		}
	}

	for opID, node := range req.PinnedSources {
		for _, child := range req.Plan.Children(opID) {
			ca, err := req.Plan.Annotation(child)
			if err != nil || !ca.HasPin || !req.Topology.Connected(node, ca.PinnedNodeID) {
				rollback()
				return &PlacementFailure{OperatorID: opID, Reason: "pinned source cannot reach a placed downstream"}
			}
		}
		if err := req.Plan.SetState(opID, logical.Placed); err != nil {
			rollback()
			return err
		}
	}

	return nil
}

// findCommonNodeBetween returns the lowest-id topology node that is a
// common ancestor (i.e. can reach) every one of childNodes' pinned
// locations and has ≥ 1 free slot, walking further upstream
// (findNodesBetween) only via the candidate search itself, since the
// arena-graph representation makes every node a valid candidate directly
// rather than requiring an explicit intermediate walk.
func findCommonNodeBetween(plan *logical.Plan, topo *topology.Topology, children []ids.OperatorID) (ids.NodeID, bool) {
	if len(children) == 0 {
		return 0, false
	}

	childNodes := make([]ids.NodeID, 0, len(children))
	for _, c := range children {
		a, err := plan.Annotation(c)
		if err != nil || !a.HasPin {
			return 0, false
		}
		childNodes = append(childNodes, a.PinnedNodeID)
	}

	for _, candidate := range topo.AllNodes() {
		n, err := topo.Node(candidate)
		if err != nil || n.FreeSlots() < 1 {
			continue
		}
		allReachable := true
		for _, cn := range childNodes {
			if !topo.Connected(candidate, cn) {
				allReachable = false
				break
			}
		}
		if allReachable {
			return candidate, true
		}
	}
	return 0, false
}
