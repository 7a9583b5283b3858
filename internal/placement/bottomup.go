package placement

import (
	"github.com/nebula-stream/nebula/internal/logical"
	"github.com/nebula-stream/nebula/internal/topology"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// BottomUp walks the logical plan from pinned sources downstream,
// selecting for each unpinned operator the lowest-id topology node
// reachable from every already-placed upstream with at least one free
// slot (spec.md §4.9).
type BottomUp struct{}

// Place pins every operator in req.Plan, or fails without partial commit.
func (BottomUp) Place(req Request) error {
	snapshot := req.Plan.Snapshot()
	reserved := make([]ids.NodeID, 0)

	rollback := func() {
		req.Plan.Restore(snapshot)
		for _, n := range reserved {
			req.Topology.Release(n)
		}
	}

	for opID, node := range req.PinnedSources {
		if err := req.Plan.Pin(opID, node); err != nil {
			rollback()
			return err
		}
		if err := req.Plan.SetState(opID, logical.Placed); err != nil {
			rollback()
			return err
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
	}

	order, err := topoSort(req.Plan)
	if err != nil {
		rollback()
		return err
	}

	for _, opID := range order {
		if _, isSource := req.PinnedSources[opID]; isSource {
			continue
		}
		if _, isSink := req.PinnedSinks[opID]; isSink {
			// The pinned sink already reserved its node before the walk;
			// its reachability from placed upstreams is checked after it.
			continue
		}
		if a, err := req.Plan.Annotation(opID); err == nil && a.HasPin && a.State == logical.Placed {
			// Already placed by an earlier call over this same plan
			// (e.g. a prior amendment pass); don't re-reserve its node.
			continue
		}

		parents := req.Plan.Parents(opID)
		candidate, ok := lowestReachableWithCapacity(req.Plan, req.Topology, parents)
		if !ok {
			rollback()
			return &PlacementFailure{OperatorID: opID, Reason: "no reachable node under capacity constraints"}
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

	// Validate sinks: every pinned sink must be reachable from all of its
	// placed upstreams, and (absent AllowZeroCostSink) have capacity ≥ 0,
	// which by construction it always does once registered — the real
	// check is reachability.
	for opID, node := range req.PinnedSinks {
		for _, parent := range req.Plan.Parents(opID) {
			pa, err := req.Plan.Annotation(parent)
			if err != nil || !pa.HasPin || !req.Topology.Connected(pa.PinnedNodeID, node) {
				rollback()
				return &PlacementFailure{OperatorID: opID, Reason: "pinned sink unreachable from a placed upstream"}
			}
		}
		if err := req.Plan.SetState(opID, logical.Placed); err != nil {
			rollback()
			return err
		}
	}

	return nil
}

// lowestReachableWithCapacity returns the smallest topology node id
// reachable from every parent's pinned node and with ≥ 1 free slot.
func lowestReachableWithCapacity(plan *logical.Plan, topo *topology.Topology, parents []ids.OperatorID) (ids.NodeID, bool) {
	if len(parents) == 0 {
		return 0, false
	}

	parentNodes := make([]ids.NodeID, 0, len(parents))
	for _, p := range parents {
		a, err := plan.Annotation(p)
		if err != nil || !a.HasPin {
			return 0, false
		}
		parentNodes = append(parentNodes, a.PinnedNodeID)
	}

	for _, candidate := range topo.AllNodes() {
		n, err := topo.Node(candidate)
		if err != nil || n.FreeSlots() < 1 {
			continue
		}
		allReachable := true
		for _, pn := range parentNodes {
			if !topo.Connected(pn, candidate) {
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

// topoSort returns a Kahn's-algorithm topological order over the plan's
// operators (deterministic: ties broken by smallest operator id).
func topoSort(plan *logical.Plan) ([]ids.OperatorID, error) {
	ops := plan.Operators()
	indegree := make(map[ids.OperatorID]int, len(ops))
	for _, id := range ops {
		indegree[id] = len(plan.Parents(id))
	}

	var ready []ids.OperatorID
	for _, id := range ops {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var order []ids.OperatorID
	for len(ready) > 0 {
		// ready is already sorted ascending since ops is sorted and we
		// append in that order; pop the smallest.
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, child := range plan.Children(cur) {
			indegree[child]--
			if indegree[child] == 0 {
				ready = insertSorted(ready, child)
			}
		}
	}
	return order, nil
}

func insertSorted(s []ids.OperatorID, v ids.OperatorID) []ids.OperatorID {
	i := 0
	for i < len(s) && s[i] < v {
		i++
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
