// Package decompose implements the Decomposer and NetworkLinker (C11):
// splitting a fully pinned logical plan by node and inserting matching
// network-sink/network-source operator pairs on every cross-node edge.
package decompose

import (
	"errors"
	"sort"

	"github.com/nebula-stream/nebula/internal/logical"
	"github.com/nebula-stream/nebula/internal/topology"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// ErrUnpinnedOperator is returned when decomposing a plan containing an
// operator with no PINNED_NODE_ID annotation.
var ErrUnpinnedOperator = errors.New("decompose: operator is not pinned to a node")

// SubPlan is one node's share of the decomposed logical plan: its own
// operators plus any network-sink/network-source bridge operators
// inserted to keep cross-node hops explicit.
type SubPlan struct {
	NodeID    ids.NodeID
	Operators []ids.OperatorID
	Networks  []logical.Operator // NetworkSinkOp / NetworkSourceOp instances
}

// idAllocator mints operator ids for inserted network operators, starting
// above every id already present in the plan to avoid collisions.
type idAllocator struct {
	next ids.OperatorID
}

func (a *idAllocator) next_() ids.OperatorID {
	a.next++
	return a.next
}

// Decompose partitions plan's pinned operators by node and inserts
// network-sink/network-source pairs on every cross-node edge, including
// bridge pairs at transit nodes that host no logical operator of their
// own (spec.md §4.10).
func Decompose(plan *logical.Plan, topo *topology.Topology, queryID ids.QueryID) (map[ids.NodeID]*SubPlan, error) {
	subplans := make(map[ids.NodeID]*SubPlan)
	alloc := &idAllocator{}

	ops := plan.Operators()
	pinned := make(map[ids.OperatorID]ids.NodeID, len(ops))
	for _, id := range ops {
		if id > alloc.next {
			alloc.next = id
		}
		a, err := plan.Annotation(id)
		if err != nil {
			return nil, err
		}
		if !a.HasPin {
			return nil, ErrUnpinnedOperator
		}
		pinned[id] = a.PinnedNodeID
		sp := getOrCreate(subplans, a.PinnedNodeID)
		sp.Operators = append(sp.Operators, id)
	}

	for _, u := range ops {
		for _, v := range plan.Children(u) {
			uNode, vNode := pinned[u], pinned[v]
			if uNode == vNode {
				continue
			}
			if err := linkCrossNode(topo, subplans, alloc, queryID, u, v, uNode, vNode); err != nil {
				return nil, err
			}
		}
	}

	for _, sp := range subplans {
		sort.Slice(sp.Operators, func(i, j int) bool { return sp.Operators[i] < sp.Operators[j] })
	}
	return subplans, nil
}

func getOrCreate(subplans map[ids.NodeID]*SubPlan, node ids.NodeID) *SubPlan {
	sp, ok := subplans[node]
	if !ok {
		sp = &SubPlan{NodeID: node}
		subplans[node] = sp
	}
	return sp
}

// linkCrossNode inserts a network-sink/network-source pair for every
// physical hop on the path between u's node and v's node, each hop
// minting its own fresh NesPartition. A path with transit nodes in
// between therefore produces a chain of independently partitioned hops
// rather than one partition reused end to end: the transit node's network-
// source (completing the hop into it) and network-sink (starting the next
// hop out of it) each pair with a distinct, disjoint partition, so every
// NesPartition appears in exactly one matching sink/source pair (spec.md
// §4.10, S2).
func linkCrossNode(topo *topology.Topology, subplans map[ids.NodeID]*SubPlan, alloc *idAllocator, queryID ids.QueryID, u, v ids.OperatorID, uNode, vNode ids.NodeID) error {
	path, ok := topo.PathBetween(uNode, vNode)
	if !ok {
		path, ok = reversePath(topo, vNode, uNode)
		if !ok {
			path = []ids.NodeID{uNode, vNode}
		}
	}

	for i := 0; i < len(path)-1; i++ {
		from, to := path[i], path[i+1]
		partition := ids.NesPartition{
			QueryID:      queryID,
			OperatorID:   u,
			SubPartition: ids.NewSubPartition(),
			Partition:    uint32(alloc.next_()),
		}

		sinkOp := logical.NewNetworkSink(alloc.next_(), partition, to)
		getOrCreate(subplans, from).Networks = append(getOrCreate(subplans, from).Networks, sinkOp)

		sourceOp := logical.NewNetworkSource(alloc.next_(), partition, from)
		getOrCreate(subplans, to).Networks = append(getOrCreate(subplans, to).Networks, sourceOp)
	}

	return nil
}

func reversePath(topo *topology.Topology, a, b ids.NodeID) ([]ids.NodeID, bool) {
	path, ok := topo.PathBetween(a, b)
	if !ok {
		return nil, false
	}
	out := make([]ids.NodeID, len(path))
	for i, n := range path {
		out[len(path)-1-i] = n
	}
	return out, true
}
