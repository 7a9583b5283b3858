// Package globalplan implements GlobalExecutionPlan (C9): the coordinator's
// in-memory view of which sub-plans run on which node, plus the reverse
// index from query to nodes.
package globalplan

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/nebula-stream/nebula/pkg/ids"
)

// ErrNodeNotFound is returned by operations addressing a node that was
// never registered via AddExecutionNode.
var ErrNodeNotFound = errors.New("globalplan: execution node not found")

// ErrSubPlanNotFound is returned when removing a sub-plan that isn't
// currently assigned to the addressed node.
var ErrSubPlanNotFound = errors.New("globalplan: sub-plan not found on node")

// SubPlanRef identifies one decomposed sub-plan deployed to a node.
type SubPlanRef struct {
	QueryID   ids.QueryID
	SubPlanID ids.DecomposedSubPlanID
}

type executionNode struct {
	subPlans []SubPlanRef
	parents  map[ids.NodeID]struct{}
	children map[ids.NodeID]struct{}
}

// Plan is the GlobalExecutionPlan: nodeId -> set of subplans, with
// parent/child links between execution nodes, protected by a single
// writer lock (spec.md §5).
type Plan struct {
	mu        sync.RWMutex
	nodes     map[ids.NodeID]*executionNode
	queryToNd map[ids.QueryID]map[ids.NodeID]struct{}
}

// New creates an empty GlobalExecutionPlan.
func New() *Plan {
	return &Plan{
		nodes:     make(map[ids.NodeID]*executionNode),
		queryToNd: make(map[ids.QueryID]map[ids.NodeID]struct{}),
	}
}

// AddExecutionNode registers node as a placement target, idempotently.
func (p *Plan) AddExecutionNode(node ids.NodeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.nodes[node]; ok {
		return
	}
	p.nodes[node] = &executionNode{
		parents:  make(map[ids.NodeID]struct{}),
		children: make(map[ids.NodeID]struct{}),
	}
}

// RemoveExecutionNode deregisters node and every parent/child link and
// sub-plan assignment touching it.
func (p *Plan) RemoveExecutionNode(node ids.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[node]
	if !ok {
		return ErrNodeNotFound
	}
	for parent := range n.parents {
		if par, ok := p.nodes[parent]; ok {
			delete(par.children, node)
		}
	}
	for child := range n.children {
		if c, ok := p.nodes[child]; ok {
			delete(c.parents, node)
		}
	}
	for _, ref := range n.subPlans {
		if set, ok := p.queryToNd[ref.QueryID]; ok {
			delete(set, node)
			if len(set) == 0 {
				delete(p.queryToNd, ref.QueryID)
			}
		}
	}
	delete(p.nodes, node)
	return nil
}

// AddAsParent records that parent is upstream of child in the execution
// topology (both must already be registered execution nodes).
func (p *Plan) AddAsParent(child, parent ids.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.nodes[child]
	if !ok {
		return ErrNodeNotFound
	}
	par, ok := p.nodes[parent]
	if !ok {
		return ErrNodeNotFound
	}
	c.parents[parent] = struct{}{}
	par.children[child] = struct{}{}
	return nil
}

// AddSubPlan assigns a sub-plan of queryID to node.
func (p *Plan) AddSubPlan(node ids.NodeID, queryID ids.QueryID, subPlanID ids.DecomposedSubPlanID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[node]
	if !ok {
		return ErrNodeNotFound
	}
	n.subPlans = append(n.subPlans, SubPlanRef{QueryID: queryID, SubPlanID: subPlanID})

	set, ok := p.queryToNd[queryID]
	if !ok {
		set = make(map[ids.NodeID]struct{})
		p.queryToNd[queryID] = set
	}
	set[node] = struct{}{}
	return nil
}

// RemoveSubPlan removes one sub-plan assignment from node.
func (p *Plan) RemoveSubPlan(node ids.NodeID, queryID ids.QueryID, subPlanID ids.DecomposedSubPlanID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[node]
	if !ok {
		return ErrNodeNotFound
	}
	ref := SubPlanRef{QueryID: queryID, SubPlanID: subPlanID}
	idx := -1
	for i, r := range n.subPlans {
		if r == ref {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrSubPlanNotFound
	}
	n.subPlans = append(n.subPlans[:idx], n.subPlans[idx+1:]...)

	stillPresent := false
	for _, r := range n.subPlans {
		if r.QueryID == queryID {
			stillPresent = true
			break
		}
	}
	if !stillPresent {
		if set, ok := p.queryToNd[queryID]; ok {
			delete(set, node)
			if len(set) == 0 {
				delete(p.queryToNd, queryID)
			}
		}
	}
	return nil
}

// GetSubPlans returns every sub-plan of queryID assigned to node.
func (p *Plan) GetSubPlans(node ids.NodeID, queryID ids.QueryID) []SubPlanRef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[node]
	if !ok {
		return nil
	}
	var out []SubPlanRef
	for _, r := range n.subPlans {
		if r.QueryID == queryID {
			out = append(out, r)
		}
	}
	return out
}

// NodesForQuery returns every node hosting at least one sub-plan of
// queryID, sorted.
func (p *Plan) NodesForQuery(queryID ids.QueryID) []ids.NodeID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set, ok := p.queryToNd[queryID]
	if !ok {
		return nil
	}
	out := make([]ids.NodeID, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// jsonView is the observability-only serialization shape (spec.md §4.8:
// "not part of the core's correctness contract").
type jsonView struct {
	Nodes map[string]jsonNode `json:"nodes"`
}

type jsonNode struct {
	SubPlans []SubPlanRef  `json:"subPlans"`
	Parents  []ids.NodeID  `json:"parents"`
	Children []ids.NodeID  `json:"children"`
}

// MarshalJSON renders the current plan for observability dashboards; it
// is not part of the correctness contract (spec.md §4.8).
func (p *Plan) MarshalJSON() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	view := jsonView{Nodes: make(map[string]jsonNode, len(p.nodes))}
	for id, n := range p.nodes {
		var parents, children []ids.NodeID
		for parent := range n.parents {
			parents = append(parents, parent)
		}
		for child := range n.children {
			children = append(children, child)
		}
		sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })
		sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
		view.Nodes[nodeKey(id)] = jsonNode{
			SubPlans: append([]SubPlanRef(nil), n.subPlans...),
			Parents:  parents,
			Children: children,
		}
	}
	return json.Marshal(view)
}

func nodeKey(id ids.NodeID) string {
	b, _ := json.Marshal(id)
	return string(b)
}
