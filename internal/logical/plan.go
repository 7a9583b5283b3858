package logical

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/nebula-stream/nebula/pkg/ids"
)

// ErrOperatorNotFound is returned by Plan operations addressing an unknown
// operator id.
var ErrOperatorNotFound = errors.New("logical: operator not found")

// OperatorState is the placement/amendment lifecycle of one operator
// within a SharedQueryPlan (spec.md §3).
type OperatorState int

const (
	ToBePlaced OperatorState = iota
	Placed
	ToBeReplaced
	ToBeRemoved
	Removed
)

func (s OperatorState) String() string {
	switch s {
	case ToBePlaced:
		return "ToBePlaced"
	case Placed:
		return "Placed"
	case ToBeReplaced:
		return "ToBeReplaced"
	case ToBeRemoved:
		return "ToBeRemoved"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// Annotation holds the mutable, placement-owned metadata attached to an
// otherwise-immutable operator.
type Annotation struct {
	PinnedNodeID ids.NodeID
	HasPin       bool
	State        OperatorState
}

// Plan is a mutable DAG of Operators plus their annotations, all guarded
// by a single lock (spec.md §5: "Topology and GlobalExecutionPlan: single
// writer lock" — Plan follows the same policy for its own structure).
type Plan struct {
	mu          sync.RWMutex
	operators   map[ids.OperatorID]Operator
	children    map[ids.OperatorID][]ids.OperatorID
	parents     map[ids.OperatorID][]ids.OperatorID
	annotations map[ids.OperatorID]*Annotation
}

// New creates an empty Plan.
func New() *Plan {
	return &Plan{
		operators:   make(map[ids.OperatorID]Operator),
		children:    make(map[ids.OperatorID][]ids.OperatorID),
		parents:     make(map[ids.OperatorID][]ids.OperatorID),
		annotations: make(map[ids.OperatorID]*Annotation),
	}
}

// AddOperator registers op, defaulting its annotation to ToBePlaced.
func (p *Plan) AddOperator(op Operator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.operators[op.ID()] = op
	if _, ok := p.annotations[op.ID()]; !ok {
		p.annotations[op.ID()] = &Annotation{State: ToBePlaced}
	}
}

// Connect records a directed data-flow edge: parent emits into child.
func (p *Plan) Connect(parent, child ids.OperatorID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.operators[parent]; !ok {
		return ErrOperatorNotFound
	}
	if _, ok := p.operators[child]; !ok {
		return ErrOperatorNotFound
	}
	p.children[parent] = append(p.children[parent], child)
	p.parents[child] = append(p.parents[child], parent)
	return nil
}

// Operator returns the operator registered under id.
func (p *Plan) Operator(id ids.OperatorID) (Operator, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	op, ok := p.operators[id]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	return op, nil
}

// Operators returns every operator id in the plan, sorted.
func (p *Plan) Operators() []ids.OperatorID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ids.OperatorID, 0, len(p.operators))
	for id := range p.operators {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Children returns the direct downstream operator ids of id, sorted.
func (p *Plan) Children(id ids.OperatorID) []ids.OperatorID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sortedCopy(p.children[id])
}

// Parents returns the direct upstream operator ids of id, sorted.
func (p *Plan) Parents(id ids.OperatorID) []ids.OperatorID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return sortedCopy(p.parents[id])
}

// Sources returns every operator with no parents.
func (p *Plan) Sources() []ids.OperatorID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []ids.OperatorID
	for id := range p.operators {
		if len(p.parents[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sinks returns every operator with no children.
func (p *Plan) Sinks() []ids.OperatorID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []ids.OperatorID
	for id := range p.operators {
		if len(p.children[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Annotation returns a copy of id's current annotation.
func (p *Plan) Annotation(id ids.OperatorID) (Annotation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.annotations[id]
	if !ok {
		return Annotation{}, ErrOperatorNotFound
	}
	return *a, nil
}

// Pin sets id's PinnedNodeID annotation.
func (p *Plan) Pin(id ids.OperatorID, node ids.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.annotations[id]
	if !ok {
		return ErrOperatorNotFound
	}
	a.PinnedNodeID = node
	a.HasPin = true
	return nil
}

// Unpin clears id's PinnedNodeID annotation.
func (p *Plan) Unpin(id ids.OperatorID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.annotations[id]
	if !ok {
		return ErrOperatorNotFound
	}
	a.PinnedNodeID = 0
	a.HasPin = false
	return nil
}

// SetState updates id's OperatorState annotation.
func (p *Plan) SetState(id ids.OperatorID, state OperatorState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.annotations[id]
	if !ok {
		return ErrOperatorNotFound
	}
	a.State = state
	return nil
}

// Snapshot returns a deep copy of every annotation, keyed by operator id —
// used by placement strategies to shadow-copy pin state before committing
// (spec.md §4.9: "they operate on a shadow copy ... and publish only on
// success").
func (p *Plan) Snapshot() map[ids.OperatorID]Annotation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[ids.OperatorID]Annotation, len(p.annotations))
	for id, a := range p.annotations {
		out[id] = *a
	}
	return out
}

// Restore overwrites every annotation from a previously taken Snapshot.
func (p *Plan) Restore(snapshot map[ids.OperatorID]Annotation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, a := range snapshot {
		a := a
		p.annotations[id] = &a
	}
}

// StructuralHash computes an FNV-1a digest of the plan's shape: each
// operator's own signature (kind plus type-specific fields) folded
// together with its children's hashes, rolled up from every root
// operator. Two plans with the same operator chain produce the same
// hash regardless of operator id numbering. Query merging
// (sharedplan.AddQuery) does not call it; it keys on its own per-operator
// upstream hash built from Signature.
func (p *Plan) StructuralHash() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	memo := make(map[ids.OperatorID]uint64)
	var compute func(id ids.OperatorID) uint64
	compute = func(id ids.OperatorID) uint64 {
		if h, ok := memo[id]; ok {
			return h
		}
		digest := fnv.New64a()
		digest.Write([]byte(Signature(p.operators[id])))
		for _, c := range sortedCopy(p.children[id]) {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], compute(c))
			digest.Write(buf[:])
		}
		sum := digest.Sum64()
		memo[id] = sum
		return sum
	}

	var roots []ids.OperatorID
	for id := range p.operators {
		if len(p.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	final := fnv.New64a()
	for _, r := range roots {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], compute(r))
		final.Write(buf[:])
	}
	return final.Sum64()
}

// Signature renders the type-specific content of an operator, deliberately
// excluding its id so that structurally identical plans hash identically
// regardless of how their operators were numbered. Used both by
// StructuralHash and by callers (sharedplan's merge) that need to compare
// individual operators across plans.
func Signature(op Operator) string {
	switch o := op.(type) {
	case *SourceOp:
		return fmt.Sprintf("Source:%s", o.SourceDescriptor)
	case *FilterOp:
		return fmt.Sprintf("Filter:%s", o.Predicate)
	case *MapOp:
		return fmt.Sprintf("Map:%s", o.Expression)
	case *WindowOp:
		return fmt.Sprintf("Window:%d:%d:%s", o.SizeMillis, o.SlideMillis, o.Aggregate)
	case *JoinOp:
		return fmt.Sprintf("Join:%s", o.Condition)
	case *SinkOp:
		return fmt.Sprintf("Sink:%s", o.SinkDescriptor)
	case *NetworkSourceOp:
		return fmt.Sprintf("NetworkSource:%d", o.Partition.Partition)
	case *NetworkSinkOp:
		return fmt.Sprintf("NetworkSink:%d", o.Partition.Partition)
	default:
		return fmt.Sprintf("Unknown:%d", op.Kind())
	}
}

// CloneWithID returns a copy of op carrying a different id but otherwise
// identical fields — used by sharedplan's merge to adopt an operator from
// an incoming query's plan into the shared one under a freshly minted id.
func CloneWithID(op Operator, id ids.OperatorID) Operator {
	switch o := op.(type) {
	case *SourceOp:
		return &SourceOp{base: base{id}, SourceDescriptor: o.SourceDescriptor, OriginID: o.OriginID}
	case *FilterOp:
		return &FilterOp{base: base{id}, Predicate: o.Predicate}
	case *MapOp:
		return &MapOp{base: base{id}, Expression: o.Expression}
	case *WindowOp:
		return &WindowOp{base: base{id}, SizeMillis: o.SizeMillis, SlideMillis: o.SlideMillis, Aggregate: o.Aggregate}
	case *JoinOp:
		return &JoinOp{base: base{id}, Condition: o.Condition}
	case *SinkOp:
		return &SinkOp{base: base{id}, SinkDescriptor: o.SinkDescriptor}
	case *NetworkSourceOp:
		return &NetworkSourceOp{base: base{id}, Partition: o.Partition, SourceNode: o.SourceNode}
	case *NetworkSinkOp:
		return &NetworkSinkOp{base: base{id}, Partition: o.Partition, TargetNode: o.TargetNode}
	default:
		return op
	}
}

func sortedCopy(ids_ []ids.OperatorID) []ids.OperatorID {
	out := append([]ids.OperatorID(nil), ids_...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
