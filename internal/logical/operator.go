// Package logical implements the LogicalOperator tagged variant (spec.md
// §9 redesign guidance: "replace deep inheritance over operator nodes with
// a tagged variant ... plus a uniform visit trait") and the mutable
// per-operator annotations (PinnedNodeID, HasPin, State) that
// placement and amendment read and write under the owning Plan's lock.
package logical

import (
	"github.com/nebula-stream/nebula/pkg/ids"
)

// Kind discriminates the operator variant; pattern-match on this instead
// of a type switch chain rooted in inheritance.
type Kind int

const (
	KindSource Kind = iota
	KindFilter
	KindMap
	KindWindow
	KindJoin
	KindSink
	KindNetworkSource
	KindNetworkSink
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "Source"
	case KindFilter:
		return "Filter"
	case KindMap:
		return "Map"
	case KindWindow:
		return "Window"
	case KindJoin:
		return "Join"
	case KindSink:
		return "Sink"
	case KindNetworkSource:
		return "NetworkSource"
	case KindNetworkSink:
		return "NetworkSink"
	default:
		return "Unknown"
	}
}

// Operator is the uniform interface every operator variant implements.
// Operators are immutable after construction except through the owning
// Plan's Annotation bookkeeping — there is no setter on Operator itself.
type Operator interface {
	ID() ids.OperatorID
	Kind() Kind
	Accept(v Visitor) error
}

// Visitor dispatches on operator kind without a type-switch chain.
type Visitor interface {
	VisitSource(*SourceOp) error
	VisitFilter(*FilterOp) error
	VisitMap(*MapOp) error
	VisitWindow(*WindowOp) error
	VisitJoin(*JoinOp) error
	VisitSink(*SinkOp) error
	VisitNetworkSource(*NetworkSourceOp) error
	VisitNetworkSink(*NetworkSinkOp) error
}

type base struct {
	id ids.OperatorID
}

func (b base) ID() ids.OperatorID { return b.id }

// SourceOp reads from an external, opaque source connector.
type SourceOp struct {
	base
	SourceDescriptor string
	OriginID         ids.OriginID
}

func NewSource(id ids.OperatorID, desc string, origin ids.OriginID) *SourceOp {
	return &SourceOp{base: base{id}, SourceDescriptor: desc, OriginID: origin}
}
func (o *SourceOp) Kind() Kind              { return KindSource }
func (o *SourceOp) Accept(v Visitor) error  { return v.VisitSource(o) }

// FilterOp evaluates an opaque predicate expression against each tuple.
type FilterOp struct {
	base
	Predicate string
}

func NewFilter(id ids.OperatorID, predicate string) *FilterOp {
	return &FilterOp{base: base{id}, Predicate: predicate}
}
func (o *FilterOp) Kind() Kind             { return KindFilter }
func (o *FilterOp) Accept(v Visitor) error { return v.VisitFilter(o) }

// MapOp projects/transforms each tuple via an opaque expression.
type MapOp struct {
	base
	Expression string
}

func NewMap(id ids.OperatorID, expr string) *MapOp {
	return &MapOp{base: base{id}, Expression: expr}
}
func (o *MapOp) Kind() Kind             { return KindMap }
func (o *MapOp) Accept(v Visitor) error { return v.VisitMap(o) }

// WindowOp groups tuples into time- or count-based slices for aggregation.
type WindowOp struct {
	base
	SizeMillis  int64
	SlideMillis int64
	Aggregate   string
}

func NewWindow(id ids.OperatorID, size, slide int64, aggregate string) *WindowOp {
	return &WindowOp{base: base{id}, SizeMillis: size, SlideMillis: slide, Aggregate: aggregate}
}
func (o *WindowOp) Kind() Kind             { return KindWindow }
func (o *WindowOp) Accept(v Visitor) error { return v.VisitWindow(o) }

// JoinOp is an N-ary operator joining two or more upstream streams.
type JoinOp struct {
	base
	Condition string
}

func NewJoin(id ids.OperatorID, condition string) *JoinOp {
	return &JoinOp{base: base{id}, Condition: condition}
}
func (o *JoinOp) Kind() Kind             { return KindJoin }
func (o *JoinOp) Accept(v Visitor) error { return v.VisitJoin(o) }

// SinkOp writes to an external, opaque sink connector.
type SinkOp struct {
	base
	SinkDescriptor string
}

func NewSink(id ids.OperatorID, desc string) *SinkOp {
	return &SinkOp{base: base{id}, SinkDescriptor: desc}
}
func (o *SinkOp) Kind() Kind             { return KindSink }
func (o *SinkOp) Accept(v Visitor) error { return v.VisitSink(o) }

// NetworkSinkOp is inserted by the decomposer on the upstream side of a
// cross-node edge; it serializes buffers to the partition's peer.
type NetworkSinkOp struct {
	base
	Partition ids.NesPartition
	TargetNode ids.NodeID
}

func NewNetworkSink(id ids.OperatorID, partition ids.NesPartition, target ids.NodeID) *NetworkSinkOp {
	return &NetworkSinkOp{base: base{id}, Partition: partition, TargetNode: target}
}
func (o *NetworkSinkOp) Kind() Kind             { return KindNetworkSink }
func (o *NetworkSinkOp) Accept(v Visitor) error { return v.VisitNetworkSink(o) }

// NetworkSourceOp is inserted by the decomposer on the downstream side of
// a cross-node edge; it deserializes buffers matching Partition.
type NetworkSourceOp struct {
	base
	Partition ids.NesPartition
	SourceNode ids.NodeID
}

func NewNetworkSource(id ids.OperatorID, partition ids.NesPartition, source ids.NodeID) *NetworkSourceOp {
	return &NetworkSourceOp{base: base{id}, Partition: partition, SourceNode: source}
}
func (o *NetworkSourceOp) Kind() Kind             { return KindNetworkSource }
func (o *NetworkSourceOp) Accept(v Visitor) error { return v.VisitNetworkSource(o) }
