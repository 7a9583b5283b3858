package decompose_test

import (
	"testing"

	"github.com/nebula-stream/nebula/internal/decompose"
	"github.com/nebula-stream/nebula/internal/logical"
	"github.com/nebula-stream/nebula/internal/topology"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// buildS2Topology mirrors spec.md's S2 scenario: n2 (source) -- n3 (transit)
// -- n1 (sink), with the filter pinned to n1.
func buildS2Topology(t *testing.T) *topology.Topology {
	t.Helper()
	topo := topology.New()
	topo.AddNode(1, "n1", 4000, 5000, 4, true)
	topo.AddNode(2, "n2", 4000, 5000, 4, false)
	topo.AddNode(3, "n3", 4000, 5000, 4, false)
	topo.AddLink(1, 3)
	topo.AddLink(3, 2)
	return topo
}

func buildS2Plan(t *testing.T) *logical.Plan {
	t.Helper()
	plan := logical.New()
	src := logical.NewSource(1, "csv", ids.OriginID(1))
	filt := logical.NewFilter(2, "f1 == 5")
	sink := logical.NewSink(3, "tcp")
	plan.AddOperator(src)
	plan.AddOperator(filt)
	plan.AddOperator(sink)
	plan.Connect(1, 2)
	plan.Connect(2, 3)

	plan.Pin(1, 2) // source on n2
	plan.Pin(2, 1) // filter pinned to n1, per S2
	plan.Pin(3, 1) // sink on n1
	return plan
}

func TestDecompose_S2_CrossNodeNetworkPair(t *testing.T) {
	topo := buildS2Topology(t)
	plan := buildS2Plan(t)

	subplans, err := decompose.Decompose(plan, topo, 1)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	n2 := subplans[2]
	n3 := subplans[3]
	n1 := subplans[1]
	if n2 == nil || n3 == nil || n1 == nil {
		t.Fatalf("expected a subplan for every node, got %+v", subplans)
	}

	// n2: source + network-sink.
	if len(n2.Operators) != 1 || len(n2.Networks) != 1 {
		t.Fatalf("unexpected n2 subplan: ops=%v networks=%d", n2.Operators, len(n2.Networks))
	}
	if n2.Networks[0].Kind() != logical.KindNetworkSink {
		t.Fatalf("expected n2's network op to be a sink, got %v", n2.Networks[0].Kind())
	}

	// n3: transit, hosts no logical operator, bridge source+sink pair.
	if len(n3.Operators) != 0 || len(n3.Networks) != 2 {
		t.Fatalf("unexpected n3 subplan: ops=%v networks=%d", n3.Operators, len(n3.Networks))
	}

	// n1: network-source + filter + sink.
	if len(n1.Operators) != 2 || len(n1.Networks) != 1 {
		t.Fatalf("unexpected n1 subplan: ops=%v networks=%d", n1.Operators, len(n1.Networks))
	}
	if n1.Networks[0].Kind() != logical.KindNetworkSource {
		t.Fatalf("expected n1's network op to be a source, got %v", n1.Networks[0].Kind())
	}
}

func TestDecompose_PartitionsMatchAcrossPair(t *testing.T) {
	topo := buildS2Topology(t)
	plan := buildS2Plan(t)

	subplans, err := decompose.Decompose(plan, topo, 1)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	// Path n2 -> n3 -> n1 is two physical hops: (n2,n3) and (n3,n1). Each
	// hop is its own matching sink/source pair, and n3's bridge pair for
	// one hop must not share a partition with the other hop.
	hop1Sink := subplans[2].Networks[0].(*logical.NetworkSinkOp)
	hop1Source := subplans[3].Networks[0].(*logical.NetworkSourceOp)
	if hop1Sink.Partition != hop1Source.Partition {
		t.Fatalf("expected n2's sink and n3's source (hop n2->n3) to share a partition, got sink=%+v source=%+v", hop1Sink.Partition, hop1Source.Partition)
	}

	hop2Sink := subplans[3].Networks[1].(*logical.NetworkSinkOp)
	hop2Source := subplans[1].Networks[0].(*logical.NetworkSourceOp)
	if hop2Sink.Partition != hop2Source.Partition {
		t.Fatalf("expected n3's sink and n1's source (hop n3->n1) to share a partition, got sink=%+v source=%+v", hop2Sink.Partition, hop2Source.Partition)
	}

	if hop1Sink.Partition == hop2Sink.Partition {
		t.Fatalf("expected the two hops to use distinct NesPartitions, both got %+v", hop1Sink.Partition)
	}
	if hop1Source.Partition == hop2Source.Partition {
		t.Fatalf("expected n3's bridge source and sink to use distinct NesPartitions, both got %+v", hop1Source.Partition)
	}
}

func TestDecompose_UnpinnedOperator_Fails(t *testing.T) {
	topo := buildS2Topology(t)
	plan := logical.New()
	plan.AddOperator(logical.NewSource(1, "csv", ids.OriginID(1)))

	if _, err := decompose.Decompose(plan, topo, 1); err != decompose.ErrUnpinnedOperator {
		t.Fatalf("expected ErrUnpinnedOperator, got %v", err)
	}
}

func TestDecompose_SameNodeEdge_NoNetworkOperators(t *testing.T) {
	topo := topology.New()
	topo.AddNode(1, "n1", 4000, 5000, 4, true)

	plan := logical.New()
	src := logical.NewSource(1, "csv", ids.OriginID(1))
	sink := logical.NewSink(2, "tcp")
	plan.AddOperator(src)
	plan.AddOperator(sink)
	plan.Connect(1, 2)
	plan.Pin(1, 1)
	plan.Pin(2, 1)

	subplans, err := decompose.Decompose(plan, topo, 1)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(subplans) != 1 || len(subplans[1].Networks) != 0 {
		t.Fatalf("expected no network operators for a same-node edge, got %+v", subplans)
	}
}
