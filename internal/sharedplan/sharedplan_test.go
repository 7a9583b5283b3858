package sharedplan_test

import (
	"testing"

	"github.com/nebula-stream/nebula/internal/logical"
	"github.com/nebula-stream/nebula/internal/placement"
	"github.com/nebula-stream/nebula/internal/sharedplan"
	"github.com/nebula-stream/nebula/internal/topology"
	"github.com/nebula-stream/nebula/pkg/ids"
)

func sourceFilterSinkQuery(srcDesc, predicate, sinkDesc string) *logical.Plan {
	q := logical.New()
	src := logical.NewSource(1, srcDesc, ids.OriginID(1))
	filt := logical.NewFilter(2, predicate)
	sink := logical.NewSink(3, sinkDesc)
	q.AddOperator(src)
	q.AddOperator(filt)
	q.AddOperator(sink)
	q.Connect(1, 2)
	q.Connect(2, 3)
	return q
}

func TestAddQuery_FirstQuery_NoContainment(t *testing.T) {
	spq := sharedplan.New(1)
	q := sourceFilterSinkQuery("kafka", "f1 == 5", "tcp")

	containment, err := spq.AddQuery(q, ids.QueryID(10), 100)
	if err != nil {
		t.Fatalf("AddQuery: %v", err)
	}
	if containment != sharedplan.NoContainment {
		t.Fatalf("expected NoContainment, got %v", containment)
	}
	if len(spq.Plan.Operators()) != 3 {
		t.Fatalf("expected 3 merged operators, got %d", len(spq.Plan.Operators()))
	}
	log := spq.ChangeLog()
	if len(log) != 1 || len(log[0].Frontier.Downstream) != 3 {
		t.Fatalf("expected one change-log entry covering all 3 new operators, got %+v", log)
	}
}

func TestAddQuery_IdenticalSecondQuery_Equality(t *testing.T) {
	spq := sharedplan.New(1)
	q1 := sourceFilterSinkQuery("kafka", "f1 == 5", "tcp")
	if _, err := spq.AddQuery(q1, ids.QueryID(10), 100); err != nil {
		t.Fatalf("AddQuery(q1): %v", err)
	}

	q2 := sourceFilterSinkQuery("kafka", "f1 == 5", "tcp")
	containment, err := spq.AddQuery(q2, ids.QueryID(11), 200)
	if err != nil {
		t.Fatalf("AddQuery(q2): %v", err)
	}
	if containment != sharedplan.Equality {
		t.Fatalf("expected Equality, got %v", containment)
	}
	if len(spq.Plan.Operators()) != 3 {
		t.Fatalf("expected the identical query to add no new operators, got %d", len(spq.Plan.Operators()))
	}
	if len(spq.ChangeLog()) != 1 {
		t.Fatalf("expected no new change-log entry for an identical query, got %d entries", len(spq.ChangeLog()))
	}
}

func TestAddQuery_DivergesDownstream_RightContained(t *testing.T) {
	spq := sharedplan.New(1)
	q1 := logical.New()
	q1.AddOperator(logical.NewSource(1, "kafka", ids.OriginID(1)))
	q1.AddOperator(logical.NewSink(2, "tcp-a"))
	q1.Connect(1, 2)
	if _, err := spq.AddQuery(q1, ids.QueryID(10), 100); err != nil {
		t.Fatalf("AddQuery(q1): %v", err)
	}

	q2 := logical.New()
	q2.AddOperator(logical.NewSource(1, "kafka", ids.OriginID(1)))
	q2.AddOperator(logical.NewFilter(2, "f1 == 5"))
	q2.AddOperator(logical.NewSink(3, "tcp-b"))
	q2.Connect(1, 2)
	q2.Connect(2, 3)

	containment, err := spq.AddQuery(q2, ids.QueryID(11), 200)
	if err != nil {
		t.Fatalf("AddQuery(q2): %v", err)
	}
	if containment != sharedplan.RightContained {
		t.Fatalf("expected RightContained, got %v", containment)
	}
	// Source reused, filter+sink newly added.
	if len(spq.Plan.Operators()) != 4 {
		t.Fatalf("expected 4 merged operators (shared source + 2 sinks + 1 filter), got %d", len(spq.Plan.Operators()))
	}
}

func TestAddQuery_ShorterSecondQuery_LeftContained(t *testing.T) {
	spq := sharedplan.New(1)
	q1 := sourceFilterSinkQuery("kafka", "f1 == 5", "tcp")
	if _, err := spq.AddQuery(q1, ids.QueryID(10), 100); err != nil {
		t.Fatalf("AddQuery(q1): %v", err)
	}

	// q2 ends at the filter: its sink is structurally identical to q1's
	// filter, which already has a child (q1's sink) in the merged plan.
	q2 := logical.New()
	q2.AddOperator(logical.NewSource(1, "kafka", ids.OriginID(1)))
	q2.AddOperator(logical.NewFilter(2, "f1 == 5"))
	q2.Connect(1, 2)

	containment, err := spq.AddQuery(q2, ids.QueryID(11), 200)
	if err != nil {
		t.Fatalf("AddQuery(q2): %v", err)
	}
	if containment != sharedplan.LeftContained {
		t.Fatalf("expected LeftContained, got %v", containment)
	}
	if len(spq.ChangeLog()) != 1 {
		t.Fatalf("expected no new change-log entry, got %d", len(spq.ChangeLog()))
	}
}

func TestRemoveQuery_UnknownID(t *testing.T) {
	spq := sharedplan.New(1)
	if err := spq.RemoveQuery(999); err != sharedplan.ErrQueryNotFound {
		t.Fatalf("expected ErrQueryNotFound, got %v", err)
	}
}

func TestRemoveQuery_ThenIsEmpty(t *testing.T) {
	spq := sharedplan.New(1)
	q := sourceFilterSinkQuery("kafka", "f1 == 5", "tcp")
	if _, err := spq.AddQuery(q, ids.QueryID(10), 100); err != nil {
		t.Fatalf("AddQuery: %v", err)
	}
	if spq.IsEmpty() {
		t.Fatalf("expected non-empty plan after AddQuery")
	}
	if err := spq.RemoveQuery(10); err != nil {
		t.Fatalf("RemoveQuery: %v", err)
	}
	if !spq.IsEmpty() {
		t.Fatalf("expected empty plan after removing the only query")
	}
}

func TestClear_ResetsToCreated(t *testing.T) {
	spq := sharedplan.New(1)
	q := sourceFilterSinkQuery("kafka", "f1 == 5", "tcp")
	spq.AddQuery(q, ids.QueryID(10), 100)
	spq.Clear()
	if !spq.IsEmpty() {
		t.Fatalf("expected Clear to empty the plan")
	}
	if spq.Status() != sharedplan.Created {
		t.Fatalf("expected status Created after Clear, got %v", spq.Status())
	}
	if len(spq.ChangeLog()) != 0 {
		t.Fatalf("expected empty change log after Clear")
	}
}

// TestAmendment_ChangeLogDeltaSum checks spec.md §8's change-log property:
// summed over every processed entry, the number of operators placed,
// replaced, or removed equals the total delta the entry set describes —
// here, two independently merged queries each contribute one entry, and
// every operator in each entry's frontier yields exactly one deployment
// context.
func TestAmendment_ChangeLogDeltaSum(t *testing.T) {
	spq := sharedplan.New(1)
	q1 := sourceFilterSinkQuery("kafka-a", "f1 == 5", "tcp-a")
	if _, err := spq.AddQuery(q1, ids.QueryID(10), 100); err != nil {
		t.Fatalf("AddQuery(q1): %v", err)
	}
	q2 := sourceFilterSinkQuery("kafka-b", "f1 == 9", "tcp-b")
	if _, err := spq.AddQuery(q2, ids.QueryID(11), 200); err != nil {
		t.Fatalf("AddQuery(q2): %v", err)
	}

	topo := topology.New()
	topo.AddNode(1, "coordinator", 4000, 5000, 4, true)
	topo.AddNode(2, "worker-a", 4000, 5000, 4, false)
	topo.AddNode(3, "worker-b", 4000, 5000, 4, false)
	topo.AddLink(1, 2)
	topo.AddLink(1, 3)

	ops := spq.Plan.Operators()
	if len(ops) != 6 {
		t.Fatalf("expected 6 merged operators across both queries, got %d", len(ops))
	}
	externalPins := map[ids.OperatorID]ids.NodeID{
		ops[0]: 2, ops[2]: 1, // q1 source/sink
		ops[3]: 3, ops[5]: 1, // q2 source/sink
	}

	contexts, err := spq.Amendment(topo, placement.BottomUp{}, externalPins)
	if err != nil {
		t.Fatalf("Amendment: %v", err)
	}

	log := spq.ChangeLog()
	wantDelta := 0
	for _, entry := range log {
		if !entry.Processed() || entry.Failed() {
			t.Fatalf("expected every entry processed and not failed, got %+v", entry)
		}
		wantDelta += len(entry.Frontier.Downstream)
	}
	if len(contexts) != wantDelta {
		t.Fatalf("delta-sum mismatch: %d deployment contexts, want %d (sum of entry frontiers)", len(contexts), wantDelta)
	}
}

// TestScenario_S3_TwoQueryMergeSharedPrefix is the two-query merge scenario:
// query A and query B share an identical source+filter prefix and diverge
// only at the sink, so the merged plan keeps one source+filter feeding two
// sink branches, and the second AddQuery's change-log entry touches only
// the new sink.
func TestScenario_S3_TwoQueryMergeSharedPrefix(t *testing.T) {
	spq := sharedplan.New(1)
	qA := sourceFilterSinkQuery("kafka", "x > 10", "sinkA")
	if _, err := spq.AddQuery(qA, ids.QueryID(10), 100); err != nil {
		t.Fatalf("AddQuery(qA): %v", err)
	}

	qB := sourceFilterSinkQuery("kafka", "x > 10", "sinkB")
	containment, err := spq.AddQuery(qB, ids.QueryID(11), 200)
	if err != nil {
		t.Fatalf("AddQuery(qB): %v", err)
	}
	if containment != sharedplan.RightContained {
		t.Fatalf("expected RightContained (shared source+filter, new sink), got %v", containment)
	}

	ops := spq.Plan.Operators()
	if len(ops) != 4 {
		t.Fatalf("expected one shared source+filter plus two sinks (4 operators), got %d", len(ops))
	}
	sharedFilter := ops[1]
	if children := spq.Plan.Children(sharedFilter); len(children) != 2 {
		t.Fatalf("expected the shared filter to feed both sink branches, got %d children", len(children))
	}

	log := spq.ChangeLog()
	if len(log) != 2 {
		t.Fatalf("expected one change-log entry per AddQuery call, got %d", len(log))
	}
	if len(log[1].Frontier.Downstream) != 1 {
		t.Fatalf("expected qB's entry to touch only the new sink, got %+v", log[1].Frontier)
	}
}

func buildAmendmentTopology() *topology.Topology {
	topo := topology.New()
	topo.AddNode(1, "coordinator", 4000, 5000, 4, true)
	topo.AddNode(2, "worker", 4000, 5000, 4, false)
	topo.AddLink(1, 2)
	return topo
}

func TestAmendment_PlacesPendingEntry(t *testing.T) {
	spq := sharedplan.New(1)
	q := sourceFilterSinkQuery("kafka", "f1 == 5", "tcp")
	if _, err := spq.AddQuery(q, ids.QueryID(10), 100); err != nil {
		t.Fatalf("AddQuery: %v", err)
	}

	topo := buildAmendmentTopology()
	mergedSrc := spq.Plan.Operators()[0]
	mergedSink := spq.Plan.Operators()[len(spq.Plan.Operators())-1]
	externalPins := map[ids.OperatorID]ids.NodeID{
		mergedSrc:  2,
		mergedSink: 1,
	}

	contexts, err := spq.Amendment(topo, placement.BottomUp{}, externalPins)
	if err != nil {
		t.Fatalf("Amendment: %v", err)
	}
	if len(contexts) != 3 {
		t.Fatalf("expected 3 deployment contexts, got %d: %+v", len(contexts), contexts)
	}
	for _, c := range contexts {
		if c.Action != sharedplan.Deploy {
			t.Fatalf("expected every context to be a Deploy, got %v", c.Action)
		}
	}
	if spq.Status() != sharedplan.Processed {
		t.Fatalf("expected status Processed, got %v", spq.Status())
	}
	log := spq.ChangeLog()
	if !log[0].Processed() || log[0].Failed() {
		t.Fatalf("expected the entry to be marked processed and not failed, got %+v", log[0])
	}
}

func TestAmendment_FailureMarksPartiallyProcessed(t *testing.T) {
	spq := sharedplan.New(1)
	q := sourceFilterSinkQuery("kafka", "f1 == 5", "tcp")
	if _, err := spq.AddQuery(q, ids.QueryID(10), 100); err != nil {
		t.Fatalf("AddQuery: %v", err)
	}

	topo := topology.New() // no nodes at all: placement cannot pin anything.
	contexts, err := spq.Amendment(topo, placement.BottomUp{}, nil)
	if err != nil {
		t.Fatalf("Amendment should record the failure on the entry, not return it: %v", err)
	}
	if len(contexts) != 0 {
		t.Fatalf("expected no contexts on failure, got %d", len(contexts))
	}
	if spq.Status() != sharedplan.PartiallyProcessed {
		t.Fatalf("expected PartiallyProcessed, got %v", spq.Status())
	}
	log := spq.ChangeLog()
	if !log[0].Failed() || log[0].Processed() {
		t.Fatalf("expected the entry marked failed and not processed, got %+v", log[0])
	}
}
