package globalplan_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nebula-stream/nebula/internal/globalplan"
	"github.com/nebula-stream/nebula/pkg/ids"
)

func TestAddSubPlan_And_GetSubPlans(t *testing.T) {
	p := globalplan.New()
	p.AddExecutionNode(1)

	if err := p.AddSubPlan(1, 10, 100); err != nil {
		t.Fatalf("AddSubPlan: %v", err)
	}
	got := p.GetSubPlans(1, 10)
	if len(got) != 1 || got[0].SubPlanID != 100 {
		t.Fatalf("unexpected subplans: %+v", got)
	}
}

func TestAddSubPlan_UnknownNode(t *testing.T) {
	p := globalplan.New()
	if err := p.AddSubPlan(99, 1, 1); !errors.Is(err, globalplan.ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestNodesForQuery_ReverseIndex(t *testing.T) {
	p := globalplan.New()
	p.AddExecutionNode(1)
	p.AddExecutionNode(2)
	p.AddSubPlan(1, 10, 100)
	p.AddSubPlan(2, 10, 101)

	nodes := p.NodesForQuery(10)
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %v", nodes)
	}
}

func TestRemoveSubPlan_ClearsReverseIndexWhenEmpty(t *testing.T) {
	p := globalplan.New()
	p.AddExecutionNode(1)
	p.AddSubPlan(1, 10, 100)

	if err := p.RemoveSubPlan(1, 10, 100); err != nil {
		t.Fatalf("RemoveSubPlan: %v", err)
	}
	if nodes := p.NodesForQuery(10); len(nodes) != 0 {
		t.Fatalf("expected no nodes left for query 10, got %v", nodes)
	}
}

func TestRemoveSubPlan_NotFound(t *testing.T) {
	p := globalplan.New()
	p.AddExecutionNode(1)
	if err := p.RemoveSubPlan(1, 10, 999); !errors.Is(err, globalplan.ErrSubPlanNotFound) {
		t.Fatalf("expected ErrSubPlanNotFound, got %v", err)
	}
}

func TestRemoveExecutionNode(t *testing.T) {
	p := globalplan.New()
	p.AddExecutionNode(1)
	p.AddExecutionNode(2)
	if err := p.AddAsParent(2, 1); err != nil {
		t.Fatalf("AddAsParent: %v", err)
	}
	if err := p.AddSubPlan(2, 10, 100); err != nil {
		t.Fatalf("AddSubPlan: %v", err)
	}

	if err := p.RemoveExecutionNode(2); err != nil {
		t.Fatalf("RemoveExecutionNode: %v", err)
	}
	if err := p.AddSubPlan(2, 10, 101); !errors.Is(err, globalplan.ErrNodeNotFound) {
		t.Fatalf("expected node 2 gone, got err=%v", err)
	}
	if nodes := p.NodesForQuery(10); len(nodes) != 0 {
		t.Fatalf("expected query 10's reverse index cleared, got %v", nodes)
	}
}

func TestRemoveExecutionNode_UnknownNode(t *testing.T) {
	p := globalplan.New()
	if err := p.RemoveExecutionNode(99); !errors.Is(err, globalplan.ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestAddAsParent_LinksNodes(t *testing.T) {
	p := globalplan.New()
	p.AddExecutionNode(1)
	p.AddExecutionNode(2)
	if err := p.AddAsParent(2, 1); err != nil {
		t.Fatalf("AddAsParent: %v", err)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected non-empty JSON view")
	}
}
