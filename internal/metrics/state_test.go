package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nebula-stream/nebula/internal/globalplan"
	"github.com/nebula-stream/nebula/pkg/ids"
)

func TestStatePersister_WriteAndRead(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.SetActiveQueries(2)
	c.RecordProcessed(ids.QueryID(1), 50, 5)

	tmpDir := t.TempDir()
	sp := &StatePersister{
		collector: c,
		logger:    zerolog.Nop(),
		path:      filepath.Join(tmpDir, "state.json"),
		done:      make(chan struct{}),
	}

	sp.write()

	data, err := os.ReadFile(sp.path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}

	var state NodeState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if state.Snapshot.ActiveQueries != 2 {
		t.Errorf("ActiveQueries = %d, want 2", state.Snapshot.ActiveQueries)
	}
	if state.Snapshot.ProcessedTuplesTotal != 50 {
		t.Errorf("ProcessedTuplesTotal = %d, want 50", state.Snapshot.ProcessedTuplesTotal)
	}
	if len(state.GlobalPlan) != 0 {
		t.Errorf("expected no GlobalPlan with a nil plan, got %s", state.GlobalPlan)
	}
}

func TestStatePersister_PersistsGlobalPlan(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	plan := globalplan.New()
	plan.AddExecutionNode(ids.NodeID(1))
	plan.AddExecutionNode(ids.NodeID(2))
	if err := plan.AddSubPlan(ids.NodeID(1), ids.QueryID(7), ids.DecomposedSubPlanID(1)); err != nil {
		t.Fatalf("AddSubPlan: %v", err)
	}

	tmpDir := t.TempDir()
	sp := &StatePersister{
		collector: c,
		plan:      plan,
		logger:    zerolog.Nop(),
		path:      filepath.Join(tmpDir, "state.json"),
		done:      make(chan struct{}),
	}
	sp.write()

	data, err := os.ReadFile(sp.path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	var state NodeState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if n := state.GlobalPlanNodeCount(); n != 2 {
		t.Errorf("GlobalPlanNodeCount() = %d, want 2", n)
	}
}

func TestStatePersister_AtomicWrite(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "state.json")
	sp := &StatePersister{
		collector: c,
		logger:    zerolog.Nop(),
		path:      path,
		done:      make(chan struct{}),
	}

	sp.write()

	tmpFile := path + ".tmp"
	if _, err := os.Stat(tmpFile); !os.IsNotExist(err) {
		t.Error("temporary file should not exist after write")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file should exist: %v", err)
	}
}

func TestStatePersister_StartStop(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	tmpDir := t.TempDir()
	sp := &StatePersister{
		collector: c,
		logger:    zerolog.Nop(),
		path:      filepath.Join(tmpDir, "state.json"),
		done:      make(chan struct{}),
	}

	sp.Start()
	time.Sleep(100 * time.Millisecond)
	sp.Stop()

	// Double stop should not panic.
	sp.Stop()
}

func TestSnapshotJSON(t *testing.T) {
	snap := Snapshot{
		Timestamp:            time.Now(),
		QueueDepth:           4,
		GlobalWatermark:      99,
		ActiveQueries:        1,
		ProcessedTuplesTotal: 10,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if decoded.QueueDepth != 4 {
		t.Errorf("QueueDepth = %d, want 4", decoded.QueueDepth)
	}
	if decoded.ProcessedTuplesTotal != 10 {
		t.Errorf("ProcessedTuplesTotal = %d, want 10", decoded.ProcessedTuplesTotal)
	}
}
