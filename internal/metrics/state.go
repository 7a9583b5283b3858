package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/nebula-stream/nebula/internal/globalplan"
)

const (
	stateDir  = ".nebula"
	stateFile = "state.json"
)

// NodeState is everything `nebula status` needs to describe a node without
// a live connection to it: the last metrics Snapshot, and — for a node
// acting as coordinator — the GlobalExecutionPlan's observability view
// (spec.md §4.8), so a restarted coordinator's operator can see what was
// placed where before the process died, not just its throughput counters.
type NodeState struct {
	Snapshot   Snapshot        `json:"snapshot"`
	GlobalPlan json.RawMessage `json:"globalPlan,omitempty"`
}

// StatePersister periodically writes the current NodeState to a JSON file
// so that `nebula status` can read it even when no worker is running.
type StatePersister struct {
	collector *Collector
	plan      *globalplan.Plan
	logger    zerolog.Logger
	path      string
	done      chan struct{}
}

// NewStatePersister creates a persister that writes to ~/.nebula/state.json.
// plan may be nil for a node with no coordinator role, in which case only
// the metrics Snapshot half of NodeState is ever populated.
func NewStatePersister(collector *Collector, plan *globalplan.Plan, logger zerolog.Logger) (*StatePersister, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(home, stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &StatePersister{
		collector: collector,
		plan:      plan,
		logger:    logger.With().Str("component", "state-persister").Logger(),
		path:      filepath.Join(dir, stateFile),
		done:      make(chan struct{}),
	}, nil
}

// Start begins periodic state file writes every 2 seconds.
func (sp *StatePersister) Start() {
	go sp.loop()
}

// Stop halts the persister and writes a final snapshot.
func (sp *StatePersister) Stop() {
	select {
	case <-sp.done:
	default:
		close(sp.done)
	}
	sp.write() // Final write.
}

// Path returns the state file path.
func (sp *StatePersister) Path() string {
	return sp.path
}

func (sp *StatePersister) loop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-sp.done:
			return
		case <-ticker.C:
			sp.write()
		}
	}
}

func (sp *StatePersister) write() {
	state := NodeState{Snapshot: sp.collector.Snapshot()}
	if sp.plan != nil {
		planJSON, err := sp.plan.MarshalJSON()
		if err != nil {
			sp.logger.Err(err).Msg("marshal global plan")
		} else {
			state.GlobalPlan = planJSON
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		sp.logger.Err(err).Msg("marshal state")
		return
	}
	// Write to temp file then rename for atomicity.
	tmp := sp.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		sp.logger.Err(err).Msg("write state file")
		return
	}
	if err := os.Rename(tmp, sp.path); err != nil {
		sp.logger.Err(err).Msg("rename state file")
	}
}

// ReadStateFile reads the last-persisted NodeState from ~/.nebula/state.json.
func ReadStateFile() (*NodeState, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, stateDir, stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state NodeState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GlobalPlanNodeCount reports how many execution nodes the persisted
// GlobalExecutionPlan view covers, or 0 if this node had no coordinator
// role (or nothing was ever persisted).
func (s *NodeState) GlobalPlanNodeCount() int {
	if len(s.GlobalPlan) == 0 {
		return 0
	}
	var view struct {
		Nodes map[string]json.RawMessage `json:"nodes"`
	}
	if err := json.Unmarshal(s.GlobalPlan, &view); err != nil {
		return 0
	}
	return len(view.Nodes)
}
