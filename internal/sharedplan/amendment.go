package sharedplan

import (
	"sort"

	"github.com/nebula-stream/nebula/internal/logical"
	"github.com/nebula-stream/nebula/internal/placement"
	"github.com/nebula-stream/nebula/internal/topology"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// nodeSubPlanKey dedups DeploymentContexts the way the original amendment
// phase does: one context per (node, subplan) pair even when both the
// removal and addition half of an entry touch the same pair.
type nodeSubPlanKey struct {
	node  ids.NodeID
	subID ids.DecomposedSubPlanID
}

// Amendment applies every unprocessed ChangeLogEntry in timestamp order:
// operators left in ToBeRemoved/ToBeReplaced within the entry's frontier
// are torn down first, then operators left in ToBePlaced are handed to
// strategy. externalPins supplies the physical node for any operator that
// is itself a source or a sink — those are registered out-of-band (the
// control plane's physical-source/sink registration), not computed by
// placement. Contexts from both halves are deduplicated by (node,
// subplan). A failing entry is marked failed and the plan latches to
// PartiallyProcessed, but later entries are still attempted.
func (s *SharedQueryPlan) Amendment(topo *topology.Topology, strategy placement.Strategy, externalPins map[ids.OperatorID]ids.NodeID) ([]DeploymentContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.SliceStable(s.changeLog, func(i, j int) bool { return s.changeLog[i].Timestamp < s.changeLog[j].Timestamp })

	seen := make(map[nodeSubPlanKey]struct{})
	var contexts []DeploymentContext
	anyFailure := false

	for _, entry := range s.changeLog {
		if entry.processed {
			continue
		}
		if err := s.applyEntry(entry, topo, strategy, externalPins, seen, &contexts); err != nil {
			entry.failed = true
			anyFailure = true
			continue
		}
		entry.processed = true
		entry.failed = false
	}

	if anyFailure {
		s.status = PartiallyProcessed
	} else if s.status == Created {
		s.status = Processed
	}
	return contexts, nil
}

func (s *SharedQueryPlan) applyEntry(entry *ChangeLogEntry, topo *topology.Topology, strategy placement.Strategy, externalPins map[ids.OperatorID]ids.NodeID, seen map[nodeSubPlanKey]struct{}, contexts *[]DeploymentContext) error {
	for _, id := range entry.Frontier.Downstream {
		a, err := s.Plan.Annotation(id)
		if err != nil {
			continue
		}
		if a.State != logical.ToBeRemoved && a.State != logical.ToBeReplaced {
			continue
		}
		if a.HasPin {
			if err := topo.Release(a.PinnedNodeID); err != nil {
				return err
			}
			s.appendContext(contexts, seen, a.PinnedNodeID, id, Undeploy)
		}
		if err := s.Plan.SetState(id, logical.Removed); err != nil {
			return err
		}
	}

	var toPlace []ids.OperatorID
	for _, id := range entry.Frontier.Downstream {
		a, err := s.Plan.Annotation(id)
		if err != nil {
			continue
		}
		if a.State == logical.ToBePlaced {
			toPlace = append(toPlace, id)
		}
	}
	if len(toPlace) == 0 {
		return nil
	}

	pinnedSources := make(map[ids.OperatorID]ids.NodeID)
	pinnedSinks := make(map[ids.OperatorID]ids.NodeID)
	for _, up := range entry.Frontier.Upstream {
		if a, err := s.Plan.Annotation(up); err == nil && a.HasPin {
			pinnedSources[up] = a.PinnedNodeID
		}
	}
	for _, id := range toPlace {
		op, err := s.Plan.Operator(id)
		if err != nil {
			continue
		}
		if op.Kind() == logical.KindSource {
			if node, ok := externalPins[id]; ok {
				pinnedSources[id] = node
			}
		}
		if len(s.Plan.Children(id)) == 0 {
			if node, ok := externalPins[id]; ok {
				pinnedSinks[id] = node
			}
		}
	}

	req := placement.Request{
		Plan:          s.Plan,
		Topology:      topo,
		PinnedSources: pinnedSources,
		PinnedSinks:   pinnedSinks,
	}
	if err := strategy.Place(req); err != nil {
		return err
	}
	s.nextVersion++

	for _, id := range toPlace {
		a, err := s.Plan.Annotation(id)
		if err != nil || !a.HasPin {
			continue
		}
		s.appendContext(contexts, seen, a.PinnedNodeID, id, Deploy)
	}
	return nil
}

func (s *SharedQueryPlan) appendContext(contexts *[]DeploymentContext, seen map[nodeSubPlanKey]struct{}, node ids.NodeID, opID ids.OperatorID, action Action) {
	subID := ids.DecomposedSubPlanID(opID)
	key := nodeSubPlanKey{node, subID}
	if _, ok := seen[key]; ok {
		return
	}
	seen[key] = struct{}{}
	*contexts = append(*contexts, DeploymentContext{NodeID: node, SubPlanID: subID, Version: s.nextVersion, Action: action})
}
