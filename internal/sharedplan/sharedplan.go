// Package sharedplan implements the SharedQueryPlan and its ChangeLog
// (C12): merging structurally equivalent subqueries into one deployable
// plan and recording the incremental deltas placement still needs to act
// on (spec.md §4.11).
package sharedplan

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/nebula-stream/nebula/internal/logical"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// Containment classifies how an incoming query's operator graph relates to
// what is already present in the shared plan, mirroring the original
// addQuery's merge decision.
type Containment int

const (
	NoContainment Containment = iota
	Equality
	LeftContained
	RightContained
)

func (c Containment) String() string {
	switch c {
	case NoContainment:
		return "NoContainment"
	case Equality:
		return "Equality"
	case LeftContained:
		return "LeftContained"
	case RightContained:
		return "RightContained"
	default:
		return "Unknown"
	}
}

// Status is the shared plan's amendment lifecycle.
type Status int

const (
	Created Status = iota
	Processed
	PartiallyProcessed
	Stopped
)

func (s Status) String() string {
	switch s {
	case Created:
		return "Created"
	case Processed:
		return "Processed"
	case PartiallyProcessed:
		return "PartiallyProcessed"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Action is what the amendment phase asks one node to do with a subplan.
type Action int

const (
	Deploy Action = iota
	Undeploy
	Update
)

func (a Action) String() string {
	switch a {
	case Deploy:
		return "Deploy"
	case Undeploy:
		return "Undeploy"
	case Update:
		return "Update"
	default:
		return "Unknown"
	}
}

// Frontier is the (upstream, downstream) boundary of operators a
// ChangeLogEntry describes — the region touched by a merge or removal.
type Frontier struct {
	Upstream   []ids.OperatorID
	Downstream []ids.OperatorID
}

// ChangeLogEntry records one pending structural delta to a SharedQueryPlan.
// Entries are totally ordered by Timestamp.
type ChangeLogEntry struct {
	Timestamp int64
	Frontier  Frontier

	processed bool
	failed    bool
}

// Processed reports whether Amendment has already applied this entry.
func (e *ChangeLogEntry) Processed() bool { return e.processed }

// Failed reports whether Amendment's last attempt at this entry errored.
func (e *ChangeLogEntry) Failed() bool { return e.failed }

// DeploymentContext is one node's amendment output: what to do with one
// decomposed subplan.
type DeploymentContext struct {
	NodeID    ids.NodeID
	SubPlanID ids.DecomposedSubPlanID
	Version   uint64
	Action    Action
}

// ErrQueryNotFound is returned when removing a query id the plan never
// merged in.
var ErrQueryNotFound = errors.New("sharedplan: query not found")

// SharedQueryPlan merges structurally equivalent subqueries into a single
// Plan and tracks the incremental changes still to be placed. A single
// mutex guards change-log append and merge (spec.md §5).
type SharedQueryPlan struct {
	mu sync.Mutex

	ID     ids.SharedQueryID
	Plan   *logical.Plan
	status Status

	queryRootSinks      map[ids.QueryID][]ids.OperatorID
	hashBasedSignatures map[uint64][]string
	signatureOwner      map[signatureKey]ids.OperatorID
	operatorHashes      map[ids.OperatorID]uint64
	changeLog           []*ChangeLogEntry

	nextOperatorID ids.OperatorID
	nextVersion    uint64
}

// New creates an empty SharedQueryPlan ready to merge queries into.
func New(id ids.SharedQueryID) *SharedQueryPlan {
	return &SharedQueryPlan{
		ID:                  id,
		Plan:                logical.New(),
		status:              Created,
		queryRootSinks:      make(map[ids.QueryID][]ids.OperatorID),
		hashBasedSignatures: make(map[uint64][]string),
		signatureOwner:      make(map[signatureKey]ids.OperatorID),
		operatorHashes:      make(map[ids.OperatorID]uint64),
	}
}

// Status returns the plan's current processing status.
func (s *SharedQueryPlan) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsEmpty reports whether the plan has no constituent queries left.
func (s *SharedQueryPlan) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queryRootSinks) == 0
}

// ChangeLog returns a snapshot of the pending and processed entries.
func (s *SharedQueryPlan) ChangeLog() []*ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ChangeLogEntry, len(s.changeLog))
	copy(out, s.changeLog)
	return out
}

// Clear resets the plan to empty, as if newly created, discarding every
// merged operator and change-log entry.
func (s *SharedQueryPlan) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Plan = logical.New()
	s.status = Created
	s.queryRootSinks = make(map[ids.QueryID][]ids.OperatorID)
	s.hashBasedSignatures = make(map[uint64][]string)
	s.signatureOwner = make(map[signatureKey]ids.OperatorID)
	s.operatorHashes = make(map[ids.OperatorID]uint64)
	s.changeLog = nil
	s.nextOperatorID = 0
}

// AddQuery merges query's operator graph into the shared plan, reusing
// any upstream chain already present (matched by structural hash) and
// cloning only the operators that diverge. It returns the containment
// relationship between query and whatever was already merged, and appends
// a ChangeLogEntry describing the modified frontier whenever new operators
// were introduced.
func (s *SharedQueryPlan) AddQuery(query *logical.Plan, queryID ids.QueryID, timestamp int64) (Containment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := parentsFirstOrder(query)
	if err != nil {
		return NoContainment, err
	}

	mapped := make(map[ids.OperatorID]ids.OperatorID, len(order)) // incoming id -> merged id
	matched := make(map[ids.OperatorID]bool, len(order))
	var newlyAdded []ids.OperatorID
	anyMatched := false
	allMatched := true

	for _, incomingID := range order {
		op, err := query.Operator(incomingID)
		if err != nil {
			return NoContainment, err
		}

		h := upstreamHash(op, query.Parents(incomingID), mapped, s.operatorHashes)

		if existingID, ok := s.firstSignatureMatch(h, logical.Signature(op)); ok {
			mapped[incomingID] = existingID
			matched[incomingID] = true
			anyMatched = true
			continue
		}

		allMatched = false
		newID := s.cloneOperator(op)
		mapped[incomingID] = newID
		s.operatorHashes[newID] = h
		s.recordSignature(h, newID)
		for _, p := range query.Parents(incomingID) {
			s.Plan.Connect(mapped[p], newID)
		}
		newlyAdded = append(newlyAdded, newID)
	}

	sinks := query.Sinks()
	mergedSinks := make([]ids.OperatorID, 0, len(sinks))
	for _, sinkID := range sinks {
		mergedSinks = append(mergedSinks, mapped[sinkID])
	}
	s.queryRootSinks[queryID] = mergedSinks

	containment := classify(allMatched, anyMatched, mergedSinks, s.Plan)

	if len(newlyAdded) > 0 {
		upstream := frontierOf(query, order, matched)
		mergedUpstream := make([]ids.OperatorID, 0, len(upstream))
		for _, id := range upstream {
			mergedUpstream = append(mergedUpstream, mapped[id])
		}
		s.changeLog = append(s.changeLog, &ChangeLogEntry{
			Timestamp: timestamp,
			Frontier:  Frontier{Upstream: mergedUpstream, Downstream: newlyAdded},
		})
	}

	return containment, nil
}

// RemoveQuery drops queryID's root sinks from the shared plan's index. The
// underlying operators are left in place (another query may still share
// them); callers needing full operator teardown drive that through the
// change log via a TO_BE_REMOVED frontier, not this method.
func (s *SharedQueryPlan) RemoveQuery(queryID ids.QueryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queryRootSinks[queryID]; !ok {
		return ErrQueryNotFound
	}
	delete(s.queryRootSinks, queryID)
	return nil
}

// firstSignatureMatch looks up whether an operator with this exact
// (hash, signature) pair already exists in the merged plan, consulting
// hashBasedSignatures the way the original's getHashBasedSignature does
// (bucket by hash, then a linear scan of the string signatures in that
// bucket) before resolving the owning operator id.
func (s *SharedQueryPlan) firstSignatureMatch(hash uint64, signature string) (ids.OperatorID, bool) {
	for _, entry := range s.hashBasedSignatures[hash] {
		if entry == signature {
			id, ok := s.signatureOwner[signatureKey{hash, signature}]
			if ok {
				return id, true
			}
		}
	}
	return 0, false
}

func (s *SharedQueryPlan) recordSignature(hash uint64, id ids.OperatorID) {
	sig := mustSignature(s.Plan, id)
	s.hashBasedSignatures[hash] = append(s.hashBasedSignatures[hash], sig)
	s.signatureOwner[signatureKey{hash, sig}] = id
}

func mustSignature(plan *logical.Plan, id ids.OperatorID) string {
	op, err := plan.Operator(id)
	if err != nil {
		return fmt.Sprintf("unknown:%d", id)
	}
	return logical.Signature(op)
}

type signatureKey struct {
	hash uint64
	sig  string
}

func (s *SharedQueryPlan) cloneOperator(op logical.Operator) ids.OperatorID {
	s.nextOperatorID++
	id := s.nextOperatorID
	clone := logical.CloneWithID(op, id)
	s.Plan.AddOperator(clone)
	return id
}

// upstreamHash folds an operator's own signature together with its
// already-resolved parent hashes, so two operators in different queries
// hash identically only when their entire upstream lineage matches.
func upstreamHash(op logical.Operator, parents []ids.OperatorID, mapped map[ids.OperatorID]ids.OperatorID, hashes map[ids.OperatorID]uint64) uint64 {
	digest := fnv.New64a()
	digest.Write([]byte(logical.Signature(op)))
	sortedParents := append([]ids.OperatorID(nil), parents...)
	sort.Slice(sortedParents, func(i, j int) bool { return sortedParents[i] < sortedParents[j] })
	for _, p := range sortedParents {
		h := hashes[mapped[p]]
		digest.Write([]byte(fmt.Sprintf(":%d", h)))
	}
	return digest.Sum64()
}

func classify(allMatched, anyMatched bool, mergedSinks []ids.OperatorID, merged *logical.Plan) Containment {
	if !anyMatched {
		return NoContainment
	}
	if !allMatched {
		return RightContained
	}
	for _, sinkID := range mergedSinks {
		if len(merged.Children(sinkID)) > 0 {
			return LeftContained
		}
	}
	return Equality
}

// frontierOf returns the upstream boundary of the modified region: the
// already-matched operators (in the incoming query's own numbering) that
// feed directly into one of the newly added operators.
func frontierOf(query *logical.Plan, order []ids.OperatorID, matched map[ids.OperatorID]bool) (upstream []ids.OperatorID) {
	seen := make(map[ids.OperatorID]bool)
	for _, id := range order {
		if matched[id] {
			continue
		}
		for _, p := range query.Parents(id) {
			if matched[p] && !seen[p] {
				seen[p] = true
				upstream = append(upstream, p)
			}
		}
	}
	return upstream
}

// parentsFirstOrder returns query's operators in an order where every
// operator follows all of its parents (Kahn's algorithm over Connect
// edges), so upstreamHash can always look up already-resolved parents.
func parentsFirstOrder(query *logical.Plan) ([]ids.OperatorID, error) {
	indegree := make(map[ids.OperatorID]int)
	ops := query.Operators()
	for _, id := range ops {
		indegree[id] = len(query.Parents(id))
	}

	var ready []ids.OperatorID
	for _, id := range ops {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	var order []ids.OperatorID
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		next := append([]ids.OperatorID(nil), query.Children(id)...)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, c := range next {
			indegree[c]--
			if indegree[c] == 0 {
				ready = insertSorted(ready, c)
			}
		}
	}
	if len(order) != len(ops) {
		return nil, errors.New("sharedplan: query plan contains a cycle")
	}
	return order, nil
}

func insertSorted(sorted []ids.OperatorID, v ids.OperatorID) []ids.OperatorID {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= v })
	sorted = append(sorted, 0)
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = v
	return sorted
}
