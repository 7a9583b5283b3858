// Package ids provides the identifier types shared across the runtime and
// placement core: origins, pipelines, operators, queries, nodes, and the
// NesPartition that pairs a network-sink to its network-source.
package ids

import "github.com/google/uuid"

// OriginID identifies a logical source stream.
type OriginID uint64

// QueryID identifies a user-submitted logical query.
type QueryID uint64

// SharedQueryID identifies a merged, deployable shared query plan.
type SharedQueryID uint64

// OperatorID identifies a logical operator within a plan.
type OperatorID uint64

// PipelineID identifies a pipeline within one node's executable plan.
type PipelineID uint64

// NodeID identifies a topology (worker) node.
type NodeID uint64

// DecomposedSubPlanID identifies one node's slice of a shared query plan.
type DecomposedSubPlanID uint64

// NesPartition is the 16-byte identifier pairing a network-sink operator to
// its matching network-source operator. QueryId/OperatorId/SubPartition are
// caller-assigned; Partition disambiguates distinct edges that would
// otherwise collide (e.g. two edges between the same pair of operators).
type NesPartition struct {
	QueryID      QueryID
	OperatorID   OperatorID
	SubPartition uint32
	Partition    uint32
}

// NewSubPartition mints a SubPartition value from the first 4 bytes of a
// random UUID. With 32 random bits, values minted concurrently across
// nodes are unlikely to collide; uniqueness is not checked.
func NewSubPartition() uint32 {
	u := uuid.New()
	var v uint32
	for _, b := range u[:4] {
		v = v<<8 | uint32(b)
	}
	return v
}
