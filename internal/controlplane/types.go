package controlplane

import "github.com/nebula-stream/nebula/internal/schema"

// Envelope is the reply shape for every control-plane RPC (spec.md §6:
// "every reply carries a boolean success and, on failure, a string
// reason").
type Envelope struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// RegisterNodeRequest registers a worker with the coordinator.
type RegisterNodeRequest struct {
	Address    string            `json:"address"`
	CPUCount   int               `json:"cpuCount"`
	NodeType   string            `json:"nodeType"`
	Properties map[string]string `json:"properties,omitempty"`
}

// RegisterNodeResponse carries the minted worker id.
type RegisterNodeResponse struct {
	Envelope
	WorkerID uint64 `json:"workerId"`
}

// UnregisterNodeRequest removes a worker from the topology.
type UnregisterNodeRequest struct {
	WorkerID uint64 `json:"workerId"`
}

// RegisterLogicalSourceRequest registers a named stream schema.
type RegisterLogicalSourceRequest struct {
	Name   string        `json:"name"`
	Schema schema.Schema `json:"schema"`
}

// RegisterPhysicalSourceRequest binds a physical source to a worker and a
// logical source name.
type RegisterPhysicalSourceRequest struct {
	WorkerID     uint64         `json:"workerId"`
	PhysicalName string         `json:"physicalName"`
	LogicalName  string         `json:"logicalName"`
	SourceType   string         `json:"sourceType"`
	Config       map[string]any `json:"config,omitempty"`
}

// ParentRequest adds or removes a parent link between two workers.
type ParentRequest struct {
	ChildWorkerID  uint64 `json:"childWorkerId"`
	ParentWorkerID uint64 `json:"parentWorkerId"`
}

// SubPlanDTO is the wire shape of a decomposed sub-plan handed to
// DeployQuery: enough of the subplan's structure to register it with the
// node-local execution bookkeeping (execplan, globalplan, runtime), short
// of the compiled pipeline stages themselves, which a query compiler
// supplies out of band.
type SubPlanDTO struct {
	QueryID     uint64   `json:"queryId"`
	NodeID      uint64   `json:"nodeId"`
	OperatorIDs []uint64 `json:"operatorIds"`
	SourceNames []string `json:"sourceNames,omitempty"`
	SinkNames   []string `json:"sinkNames,omitempty"`
}

// QueryStatisticsResponse mirrors spec.md §6's
// "{processedTuples, processedBuffers, startTime, ...}".
type QueryStatisticsResponse struct {
	Envelope
	ProcessedTuples  int64  `json:"processedTuples"`
	ProcessedBuffers int64  `json:"processedBuffers"`
	StartTimeUnixMs  int64  `json:"startTime"`
	Status           string `json:"status"`
}
