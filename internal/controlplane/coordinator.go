// Package controlplane implements the coordinator<->worker RPC surface
// (spec.md §6): node and source registration, topology parenting, and
// query deploy/undeploy/statistics, each reply carrying a success flag
// and an on-failure reason.
package controlplane

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/nebula-stream/nebula/internal/execplan"
	"github.com/nebula-stream/nebula/internal/globalplan"
	"github.com/nebula-stream/nebula/internal/metrics"
	"github.com/nebula-stream/nebula/internal/runtime"
	"github.com/nebula-stream/nebula/internal/schema"
	"github.com/nebula-stream/nebula/internal/topology"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// ErrUnknownLogicalSource is returned by RegisterPhysicalSource when the
// named logical source was never registered.
var ErrUnknownLogicalSource = errors.New("controlplane: unknown logical source")

// ErrIncompatibleSchema is returned by RegisterLogicalSource when a name
// is re-registered with a structurally different schema.
var ErrIncompatibleSchema = errors.New("controlplane: schema incompatible with existing registration")

// ErrUnknownSubPlan is returned by UndeployQuery/GetQueryStatistics for a
// sub-plan id never deployed (or already undeployed).
var ErrUnknownSubPlan = errors.New("controlplane: unknown sub-plan")

// physicalSource is one RegisterPhysicalSource record.
type physicalSource struct {
	WorkerID     ids.NodeID
	PhysicalName string
	LogicalName  string
	SourceType   string
	Config       map[string]any
}

type deployedSubPlan struct {
	queryID ids.QueryID
	nodeID  ids.NodeID
	plan    *execplan.Plan
}

// Coordinator holds the coordinator-side view of the cluster: the worker
// topology, the global execution plan, registered logical/physical
// sources, and (for single-process deployments) the local QueryManager
// that actually executes deployed sub-plans.
type Coordinator struct {
	logger zerolog.Logger

	topo      *topology.Topology
	plan      *globalplan.Plan
	queryMgr  *runtime.QueryManager
	collector *metrics.Collector

	mu               sync.Mutex
	nextWorkerID     atomic.Uint64
	logicalSources   map[string]schema.Schema
	physicalSources  map[string]*physicalSource // keyed by logicalName+"/"+physicalName
	deployedSubPlans map[ids.DecomposedSubPlanID]*deployedSubPlan
}

// New creates a Coordinator backed by a fresh Topology and
// GlobalExecutionPlan, driving deployed sub-plans through queryMgr.
func New(queryMgr *runtime.QueryManager, collector *metrics.Collector, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		logger:           logger.With().Str("component", "controlplane").Logger(),
		topo:             topology.New(),
		plan:             globalplan.New(),
		queryMgr:         queryMgr,
		collector:        collector,
		logicalSources:   make(map[string]schema.Schema),
		physicalSources:  make(map[string]*physicalSource),
		deployedSubPlans: make(map[ids.DecomposedSubPlanID]*deployedSubPlan),
	}
}

// Topology exposes the coordinator's topology, e.g. for placement.
func (c *Coordinator) Topology() *topology.Topology { return c.topo }

// GlobalPlan exposes the coordinator's GlobalExecutionPlan.
func (c *Coordinator) GlobalPlan() *globalplan.Plan { return c.plan }

// RegisterNode adds a worker to the topology with cpuCount operator
// slots and returns its minted id. nodeType and properties are currently
// observability-only (carried in logs, not yet placement-significant).
func (c *Coordinator) RegisterNode(address string, cpuCount int, nodeType string, properties map[string]string) (ids.NodeID, error) {
	if address == "" {
		return 0, errors.New("controlplane: address must not be empty")
	}
	if cpuCount < 0 {
		return 0, errors.New("controlplane: cpuCount must not be negative")
	}
	workerID := ids.NodeID(c.nextWorkerID.Add(1))

	c.mu.Lock()
	defer c.mu.Unlock()
	asRoot := false
	if _, ok := c.topo.Root(); !ok {
		asRoot = true
	}
	c.topo.AddNode(workerID, address, 0, 0, cpuCount, asRoot)
	c.plan.AddExecutionNode(workerID)

	c.logger.Info().Uint64("workerId", uint64(workerID)).Str("address", address).
		Str("nodeType", nodeType).Interface("properties", properties).Msg("node registered")
	return workerID, nil
}

// UnregisterNode removes workerID from the topology and the global
// execution plan.
func (c *Coordinator) UnregisterNode(workerID ids.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.topo.RemoveNode(workerID); err != nil {
		return fmt.Errorf("controlplane: unregister node: %w", err)
	}
	if err := c.plan.RemoveExecutionNode(workerID); err != nil && !errors.Is(err, globalplan.ErrNodeNotFound) {
		return fmt.Errorf("controlplane: unregister node: %w", err)
	}
	c.logger.Info().Uint64("workerId", uint64(workerID)).Msg("node unregistered")
	return nil
}

// RegisterLogicalSource registers name with the given schema. A
// re-registration under the same name must be schema-compatible with the
// existing one (spec.md §9's "re-registration" resolution: field set,
// type, and width must agree; order may differ).
func (c *Coordinator) RegisterLogicalSource(name string, s schema.Schema) error {
	if name == "" {
		return errors.New("controlplane: logical source name must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.logicalSources[name]; ok {
		if !existing.Compatible(s) {
			return fmt.Errorf("%w: %q", ErrIncompatibleSchema, name)
		}
	}
	c.logicalSources[name] = s
	c.logger.Info().Str("name", name).Int("fields", len(s.Fields)).Msg("logical source registered")
	return nil
}

// RegisterPhysicalSource binds a physical source on workerID to a
// previously-registered logical source.
func (c *Coordinator) RegisterPhysicalSource(workerID ids.NodeID, physicalName, logicalName, sourceType string, config map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.logicalSources[logicalName]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLogicalSource, logicalName)
	}
	if _, err := c.topo.Node(workerID); err != nil {
		return fmt.Errorf("controlplane: register physical source: %w", err)
	}
	key := logicalName + "/" + physicalName
	c.physicalSources[key] = &physicalSource{
		WorkerID: workerID, PhysicalName: physicalName, LogicalName: logicalName,
		SourceType: sourceType, Config: config,
	}
	c.logger.Info().Uint64("workerId", uint64(workerID)).Str("physicalName", physicalName).
		Str("logicalName", logicalName).Str("sourceType", sourceType).Msg("physical source registered")
	return nil
}

// AddParent links childWorkerID downstream of parentWorkerID in both the
// physical topology and the global execution plan.
func (c *Coordinator) AddParent(childWorkerID, parentWorkerID ids.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.topo.AddLink(parentWorkerID, childWorkerID); err != nil {
		return fmt.Errorf("controlplane: add parent: %w", err)
	}
	if err := c.plan.AddAsParent(childWorkerID, parentWorkerID); err != nil {
		return fmt.Errorf("controlplane: add parent: %w", err)
	}
	return nil
}

// RemoveParent removes the topology link added by AddParent. The
// parent/child record AddParent made in the global execution plan is left
// in place.
func (c *Coordinator) RemoveParent(childWorkerID, parentWorkerID ids.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.topo.RemoveLink(parentWorkerID, childWorkerID); err != nil {
		return fmt.Errorf("controlplane: remove parent: %w", err)
	}
	return nil
}

// stubConn is an opaque execplan.Source/Sink that only tracks its
// lifecycle calls — the connector implementation itself (network,
// file, Kafka, ...) is supplied by the physical source registration,
// not reconstructed from the wire-level SubPlanDTO.
type stubConn struct {
	name   string
	logger zerolog.Logger
}

func (s *stubConn) Start() error {
	s.logger.Debug().Str("name", s.name).Msg("connector started")
	return nil
}

func (s *stubConn) Stop() error {
	s.logger.Debug().Str("name", s.name).Msg("connector stopped")
	return nil
}

// DeployQuery decodes a SubPlanDTO and deploys it: registers the
// sub-plan's operators with the local QueryManager, transitions its
// ExecutableQueryPlan Created->Deployed->Running, and records the
// placement in the GlobalExecutionPlan.
func (c *Coordinator) DeployQuery(subPlanID ids.DecomposedSubPlanID, dto SubPlanDTO) error {
	c.mu.Lock()
	if _, exists := c.deployedSubPlans[subPlanID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("controlplane: sub-plan %d already deployed", subPlanID)
	}
	c.mu.Unlock()

	queryID := ids.QueryID(dto.QueryID)
	nodeID := ids.NodeID(dto.NodeID)

	plan := execplan.New(subPlanID, queryID, c.logger)
	for _, name := range dto.SourceNames {
		plan.AddSource(name, &stubConn{name: name, logger: c.logger})
	}
	for _, name := range dto.SinkNames {
		plan.AddSink(name, &stubConn{name: name, logger: c.logger})
	}

	operatorIDs := make([]ids.OperatorID, len(dto.OperatorIDs))
	for i, id := range dto.OperatorIDs {
		operatorIDs[i] = ids.OperatorID(id)
	}

	if err := c.queryMgr.DeployQuery(queryID, plan, operatorIDs); err != nil {
		if c.collector != nil {
			c.collector.RecordAmendmentFailure()
		}
		return fmt.Errorf("controlplane: deploy query: %w", err)
	}

	if err := c.plan.AddSubPlan(nodeID, queryID, subPlanID); err != nil {
		c.logger.Warn().Err(err).Uint64("nodeId", uint64(nodeID)).Msg("global plan placement not recorded")
	}

	c.mu.Lock()
	c.deployedSubPlans[subPlanID] = &deployedSubPlan{queryID: queryID, nodeID: nodeID, plan: plan}
	activeCount := len(c.deployedSubPlans)
	c.mu.Unlock()

	if c.collector != nil {
		c.collector.SetActiveQueries(activeCount)
	}
	c.logger.Info().Uint64("subPlanId", uint64(subPlanID)).Uint64("queryId", uint64(queryID)).Msg("query deployed")
	return nil
}

// UndeployQuery requests a graceful stop of subPlanID's query and removes
// its GlobalExecutionPlan placement. The stop itself runs through
// QueryManager.StopQuery's reconfiguration barrier (spec.md §4.3), so the
// underlying ExecutableQueryPlan only reaches Stopped once every in-flight
// task for the query has completed; UndeployQuery's own bookkeeping
// (placement removal, active-query count) is applied immediately on
// acceptance, matching the RPC's fire-and-forget "ok" semantics.
func (c *Coordinator) UndeployQuery(subPlanID ids.DecomposedSubPlanID) error {
	c.mu.Lock()
	entry, ok := c.deployedSubPlans[subPlanID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownSubPlan, subPlanID)
	}
	delete(c.deployedSubPlans, subPlanID)
	activeCount := len(c.deployedSubPlans)
	c.mu.Unlock()

	c.queryMgr.StopQuery(entry.queryID)

	if err := c.plan.RemoveSubPlan(entry.nodeID, entry.queryID, subPlanID); err != nil &&
		!errors.Is(err, globalplan.ErrSubPlanNotFound) && !errors.Is(err, globalplan.ErrNodeNotFound) {
		c.logger.Warn().Err(err).Msg("global plan placement removal failed")
	}

	if c.collector != nil {
		c.collector.SetActiveQueries(activeCount)
	}
	c.logger.Info().Uint64("subPlanId", uint64(subPlanID)).Msg("query undeploy requested")
	return nil
}

// GetQueryStatistics returns the processed-tuple/buffer counters and
// start time tracked by the local QueryManager for queryID, plus the
// lifecycle status of one of its deployed sub-plans (approximate when a
// query has sub-plans on more than one node).
func (c *Coordinator) GetQueryStatistics(queryID ids.QueryID) (QueryStatisticsResponse, error) {
	stats, ok := c.queryMgr.GetQueryStatistics(queryID)
	if !ok {
		return QueryStatisticsResponse{}, fmt.Errorf("%w: query %d", ErrUnknownSubPlan, queryID)
	}

	status := "Unknown"
	c.mu.Lock()
	for _, entry := range c.deployedSubPlans {
		if entry.queryID == queryID {
			status = entry.plan.Status().String()
			break
		}
	}
	c.mu.Unlock()

	return QueryStatisticsResponse{
		Envelope:         Envelope{Success: true},
		ProcessedTuples:  stats.ProcessedTuples.Load(),
		ProcessedBuffers: stats.ProcessedBuffers.Load(),
		StartTimeUnixMs:  stats.StartedAt.UnixMilli(),
		Status:           status,
	}, nil
}
