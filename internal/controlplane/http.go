package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/nebula-stream/nebula/pkg/ids"
)

// Server exposes a Coordinator over the JSON/HTTP RPC set from spec.md
// §6, one handler per method, mirroring the teacher's mux-of-handlers
// server shape, plus a websocket snapshot stream for live dashboards.
type Server struct {
	coord  *Coordinator
	logger zerolog.Logger

	hub    *wsHub
	cancel context.CancelFunc
}

// NewServer wraps coord for HTTP serving. If coord has a metrics
// collector attached, NewServer also starts the websocket broadcast hub
// backing the /v1/stream endpoint; call Close to stop it.
func NewServer(coord *Coordinator, logger zerolog.Logger) *Server {
	s := &Server{coord: coord, logger: logger.With().Str("component", "controlplane-http").Logger()}
	if coord.collector != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.hub = newWSHub(coord, s.logger)
		go s.hub.run(ctx)
	}
	return s
}

// Close stops the websocket broadcast hub, if one was started.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Handler builds the complete RPC mux plus the collector's /metrics
// endpoint, if a collector is attached.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/nodes", s.registerNode)
	mux.HandleFunc("DELETE /v1/nodes/{workerId}", s.unregisterNode)
	mux.HandleFunc("POST /v1/logical-sources", s.registerLogicalSource)
	mux.HandleFunc("POST /v1/physical-sources", s.registerPhysicalSource)
	mux.HandleFunc("POST /v1/parents", s.addParent)
	mux.HandleFunc("DELETE /v1/parents", s.removeParent)
	mux.HandleFunc("POST /v1/subplans/{subPlanId}/deploy", s.deployQuery)
	mux.HandleFunc("POST /v1/subplans/{subPlanId}/undeploy", s.undeployQuery)
	mux.HandleFunc("GET /v1/queries/{queryId}/statistics", s.getQueryStatistics)
	if s.coord.collector != nil {
		mux.Handle("GET /metrics", s.coord.collector.Handler())
		mux.HandleFunc("GET /v1/snapshot", s.getSnapshot)
		mux.HandleFunc("GET /v1/stream", s.hub.handle)
	}
	return mux
}

// getSnapshot returns the collector's current metrics.Snapshot as JSON,
// the poll target for a remote dashboard (internal/dashboard, cmd/nebula's
// dashboard command) running against this node.
func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.collector.Snapshot())
}

func (s *Server) registerNode(w http.ResponseWriter, r *http.Request) {
	var req RegisterNodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	workerID, err := s.coord.RegisterNode(req.Address, req.CPUCount, req.NodeType, req.Properties)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, RegisterNodeResponse{Envelope: failure(err)})
		return
	}
	writeJSON(w, http.StatusOK, RegisterNodeResponse{Envelope: Envelope{Success: true}, WorkerID: uint64(workerID)})
}

func (s *Server) unregisterNode(w http.ResponseWriter, r *http.Request) {
	workerID, ok := pathUint(w, r, "workerId")
	if !ok {
		return
	}
	if err := s.coord.UnregisterNode(ids.NodeID(workerID)); err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err))
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

func (s *Server) registerLogicalSource(w http.ResponseWriter, r *http.Request) {
	var req RegisterLogicalSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.coord.RegisterLogicalSource(req.Name, req.Schema); err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err))
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

func (s *Server) registerPhysicalSource(w http.ResponseWriter, r *http.Request) {
	var req RegisterPhysicalSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.coord.RegisterPhysicalSource(ids.NodeID(req.WorkerID), req.PhysicalName, req.LogicalName, req.SourceType, req.Config)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err))
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

func (s *Server) addParent(w http.ResponseWriter, r *http.Request) {
	var req ParentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.coord.AddParent(ids.NodeID(req.ChildWorkerID), ids.NodeID(req.ParentWorkerID)); err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err))
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

func (s *Server) removeParent(w http.ResponseWriter, r *http.Request) {
	var req ParentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.coord.RemoveParent(ids.NodeID(req.ChildWorkerID), ids.NodeID(req.ParentWorkerID)); err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err))
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

func (s *Server) deployQuery(w http.ResponseWriter, r *http.Request) {
	subPlanID, ok := pathUint(w, r, "subPlanId")
	if !ok {
		return
	}
	var dto SubPlanDTO
	if !decodeJSON(w, r, &dto) {
		return
	}
	if err := s.coord.DeployQuery(ids.DecomposedSubPlanID(subPlanID), dto); err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err))
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

func (s *Server) undeployQuery(w http.ResponseWriter, r *http.Request) {
	subPlanID, ok := pathUint(w, r, "subPlanId")
	if !ok {
		return
	}
	if err := s.coord.UndeployQuery(ids.DecomposedSubPlanID(subPlanID)); err != nil {
		writeJSON(w, http.StatusBadRequest, failure(err))
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true})
}

func (s *Server) getQueryStatistics(w http.ResponseWriter, r *http.Request) {
	queryID, ok := pathUint(w, r, "queryId")
	if !ok {
		return
	}
	resp, err := s.coord.GetQueryStatistics(ids.QueryID(queryID))
	if err != nil {
		writeJSON(w, http.StatusNotFound, QueryStatisticsResponse{Envelope: failure(err)})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func failure(err error) Envelope {
	return Envelope{Success: false, Reason: err.Error()}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Success: false, Reason: "malformed request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Success: false, Reason: "malformed path parameter " + name})
		return 0, false
	}
	return v, true
}
