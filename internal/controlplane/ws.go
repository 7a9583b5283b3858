package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/nebula-stream/nebula/internal/metrics"
	"github.com/nebula-stream/nebula/pkg/ids"
)

// StreamEvent is one /v1/stream push: the node's metrics Snapshot plus
// placement state scoped to what the connected client asked for. A client
// that connects with no ?queryId filter gets the coordinator's full
// GlobalExecutionPlan view (spec.md §4.8, observability only); a client
// that connects with ?queryId=N instead gets just that query's current
// node assignments, so a per-query dashboard isn't handed placement data
// for every other query sharing the coordinator.
type StreamEvent struct {
	Snapshot   metrics.Snapshot `json:"snapshot"`
	GlobalPlan json.RawMessage  `json:"globalPlan,omitempty"`
	QueryID    ids.QueryID      `json:"queryId,omitempty"`
	QueryNodes []ids.NodeID     `json:"queryNodes,omitempty"`
}

// wsHub broadcasts StreamEvent pushes to connected dashboard clients over
// a websocket, one push per Collector.Subscribe tick, each client seeing
// the slice of coordinator state it asked for.
type wsHub struct {
	coord  *Coordinator
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// wsClient is one connected dashboard. When hasFilter is false the client
// receives the coordinator's full GlobalExecutionPlan view on every push;
// when it is true (any parsed queryId, 0 included) the push carries
// queryFilter's nodes instead of that view.
type wsClient struct {
	conn        *websocket.Conn
	queryFilter ids.QueryID
	hasFilter   bool
}

func newWSHub(coord *Coordinator, logger zerolog.Logger) *wsHub {
	return &wsHub{
		coord:   coord,
		logger:  logger.With().Str("component", "ws-hub").Logger(),
		clients: make(map[*wsClient]struct{}),
	}
}

// run broadcasts snapshots until ctx is cancelled.
func (h *wsHub) run(ctx context.Context) {
	ch := h.coord.collector.Subscribe()
	defer h.coord.collector.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(snap)
		}
	}
}

func (h *wsHub) broadcast(snap metrics.Snapshot) {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		data, err := h.eventFor(snap, c)
		if err != nil {
			h.logger.Err(err).Msg("marshal stream event")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.remove(c)
		}
	}
}

// eventFor builds the StreamEvent a specific client should see: the
// shared metrics Snapshot, plus either that client's one query's node
// assignments or (no filter) the full GlobalExecutionPlan view.
func (h *wsHub) eventFor(snap metrics.Snapshot, c *wsClient) ([]byte, error) {
	event := StreamEvent{Snapshot: snap}
	if c.hasFilter {
		event.QueryID = c.queryFilter
		event.QueryNodes = h.coord.plan.NodesForQuery(c.queryFilter)
	} else {
		planJSON, err := h.coord.plan.MarshalJSON()
		if err != nil {
			return nil, err
		}
		event.GlobalPlan = planJSON
	}
	return json.Marshal(event)
}

func (h *wsHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Int("clients", len(h.clients)).Msg("ws client connected")
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
	h.mu.Unlock()
}

func (h *wsHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Err(err).Msg("ws accept")
		return
	}

	client := &wsClient{conn: conn}
	if raw := r.URL.Query().Get("queryId"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			client.queryFilter = ids.QueryID(n)
			client.hasFilter = true
		}
	}
	h.add(client)

	if data, err := h.eventFor(h.coord.collector.Snapshot(), client); err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			h.remove(client)
			return
		}
	}
}
