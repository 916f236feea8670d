// Package gateway exposes the host's operational surface over HTTP:
// health, status, Prometheus metrics, and a WebSocket stream of state
// change events for dashboards.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360/annostream/metric"
	"github.com/c360/annostream/service"
	"github.com/c360/annostream/session"
)

// Gateway is the HTTP/WebSocket front of the host process
type Gateway struct {
	addr     string
	manager  *service.Manager
	sessions *session.Store
	state    *session.ProcessStore
	metrics  *metric.MetricsRegistry
	logger   *slog.Logger

	hub    *eventHub
	server *http.Server
}

// GatewayOption is a functional option for configuring the Gateway
type GatewayOption func(*Gateway)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a gateway serving on addr. The gateway subscribes to both
// stores so connected WebSocket clients see every state change.
func New(
	addr string,
	manager *service.Manager,
	sessions *session.Store,
	state *session.ProcessStore,
	metrics *metric.MetricsRegistry,
	opts ...GatewayOption,
) *Gateway {
	g := &Gateway{
		addr:     addr,
		manager:  manager,
		sessions: sessions,
		state:    state,
		metrics:  metrics,
		logger:   slog.Default().With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.hub = newEventHub(g.logger)

	g.sessions.OnChange(func(peerID string, s *session.Session) {
		kind := "session_updated"
		if s == nil {
			kind = "session_deleted"
		}
		g.hub.broadcast(Event{Type: kind, PeerID: peerID, Payload: mustJSON(s)})
	})
	g.state.OnChange(func(st session.ProcessState) {
		g.hub.broadcast(Event{Type: "state_updated", Payload: mustJSON(st)})
	})

	return g
}

// Start begins serving. It returns once the listener is running; serve
// errors after that are logged, not returned.
func (g *Gateway) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", g.handleHealthz)
	mux.HandleFunc("GET /status", g.handleStatus)
	mux.Handle("GET /metrics", g.metrics.Handler())
	mux.HandleFunc("GET /ws/events", g.hub.handleWS)

	g.server = &http.Server{
		Addr:              g.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go g.hub.run(ctx)
	go func() {
		g.logger.Info("Gateway listening", "addr", g.addr)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("Gateway serve failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (g *Gateway) Stop(timeout time.Duration) error {
	if g.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := g.manager.Health()

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// statusResponse is the /status payload
type statusResponse struct {
	Services []service.Info       `json:"services"`
	Sessions int                  `json:"sessions"`
	Peers    []string             `json:"peers"`
	State    session.ProcessState `json:"state"`
	Clients  int                  `json:"ws_clients"`
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	names := g.manager.Names()
	infos := make([]service.Info, 0, len(names))
	for _, name := range names {
		if svc, ok := g.manager.Get(name); ok {
			infos = append(infos, svc.GetStatus())
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Services: infos,
		Sessions: g.sessions.Count(),
		Peers:    g.sessions.Peers(),
		State:    g.state.Get(),
		Clients:  g.hub.clientCount(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
