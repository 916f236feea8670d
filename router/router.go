// Package router dispatches named requests arriving on the shared peer
// channel to registered handlers and completes exactly one reply per
// request. It is the single inbound dispatch point for the host; all state
// mutation happens inside handlers, never in the router itself.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/annostream/metric"
)

// HandlerFunc processes one routed request. Returning an error (or
// panicking) converts to a failure reply; the router never leaves a
// request unanswered. A nil reply with a nil error converts to a bare
// success envelope.
type HandlerFunc func(ctx context.Context, req *Request, from Sender) (*Reply, error)

// Option is a functional option for configuring the Router
type Option func(*Router)

// WithLogger sets a custom logger for the router
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry used to count dispatches
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Router) {
		r.metrics = registry
	}
}

// Router owns the action-name to handler mapping. Registration is
// last-writer-wins; there is no constraint on re-registration.
type Router struct {
	mu      sync.RWMutex
	routes  map[string]HandlerFunc
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
}

// New creates an empty router
func New(opts ...Option) *Router {
	r := &Router{
		routes: make(map[string]HandlerFunc),
		logger: slog.Default().With("component", "router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs or replaces the handler for an action
func (r *Router) Register(action string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[action]; exists {
		r.logger.Debug("Replacing handler", "action", action)
	}
	r.routes[action] = handler
}

// Remove unregisters the handler for an action. Subsequent requests for
// that action become "unknown action".
func (r *Router) Remove(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, action)
}

// Actions returns the currently registered action names
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions := make([]string, 0, len(r.routes))
	for action := range r.routes {
		actions = append(actions, action)
	}
	return actions
}

// Dispatch looks up the handler for req.Action and invokes it, converting
// every outcome (missing handler, handler error, handler panic) into a
// structured reply. It always returns a non-nil reply.
func (r *Router) Dispatch(ctx context.Context, req *Request, from Sender) (reply *Reply) {
	if req == nil || req.Action == "" {
		r.record("", "invalid")
		return Fail("missing action")
	}

	r.mu.RLock()
	handler, ok := r.routes[req.Action]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("Unknown action", "action", req.Action, "peer_id", req.PeerID)
		r.record(req.Action, "unknown")
		return Fail("Unknown action: %s", req.Action)
	}

	// A misbehaving handler must never leave a request unanswered.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Handler panic", "action", req.Action, "panic", fmt.Sprintf("%v", rec))
			r.record(req.Action, "panic")
			reply = Fail("%v", rec)
		}
	}()

	r.logger.Debug("Dispatching", "action", req.Action, "peer_id", req.PeerID, "sender", from.Subject)

	rep, err := handler(ctx, req, from)
	if err != nil {
		r.logger.Warn("Handler failed", "action", req.Action, "error", err)
		r.record(req.Action, "error")
		return Fail("%s", err.Error())
	}
	if rep == nil {
		rep = &Reply{Success: true}
	}

	if rep.Success {
		r.record(req.Action, "ok")
	} else {
		r.record(req.Action, "failed")
	}
	return rep
}

func (r *Router) record(action, status string) {
	if r.metrics != nil {
		r.metrics.CoreMetrics().RecordDispatch(action, status)
	}
}
