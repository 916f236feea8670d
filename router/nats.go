package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/c360/annostream/natsclient"
)

// DefaultHostSubject is the subject peers address host requests to.
const DefaultHostSubject = "anno.host.requests"

// Binding connects a Router to a NATS subject. Each inbound message is
// decoded, dispatched on its own goroutine, and answered through a
// single-fire reply guard so a request can never be answered twice.
type Binding struct {
	nc      *natsclient.Client
	router  *Router
	subject string
	logger  *slog.Logger
}

// NewBinding creates a binding for the given host subject. An empty
// subject uses DefaultHostSubject.
func NewBinding(nc *natsclient.Client, r *Router, subject string, logger *slog.Logger) *Binding {
	if subject == "" {
		subject = DefaultHostSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Binding{
		nc:      nc,
		router:  r,
		subject: subject,
		logger:  logger.With("component", "router-binding"),
	}
}

// Subject returns the bound host subject
func (b *Binding) Subject() string {
	return b.subject
}

// Start subscribes the binding to its subject. The provided context is the
// parent for all handler invocations.
func (b *Binding) Start(ctx context.Context) error {
	return b.nc.Subscribe(ctx, b.subject, func(msg *nats.Msg) {
		b.handleMessage(ctx, msg)
	})
}

func (b *Binding) handleMessage(ctx context.Context, msg *nats.Msg) {
	once := &replyOnce{msg: msg, logger: b.logger}

	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		b.logger.Warn("Malformed request envelope", "subject", msg.Subject, "error", err)
		once.send(Fail("malformed request: %v", err))
		return
	}

	// Handlers may block on further channel traffic; keep the
	// subscription callback free.
	go func() {
		reply := b.router.Dispatch(ctx, &req, Sender{PeerID: req.PeerID, Subject: msg.Subject})
		once.send(reply)
	}()
}

// replyOnce resolves a request's reply exactly once. A second send is a
// programming error and is logged, not delivered.
type replyOnce struct {
	msg    *nats.Msg
	logger *slog.Logger
	done   atomic.Bool
}

func (r *replyOnce) send(reply *Reply) {
	if !r.done.CompareAndSwap(false, true) {
		r.logger.Error("Duplicate reply suppressed", "subject", r.msg.Subject)
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		r.logger.Error("Marshal reply failed", "error", err)
		data = []byte(`{"success":false,"error":"internal: marshal reply"}`)
	}

	// No reply inbox means the caller fired and forgot; nothing to do.
	if r.msg.Reply == "" {
		return
	}

	if err := r.msg.Respond(data); err != nil {
		r.logger.Warn("Respond failed", "subject", r.msg.Subject, "error", err)
	}
}
