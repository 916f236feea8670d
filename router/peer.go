package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/annostream/errors"
	"github.com/c360/annostream/natsclient"
)

// DefaultPeerPrefix is the subject prefix under which each peer listens
// for host-initiated requests: <prefix>.<peerID>.requests
const DefaultPeerPrefix = "anno.peer"

// PeerClient is the router's send path: host-initiated request/reply
// exchanges with a single peer. Transport-level absence of the peer is
// surfaced as the peer-unreachable error class.
type PeerClient struct {
	nc      *natsclient.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// PeerClientOption is a functional option for configuring the PeerClient
type PeerClientOption func(*PeerClient)

// WithPeerPrefix overrides the peer subject prefix
func WithPeerPrefix(prefix string) PeerClientOption {
	return func(p *PeerClient) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithPeerTimeout sets the per-request timeout
func WithPeerTimeout(d time.Duration) PeerClientOption {
	return func(p *PeerClient) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPeerLogger sets a custom logger
func WithPeerLogger(logger *slog.Logger) PeerClientOption {
	return func(p *PeerClient) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPeerClient creates a client for host-to-peer requests
func NewPeerClient(nc *natsclient.Client, opts ...PeerClientOption) *PeerClient {
	p := &PeerClient{
		nc:      nc,
		prefix:  DefaultPeerPrefix,
		timeout: 10 * time.Second,
		logger:  slog.Default().With("component", "peer-client"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SubjectFor returns the request subject for a peer id
func (p *PeerClient) SubjectFor(peerID string) string {
	return fmt.Sprintf("%s.%s.requests", p.prefix, peerID)
}

// Request sends an action to a peer and waits for its reply. The payload's
// fields are flattened into the envelope alongside the action name, so the
// peer sees {action, ...action-specific-fields}.
func (p *PeerClient) Request(ctx context.Context, peerID, action string, payload any) (*Reply, error) {
	if peerID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "PeerClient", "Request", "empty peer id")
	}

	body, err := flattenEnvelope(action, payload)
	if err != nil {
		return nil, errors.WrapInvalid(err, "PeerClient", "Request", "marshal payload")
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.nc.Request(reqCtx, p.SubjectFor(peerID), body)
	if err != nil {
		return nil, err
	}

	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, errors.WrapInvalid(err, "PeerClient", "Request", "unmarshal reply")
	}

	return &reply, nil
}

// flattenEnvelope merges the payload's top-level fields with the action
// name into one wire object.
func flattenEnvelope(action string, payload any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("payload must marshal to an object: %w", err)
		}
	}
	actionRaw, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}
	fields["action"] = actionRaw
	return json.Marshal(fields)
}
