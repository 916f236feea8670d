// Package extract pulls document content out of a live peer. The peer owns
// the rendered document, so extraction is a request/reply exchange rather
// than a local parse.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/annostream/errors"
	"github.com/c360/annostream/router"
)

// ActionExtractContent asks a peer for its document's text and tables
const ActionExtractContent = "EXTRACT_CONTENT"

// DefaultExtractTimeout bounds one extraction exchange
const DefaultExtractTimeout = 30 * time.Second

// Content is what a peer reports back for its document
type Content struct {
	Title    string            `json:"title,omitempty"`
	Sections map[string]string `json:"sections,omitempty"`
	Tables   map[string]string `json:"tables,omitempty"`
	FullText string            `json:"fullText,omitempty"`
}

// peerRequester is the send path extraction drives
type peerRequester interface {
	Request(ctx context.Context, peerID, action string, payload any) (*router.Reply, error)
}

// ExtractorOption is a functional option for configuring the Extractor
type ExtractorOption func(*Extractor)

// WithTimeout bounds each extraction exchange
func WithTimeout(d time.Duration) ExtractorOption {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Extractor fetches document content from peers
type Extractor struct {
	peers   peerRequester
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an extractor over the given peer transport
func New(peers peerRequester, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		peers:   peers,
		timeout: DefaultExtractTimeout,
		logger:  slog.Default().With("component", "extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract asks the peer for its document content. A peer that is gone or
// declines yields a classified error the caller can match on.
func (e *Extractor) Extract(ctx context.Context, peerID string) (*Content, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.peers.Request(ctx, peerID, ActionExtractContent, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Extractor", "Extract", "request content")
	}
	if !reply.Success {
		return nil, errors.WrapInvalid(
			fmt.Errorf("peer declined extraction: %s", reply.Error),
			"Extractor", "Extract", "peer reply")
	}

	var content Content
	if len(reply.Data) > 0 {
		if err := json.Unmarshal(reply.Data, &content); err != nil {
			return nil, errors.WrapInvalid(err, "Extractor", "Extract", "decode content")
		}
	}

	e.logger.Debug("Extracted document content",
		"peer_id", peerID,
		"sections", len(content.Sections),
		"tables", len(content.Tables),
		"text_length", len(content.FullText))

	return &content, nil
}
