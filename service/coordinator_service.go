package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/annostream/analysis"
	"github.com/c360/annostream/errors"
	"github.com/c360/annostream/extract"
	"github.com/c360/annostream/highlight"
	"github.com/c360/annostream/router"
	"github.com/c360/annostream/session"
)

// Routed actions handled by the coordinator service. Peers send these on
// the host request subject.
const (
	ActionPeerReady       = "PEER_READY"
	ActionPeerClosed      = "PEER_CLOSED"
	ActionGetSession      = "GET_SESSION"
	ActionUpdateSession   = "UPDATE_SESSION"
	ActionGetState        = "GET_STATE"
	ActionUpdateState     = "UPDATE_STATE"
	ActionAnalyzeDocument = "ANALYZE_DOCUMENT"
	ActionClearHighlights = "CLEAR_HIGHLIGHTS"
	ActionGetStatus       = "GET_STATUS"
)

// CoordinatorService is the host process's brain: it owns the session and
// process-state stores, the highlight delivery coordinator, and the routed
// action surface peers talk to.
type CoordinatorService struct {
	*BaseService

	sessions    *session.Store
	state       *session.ProcessStore
	coordinator *highlight.Coordinator
	analyzer    analysis.Analyzer
	extractor   *extract.Extractor

	router  *router.Router
	binding *router.Binding

	reapInterval time.Duration
	maxAge       time.Duration
}

// NewCoordinatorService wires the coordinator service from its
// collaborators. The analyzer may be nil, in which case ANALYZE_DOCUMENT
// requests must carry a precomputed result.
func NewCoordinatorService(
	deps *Dependencies,
	sessions *session.Store,
	state *session.ProcessStore,
	coordinator *highlight.Coordinator,
	analyzer analysis.Analyzer,
	extractor *extract.Extractor,
) *CoordinatorService {
	svc := &CoordinatorService{
		sessions:     sessions,
		state:        state,
		coordinator:  coordinator,
		analyzer:     analyzer,
		extractor:    extractor,
		reapInterval: session.DefaultReapInterval,
		maxAge:       session.DefaultMaxAge,
	}

	if deps.Config != nil {
		if deps.Config.Session.ReapInterval > 0 {
			svc.reapInterval = deps.Config.Session.ReapInterval
		}
		if deps.Config.Session.MaxAge > 0 {
			svc.maxAge = deps.Config.Session.MaxAge
		}
	}

	svc.BaseService = NewBaseService("coordinator", deps.Config,
		WithNATS(deps.NATSClient),
		WithMetrics(deps.MetricsRegistry),
		WithLogger(deps.Logger))

	svc.router = router.New(
		router.WithLogger(svc.logger),
		router.WithMetrics(deps.MetricsRegistry))
	svc.registerHandlers()

	svc.binding = router.NewBinding(deps.NATSClient, svc.router, router.DefaultHostSubject, svc.logger)

	return svc
}

// Router exposes the action router, mainly for tests and the gateway
func (s *CoordinatorService) Router() *router.Router {
	return s.router
}

// Start brings up the routed action surface, restores persisted process
// state, and starts the session reaper.
func (s *CoordinatorService) Start(ctx context.Context) error {
	if err := s.BaseService.Start(ctx); err != nil {
		return err
	}

	if err := s.state.Restore(ctx); err != nil {
		// A corrupt or missing snapshot never blocks startup
		s.logger.Warn("Process state restore failed", "error", err)
	}

	if err := s.binding.Start(ctx); err != nil {
		return errors.WrapTransient(err, "CoordinatorService", "Start", "bind host subject")
	}

	s.sessions.StartReaper(ctx, s.reapInterval, s.maxAge)

	s.logger.Info("Coordinator service started",
		"subject", s.binding.Subject(),
		"actions", len(s.router.Actions()),
		"reap_interval", s.reapInterval,
		"session_max_age", s.maxAge)
	return nil
}

func (s *CoordinatorService) registerHandlers() {
	s.router.Register(ActionPeerReady, s.handlePeerReady)
	s.router.Register(ActionPeerClosed, s.handlePeerClosed)
	s.router.Register(ActionGetSession, s.handleGetSession)
	s.router.Register(ActionUpdateSession, s.handleUpdateSession)
	s.router.Register(ActionGetState, s.handleGetState)
	s.router.Register(ActionUpdateState, s.handleUpdateState)
	s.router.Register(ActionAnalyzeDocument, s.handleAnalyzeDocument)
	s.router.Register(ActionClearHighlights, s.handleClearHighlights)
	s.router.Register(ActionGetStatus, s.handleGetStatus)
}

// handlePeerReady registers a new document context: a session is created
// (or resumed) and the peer gets both its session and the process state.
func (s *CoordinatorService) handlePeerReady(ctx context.Context, req *router.Request, _ router.Sender) (*router.Reply, error) {
	s.RecordActivity()

	sess, err := s.sessions.GetOrCreate(req.PeerID)
	if err != nil {
		return nil, err
	}

	return router.OK(map[string]any{
		"session": sess,
		"state":   s.state.Get(),
	}), nil
}

// handlePeerClosed tears down a departed peer's session and its highlight
// bookkeeping. Closing an unknown peer succeeds quietly.
func (s *CoordinatorService) handlePeerClosed(ctx context.Context, req *router.Request, _ router.Sender) (*router.Reply, error) {
	s.RecordActivity()

	existed := s.sessions.Delete(req.PeerID)
	if err := s.coordinator.ClearForPeer(ctx, req.PeerID); err != nil {
		s.logger.Warn("Highlight cleanup on close failed", "peer_id", req.PeerID, "error", err)
	}

	state := s.state.Get()
	if state.ActivePeerID == req.PeerID {
		empty := ""
		s.state.Update(ctx, session.ProcessPatch{ActivePeerID: &empty})
	}

	return router.OK(map[string]any{"existed": existed}), nil
}

func (s *CoordinatorService) handleGetSession(_ context.Context, req *router.Request, _ router.Sender) (*router.Reply, error) {
	s.RecordActivity()

	sess, err := s.sessions.Get(req.PeerID)
	if err != nil {
		return nil, err
	}
	return router.OK(sess), nil
}

func (s *CoordinatorService) handleUpdateSession(_ context.Context, req *router.Request, _ router.Sender) (*router.Reply, error) {
	s.RecordActivity()

	var patch session.Patch
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &patch); err != nil {
			return nil, errors.WrapInvalid(err, "CoordinatorService", "handleUpdateSession", "decode patch")
		}
	}

	sess, err := s.sessions.Update(req.PeerID, patch)
	if err != nil {
		return nil, err
	}
	return router.OK(sess), nil
}

func (s *CoordinatorService) handleGetState(_ context.Context, _ *router.Request, _ router.Sender) (*router.Reply, error) {
	s.RecordActivity()
	return router.OK(s.state.Get()), nil
}

func (s *CoordinatorService) handleUpdateState(ctx context.Context, req *router.Request, _ router.Sender) (*router.Reply, error) {
	s.RecordActivity()

	var patch session.ProcessPatch
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &patch); err != nil {
			return nil, errors.WrapInvalid(err, "CoordinatorService", "handleUpdateState", "decode patch")
		}
	}

	return router.OK(s.state.Update(ctx, patch)), nil
}

// analyzeRequest is the inbound payload for ANALYZE_DOCUMENT. Result, when
// present, short-circuits analysis with a precomputed mapping.
type analyzeRequest struct {
	Text       string              `json:"text,omitempty"`
	Title      string              `json:"title,omitempty"`
	Categories []analysis.Category `json:"categories,omitempty"`
	Result     json.RawMessage     `json:"result,omitempty"`
}

// analyzeReply is the prompt reply for ANALYZE_DOCUMENT; delivery then
// proceeds in the background.
type analyzeReply struct {
	Units int                      `json:"units"`
	Stats highlight.TransformStats `json:"stats"`
}

// handleAnalyzeDocument runs the full pipeline for one document: obtain
// text, analyze, transform into colored units, then deliver in paced
// batches. The reply goes out as soon as units exist; delivery continues
// in the background so the peer is never blocked on pacing.
func (s *CoordinatorService) handleAnalyzeDocument(ctx context.Context, req *router.Request, _ router.Sender) (*router.Reply, error) {
	s.RecordActivity()

	var areq analyzeRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &areq); err != nil {
			return nil, errors.WrapInvalid(err, "CoordinatorService", "handleAnalyzeDocument", "decode request")
		}
	}

	result := areq.Result
	if len(result) == 0 {
		raw, err := s.analyze(ctx, req.PeerID, areq)
		if err != nil {
			return nil, err
		}
		result = raw
	}

	if _, err := s.sessions.Update(req.PeerID, session.Patch{
		"workflow_step": "analyzed",
		"analysis_data": result,
	}); err != nil {
		return nil, err
	}

	// New analysis, fresh color session
	s.coordinator.ResetColorAssignment()

	units, stats, err := s.coordinator.Transform(result)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.Update(req.PeerID, session.Patch{
		"workflow_step":   "highlighting",
		"highlight_count": len(units),
	}); err != nil {
		return nil, err
	}

	go s.deliver(req.PeerID, units)

	return router.OK(analyzeReply{Units: len(units), Stats: stats}), nil
}

// analyze obtains document text (extracting from the peer when the request
// carries none) and runs the analyzer over it.
func (s *CoordinatorService) analyze(ctx context.Context, peerID string, areq analyzeRequest) (json.RawMessage, error) {
	if s.analyzer == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no analyzer configured and no precomputed result supplied"),
			"CoordinatorService", "analyze", "resolve analyzer")
	}

	text := areq.Text
	title := areq.Title
	if text == "" {
		if s.extractor == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("request carries no text and no extractor is configured"),
				"CoordinatorService", "analyze", "resolve document text")
		}
		content, err := s.extractor.Extract(ctx, peerID)
		if err != nil {
			return nil, err
		}
		text = content.FullText
		if title == "" {
			title = content.Title
		}

		if _, err := s.sessions.Update(peerID, session.Patch{
			"workflow_step":  "extracted",
			"extracted_text": content.Sections,
		}); err != nil {
			return nil, err
		}
	}

	return s.analyzer.Analyze(ctx, analysis.Request{
		Text:       text,
		Title:      title,
		Categories: areq.Categories,
	})
}

// deliver runs one background delivery pass and records the outcome on the
// session. Delivery owns its own lifetime; the request context is gone by
// the time this runs.
func (s *CoordinatorService) deliver(peerID string, units []highlight.Highlight) {
	ctx := context.Background()

	result, err := s.coordinator.Deliver(ctx, peerID, units)
	if err != nil {
		s.logger.Error("Highlight delivery aborted",
			"peer_id", peerID, "sent", result.Sent, "failed", result.Failed, "error", err)
	}

	step := "highlighted"
	if result.Failed > 0 {
		step = "highlighted_partial"
	}
	if _, uerr := s.sessions.Update(peerID, session.Patch{"workflow_step": step}); uerr != nil {
		s.logger.Warn("Session update after delivery failed", "peer_id", peerID, "error", uerr)
	}
}

// handleClearHighlights drops delivered-highlight bookkeeping and tells
// the peer to clear its rendering.
func (s *CoordinatorService) handleClearHighlights(ctx context.Context, req *router.Request, _ router.Sender) (*router.Reply, error) {
	s.RecordActivity()

	if err := s.coordinator.ClearForPeer(ctx, req.PeerID); err != nil {
		return nil, err
	}
	if _, err := s.sessions.Update(req.PeerID, session.Patch{
		"workflow_step":   "idle",
		"highlight_count": 0,
	}); err != nil {
		return nil, err
	}
	return router.OK(nil), nil
}

// statusReply is the GET_STATUS payload
type statusReply struct {
	Service  Info             `json:"service"`
	Sessions int              `json:"sessions"`
	Delivery highlight.Status `json:"delivery"`
	State    any              `json:"state"`
}

func (s *CoordinatorService) handleGetStatus(_ context.Context, _ *router.Request, _ router.Sender) (*router.Reply, error) {
	s.RecordActivity()

	return router.OK(statusReply{
		Service:  s.GetStatus(),
		Sessions: s.sessions.Count(),
		Delivery: s.coordinator.GetStatus(),
		State:    s.state.Get(),
	}), nil
}
