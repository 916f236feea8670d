// Package session provides lifecycle and storage for per-peer and
// process-wide host state. The Store is the single writer of truth;
// callers receive clones and mutate only through Update.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/annostream/errors"
	"github.com/c360/annostream/metric"
)

// DefaultMaxAge is how long an idle session survives before the reaper
// removes it.
const DefaultMaxAge = 24 * time.Hour

// DefaultReapInterval is how often the background reaper sweeps.
const DefaultReapInterval = time.Hour

// Session holds per-peer (per-document) state owned exclusively by the host.
type Session struct {
	PeerID          string            `json:"peer_id"`
	CreatedAt       time.Time         `json:"created_at"`
	LastActivity    time.Time         `json:"last_activity"`
	WorkflowStep    string            `json:"workflow_step"`
	AnalysisData    json.RawMessage   `json:"analysis_data,omitempty"`
	ExtractedText   map[string]string `json:"extracted_text,omitempty"`
	ExtractedTables json.RawMessage   `json:"extracted_tables,omitempty"`
	HighlightCount  int               `json:"highlight_count"`
}

// clone returns a deep copy so callers can never alias store-owned state
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ExtractedText != nil {
		c.ExtractedText = make(map[string]string, len(s.ExtractedText))
		for k, v := range s.ExtractedText {
			c.ExtractedText[k] = v
		}
	}
	if s.AnalysisData != nil {
		c.AnalysisData = append(json.RawMessage(nil), s.AnalysisData...)
	}
	if s.ExtractedTables != nil {
		c.ExtractedTables = append(json.RawMessage(nil), s.ExtractedTables...)
	}
	return &c
}

// Patch carries partial session updates keyed by field name. Keys that do
// not match a session field are silently ignored (schema guard).
type Patch map[string]any

// Listener receives state-change notifications. The session is nil when
// the change was a deletion.
type Listener func(peerID string, s *Session)

// StoreOption is a functional option for configuring the Store
type StoreOption func(*Store)

// WithLogger sets a custom logger for the store
func WithLogger(logger *slog.Logger) StoreOption {
	return func(st *Store) {
		if logger != nil {
			st.logger = logger
		}
	}
}

// WithMetrics sets the metrics registry for session gauges
func WithMetrics(registry *metric.MetricsRegistry) StoreOption {
	return func(st *Store) {
		st.metrics = registry
	}
}

// WithClock overrides the time source (for tests)
func WithClock(now func() time.Time) StoreOption {
	return func(st *Store) {
		if now != nil {
			st.now = now
		}
	}
}

// Store owns the peer-id to session mapping
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	listeners []Listener
	logger    *slog.Logger
	metrics   *metric.MetricsRegistry
	now       func() time.Time
}

// NewStore creates an empty session store
func NewStore(opts ...StoreOption) *Store {
	st := &Store{
		sessions: make(map[string]*Session),
		logger:   slog.Default().With("component", "session-store"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// OnChange registers a state-change listener. Listeners are invoked
// synchronously; a panicking listener is isolated and logged.
func (st *Store) OnChange(l Listener) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.listeners = append(st.listeners, l)
}

// GetOrCreate returns the session for a peer id, creating a default-valued
// one on first contact. Never returns nil for a valid non-empty id.
func (st *Store) GetOrCreate(peerID string) (*Session, error) {
	if peerID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Store", "GetOrCreate", "empty peer id")
	}

	st.mu.Lock()
	s, ok := st.sessions[peerID]
	if !ok {
		now := st.now()
		s = &Session{
			PeerID:       peerID,
			CreatedAt:    now,
			LastActivity: now,
			WorkflowStep: "idle",
		}
		st.sessions[peerID] = s
		st.logger.Info("Session created", "peer_id", peerID)
	}
	count := len(st.sessions)
	clone := s.clone()
	st.mu.Unlock()

	st.recordCount(count)
	return clone, nil
}

// Update merges the patch into the session, refreshes LastActivity, and
// notifies listeners with the new state. The session is created if absent.
func (st *Store) Update(peerID string, patch Patch) (*Session, error) {
	if peerID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Store", "Update", "empty peer id")
	}

	st.mu.Lock()
	s, ok := st.sessions[peerID]
	if !ok {
		now := st.now()
		s = &Session{
			PeerID:       peerID,
			CreatedAt:    now,
			WorkflowStep: "idle",
		}
		st.sessions[peerID] = s
	}

	for key, val := range patch {
		if !applyField(s, key, val) {
			st.logger.Debug("Ignoring unknown session field", "peer_id", peerID, "field", key)
		}
	}
	s.LastActivity = st.now()
	clone := s.clone()
	count := len(st.sessions)
	st.mu.Unlock()

	st.recordCount(count)
	st.notify(peerID, clone)
	return clone.clone(), nil
}

// Delete removes a session and notifies listeners. Returns whether a
// record existed.
func (st *Store) Delete(peerID string) bool {
	st.mu.Lock()
	_, existed := st.sessions[peerID]
	delete(st.sessions, peerID)
	count := len(st.sessions)
	st.mu.Unlock()

	if existed {
		st.logger.Info("Session deleted", "peer_id", peerID)
		st.recordCount(count)
		st.notify(peerID, nil)
	}
	return existed
}

// Get returns a clone of an existing session, or ErrSessionNotFound
func (st *Store) Get(peerID string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[peerID]
	st.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrSessionNotFound, peerID)
	}
	return s.clone(), nil
}

// Count returns the number of live sessions
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Peers returns the ids of all live sessions
func (st *Store) Peers() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	peers := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		peers = append(peers, id)
	}
	return peers
}

// ReapStale deletes sessions idle for longer than maxAge and returns the
// reaped peer ids.
func (st *Store) ReapStale(maxAge time.Duration) []string {
	cutoff := st.now().Add(-maxAge)

	st.mu.Lock()
	var reaped []string
	for id, s := range st.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(st.sessions, id)
			reaped = append(reaped, id)
		}
	}
	count := len(st.sessions)
	st.mu.Unlock()

	if len(reaped) > 0 {
		st.logger.Info("Reaped stale sessions", "count", len(reaped), "max_age", maxAge)
		st.recordCount(count)
		if st.metrics != nil {
			st.metrics.CoreMetrics().AddSessionsReaped(len(reaped))
		}
		for _, id := range reaped {
			st.notify(id, nil)
		}
	}
	return reaped
}

// StartReaper runs ReapStale on a fixed interval until the context ends
func (st *Store) StartReaper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.ReapStale(maxAge)
			}
		}
	}()
}

// notify delivers a change synchronously to all listeners, isolating each
// from the others' panics.
func (st *Store) notify(peerID string, s *Session) {
	st.mu.RLock()
	listeners := make([]Listener, len(st.listeners))
	copy(listeners, st.listeners)
	st.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					st.logger.Error("Session listener panic", "peer_id", peerID, "panic", fmt.Sprintf("%v", rec))
				}
			}()
			l(peerID, s.clone())
		}()
	}
}

func (st *Store) recordCount(n int) {
	if st.metrics != nil {
		st.metrics.CoreMetrics().SetSessionsActive(n)
	}
}

// applyField merges one patch entry into the session. Returns false for
// unknown field names.
func applyField(s *Session, key string, val any) bool {
	switch key {
	case "workflow_step":
		if v, ok := val.(string); ok {
			s.WorkflowStep = v
			return true
		}
	case "analysis_data":
		if raw, ok := toRawMessage(val); ok {
			s.AnalysisData = raw
			return true
		}
	case "extracted_text":
		switch v := val.(type) {
		case map[string]string:
			s.ExtractedText = v
			return true
		case map[string]any:
			text := make(map[string]string, len(v))
			for k, item := range v {
				if str, ok := item.(string); ok {
					text[k] = str
				}
			}
			s.ExtractedText = text
			return true
		}
	case "extracted_tables":
		if raw, ok := toRawMessage(val); ok {
			s.ExtractedTables = raw
			return true
		}
	case "highlight_count":
		switch v := val.(type) {
		case int:
			s.HighlightCount = v
			return true
		case float64:
			s.HighlightCount = int(v)
			return true
		}
	}
	return false
}

func toRawMessage(val any) (json.RawMessage, bool) {
	switch v := val.(type) {
	case json.RawMessage:
		return v, true
	case []byte:
		return json.RawMessage(v), true
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return raw, true
	}
}
