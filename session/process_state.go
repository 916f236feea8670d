package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ProcessState is the single process-wide state record, created once at
// host start. It tracks the currently focused peer and UI visibility.
type ProcessState struct {
	ActivePeerID   string    `json:"active_peer_id"`
	Persist        bool      `json:"persist"`
	PanelVisible   bool      `json:"panel_visible"`
	OverlayVisible bool      `json:"overlay_visible"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProcessPatch is a partial update; nil fields are left untouched.
type ProcessPatch struct {
	ActivePeerID   *string `json:"active_peer_id,omitempty"`
	Persist        *bool   `json:"persist,omitempty"`
	PanelVisible   *bool   `json:"panel_visible,omitempty"`
	OverlayVisible *bool   `json:"overlay_visible,omitempty"`
}

// SnapshotStore persists the process state across host restarts.
type SnapshotStore interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// ProcessStore owns the process-wide state record
type ProcessStore struct {
	mu        sync.RWMutex
	state     ProcessState
	listeners []func(ProcessState)
	snapshots SnapshotStore
	logger    *slog.Logger
	now       func() time.Time
}

// ProcessStoreOption is a functional option for configuring the ProcessStore
type ProcessStoreOption func(*ProcessStore)

// WithSnapshots enables state persistence through the given store
func WithSnapshots(s SnapshotStore) ProcessStoreOption {
	return func(ps *ProcessStore) {
		ps.snapshots = s
	}
}

// WithProcessLogger sets a custom logger
func WithProcessLogger(logger *slog.Logger) ProcessStoreOption {
	return func(ps *ProcessStore) {
		if logger != nil {
			ps.logger = logger
		}
	}
}

// NewProcessStore creates the process-wide state store
func NewProcessStore(opts ...ProcessStoreOption) *ProcessStore {
	ps := &ProcessStore{
		logger: slog.Default().With("component", "process-state"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

// OnChange registers a state-change listener
func (ps *ProcessStore) OnChange(l func(ProcessState)) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.listeners = append(ps.listeners, l)
}

// Get returns a copy of the current state
func (ps *ProcessStore) Get() ProcessState {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.state
}

// Update merges the patch into the state (absent fields untouched),
// notifies listeners, and persists a snapshot when the persist flag is set.
func (ps *ProcessStore) Update(ctx context.Context, patch ProcessPatch) ProcessState {
	ps.mu.Lock()
	if patch.ActivePeerID != nil {
		ps.state.ActivePeerID = *patch.ActivePeerID
	}
	if patch.Persist != nil {
		ps.state.Persist = *patch.Persist
	}
	if patch.PanelVisible != nil {
		ps.state.PanelVisible = *patch.PanelVisible
	}
	if patch.OverlayVisible != nil {
		ps.state.OverlayVisible = *patch.OverlayVisible
	}
	ps.state.UpdatedAt = ps.now()
	state := ps.state
	listeners := make([]func(ProcessState), len(ps.listeners))
	copy(listeners, ps.listeners)
	ps.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					ps.logger.Error("Process state listener panic", "panic", fmt.Sprintf("%v", rec))
				}
			}()
			l(state)
		}()
	}

	if state.Persist && ps.snapshots != nil {
		if data, err := json.Marshal(state); err == nil {
			if err := ps.snapshots.Save(ctx, data); err != nil {
				ps.logger.Warn("Process state snapshot failed", "error", err)
			}
		}
	}

	return state
}

// Restore loads a persisted snapshot, if one exists, into the store.
// A missing snapshot is not an error.
func (ps *ProcessStore) Restore(ctx context.Context) error {
	if ps.snapshots == nil {
		return nil
	}

	data, err := ps.snapshots.Load(ctx)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var state ProcessState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal process state snapshot: %w", err)
	}

	ps.mu.Lock()
	ps.state = state
	ps.mu.Unlock()

	ps.logger.Info("Process state restored", "active_peer", state.ActivePeerID)
	return nil
}
