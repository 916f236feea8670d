package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestProcessStore_UpdateMergesPatch(t *testing.T) {
	ps := NewProcessStore()

	state := ps.Update(context.Background(), ProcessPatch{
		ActivePeerID: strPtr("tab-1"),
		PanelVisible: boolPtr(true),
	})
	assert.Equal(t, "tab-1", state.ActivePeerID)
	assert.True(t, state.PanelVisible)
	assert.False(t, state.OverlayVisible)
	assert.False(t, state.UpdatedAt.IsZero())

	// Absent fields stay untouched
	state = ps.Update(context.Background(), ProcessPatch{
		OverlayVisible: boolPtr(true),
	})
	assert.Equal(t, "tab-1", state.ActivePeerID)
	assert.True(t, state.PanelVisible)
	assert.True(t, state.OverlayVisible)
}

func TestProcessStore_ListenersNotified(t *testing.T) {
	ps := NewProcessStore()

	var mu sync.Mutex
	var seen []ProcessState
	ps.OnChange(func(s ProcessState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	ps.Update(context.Background(), ProcessPatch{ActivePeerID: strPtr("tab-1")})
	ps.Update(context.Background(), ProcessPatch{ActivePeerID: strPtr("tab-2")})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, "tab-1", seen[0].ActivePeerID)
	assert.Equal(t, "tab-2", seen[1].ActivePeerID)
}

func TestProcessStore_ListenerPanicIsolated(t *testing.T) {
	ps := NewProcessStore()
	ps.OnChange(func(ProcessState) { panic("bad listener") })

	assert.NotPanics(t, func() {
		ps.Update(context.Background(), ProcessPatch{PanelVisible: boolPtr(true)})
	})
}

// memSnapshots is an in-memory SnapshotStore for tests
type memSnapshots struct {
	mu   sync.Mutex
	data []byte
}

func (m *memSnapshots) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *memSnapshots) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func TestProcessStore_PersistsWhenFlagSet(t *testing.T) {
	snaps := &memSnapshots{}
	ps := NewProcessStore(WithSnapshots(snaps))

	// Persist off: no snapshot written
	ps.Update(context.Background(), ProcessPatch{ActivePeerID: strPtr("tab-1")})
	assert.Nil(t, snaps.data)

	// Persist on: snapshot follows every update
	ps.Update(context.Background(), ProcessPatch{Persist: boolPtr(true)})
	require.NotNil(t, snaps.data)
}

func TestProcessStore_Restore(t *testing.T) {
	snaps := &memSnapshots{}

	first := NewProcessStore(WithSnapshots(snaps))
	first.Update(context.Background(), ProcessPatch{
		ActivePeerID: strPtr("tab-42"),
		Persist:      boolPtr(true),
		PanelVisible: boolPtr(true),
	})

	second := NewProcessStore(WithSnapshots(snaps))
	require.NoError(t, second.Restore(context.Background()))

	state := second.Get()
	assert.Equal(t, "tab-42", state.ActivePeerID)
	assert.True(t, state.PanelVisible)
	assert.True(t, state.Persist)
}

func TestProcessStore_RestoreMissingSnapshot(t *testing.T) {
	ps := NewProcessStore(WithSnapshots(&memSnapshots{}))
	assert.NoError(t, ps.Restore(context.Background()))
	assert.Equal(t, ProcessState{}, ps.Get())
}

func TestProcessStore_RestoreWithoutSnapshots(t *testing.T) {
	ps := NewProcessStore()
	assert.NoError(t, ps.Restore(context.Background()))
}
