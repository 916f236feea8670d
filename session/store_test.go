package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/annostream/errors"
)

func TestStore_GetOrCreate(t *testing.T) {
	st := NewStore()

	s, err := st.GetOrCreate("tab-1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "tab-1", s.PeerID)
	assert.Equal(t, "idle", s.WorkflowStep)
	assert.False(t, s.CreatedAt.IsZero())

	// Second call returns the same session, not a fresh one
	again, err := st.GetOrCreate("tab-1")
	require.NoError(t, err)
	assert.Equal(t, s.CreatedAt, again.CreatedAt)
	assert.Equal(t, 1, st.Count())
}

func TestStore_GetOrCreateEmptyID(t *testing.T) {
	st := NewStore()
	_, err := st.GetOrCreate("")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestStore_ReturnsClones(t *testing.T) {
	st := NewStore()
	s, err := st.GetOrCreate("tab-1")
	require.NoError(t, err)

	// Mutating the returned session must not leak into the store
	s.WorkflowStep = "mangled"
	s.ExtractedText = map[string]string{"abstract": "oops"}

	fresh, err := st.Get("tab-1")
	require.NoError(t, err)
	assert.Equal(t, "idle", fresh.WorkflowStep)
	assert.Nil(t, fresh.ExtractedText)
}

func TestStore_Update(t *testing.T) {
	st := NewStore()

	s, err := st.Update("tab-1", Patch{
		"workflow_step":   "analyzed",
		"highlight_count": 12,
		"analysis_data":   json.RawMessage(`{"P1":{}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "analyzed", s.WorkflowStep)
	assert.Equal(t, 12, s.HighlightCount)
	assert.JSONEq(t, `{"P1":{}}`, string(s.AnalysisData))
}

func TestStore_UpdateIgnoresUnknownFields(t *testing.T) {
	st := NewStore()

	s, err := st.Update("tab-1", Patch{
		"workflow_step": "extracting",
		"bogus_field":   "value",
	})
	require.NoError(t, err)
	assert.Equal(t, "extracting", s.WorkflowStep)
}

func TestStore_UpdateRefreshesActivity(t *testing.T) {
	now := time.Now()
	clock := now
	st := NewStore(WithClock(func() time.Time { return clock }))

	_, err := st.GetOrCreate("tab-1")
	require.NoError(t, err)

	clock = now.Add(10 * time.Minute)
	s, err := st.Update("tab-1", Patch{"workflow_step": "analyzed"})
	require.NoError(t, err)
	assert.Equal(t, clock, s.LastActivity)
}

func TestStore_GetMissing(t *testing.T) {
	st := NewStore()
	_, err := st.Get("ghost")
	require.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestStore_Delete(t *testing.T) {
	st := NewStore()
	_, err := st.GetOrCreate("tab-1")
	require.NoError(t, err)

	assert.True(t, st.Delete("tab-1"))
	assert.False(t, st.Delete("tab-1"))
	assert.Equal(t, 0, st.Count())
}

func TestStore_ListenersNotified(t *testing.T) {
	st := NewStore()

	var mu sync.Mutex
	type event struct {
		peerID  string
		deleted bool
	}
	var events []event

	st.OnChange(func(peerID string, s *Session) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event{peerID: peerID, deleted: s == nil})
	})

	_, err := st.Update("tab-1", Patch{"workflow_step": "analyzed"})
	require.NoError(t, err)
	st.Delete("tab-1")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, event{"tab-1", false}, events[0])
	assert.Equal(t, event{"tab-1", true}, events[1])
}

func TestStore_ListenerPanicIsolated(t *testing.T) {
	st := NewStore()

	st.OnChange(func(string, *Session) {
		panic("bad listener")
	})
	called := false
	st.OnChange(func(string, *Session) {
		called = true
	})

	_, err := st.Update("tab-1", Patch{"workflow_step": "analyzed"})
	require.NoError(t, err)
	assert.True(t, called, "second listener should run despite the first panicking")
}

func TestStore_ReapStale(t *testing.T) {
	now := time.Now()
	clock := now
	st := NewStore(WithClock(func() time.Time { return clock }))

	_, err := st.GetOrCreate("old-tab")
	require.NoError(t, err)

	clock = now.Add(25 * time.Hour)
	_, err = st.GetOrCreate("fresh-tab")
	require.NoError(t, err)

	reaped := st.ReapStale(DefaultMaxAge)
	assert.Equal(t, []string{"old-tab"}, reaped)
	assert.Equal(t, 1, st.Count())

	_, err = st.Get("fresh-tab")
	assert.NoError(t, err)
}

func TestStore_ReapStaleNotifiesDeletion(t *testing.T) {
	now := time.Now()
	clock := now
	st := NewStore(WithClock(func() time.Time { return clock }))

	_, err := st.GetOrCreate("old-tab")
	require.NoError(t, err)

	var deleted []string
	st.OnChange(func(peerID string, s *Session) {
		if s == nil {
			deleted = append(deleted, peerID)
		}
	})

	clock = now.Add(48 * time.Hour)
	st.ReapStale(DefaultMaxAge)
	assert.Equal(t, []string{"old-tab"}, deleted)
}

func TestStore_ActivityProtectsFromReaping(t *testing.T) {
	now := time.Now()
	clock := now
	st := NewStore(WithClock(func() time.Time { return clock }))

	_, err := st.GetOrCreate("busy-tab")
	require.NoError(t, err)

	// Activity at hour 23 pushes the staleness window forward
	clock = now.Add(23 * time.Hour)
	_, err = st.Update("busy-tab", Patch{"workflow_step": "analyzed"})
	require.NoError(t, err)

	clock = now.Add(25 * time.Hour)
	reaped := st.ReapStale(DefaultMaxAge)
	assert.Empty(t, reaped)
}

func TestStore_Peers(t *testing.T) {
	st := NewStore()
	for _, id := range []string{"a", "b", "c"} {
		_, err := st.GetOrCreate(id)
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, st.Peers())
}

func TestStore_StartReaper(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := now
	st := NewStore(WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}))

	_, err := st.GetOrCreate("tab-1")
	require.NoError(t, err)

	mu.Lock()
	clock = now.Add(48 * time.Hour)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st.StartReaper(ctx, 10*time.Millisecond, DefaultMaxAge)

	assert.Eventually(t, func() bool {
		return st.Count() == 0
	}, time.Second, 10*time.Millisecond)
}
