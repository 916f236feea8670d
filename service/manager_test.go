package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/annostream/health"
	"github.com/c360/annostream/metric"
)

// stubService is a minimal Service for manager tests
type stubService struct {
	name     string
	startErr error

	mu      sync.Mutex
	started bool
	order   *[]string // shared stop order recorder
}

func (s *stubService) Name() string { return s.name }

func (s *stubService) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *stubService) Stop(time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	if s.order != nil {
		*s.order = append(*s.order, s.name)
	}
	return nil
}

func (s *stubService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return StatusRunning
	}
	return StatusStopped
}

func (s *stubService) IsHealthy() bool { return s.Status() == StatusRunning }

func (s *stubService) GetStatus() Info { return Info{Name: s.name, Status: s.Status()} }

func (s *stubService) Health() health.Status {
	if s.IsHealthy() {
		return health.NewHealthy(s.name, "ok")
	}
	return health.NewUnhealthy(s.name, "stopped")
}

func (s *stubService) RegisterMetrics(metric.MetricsRegistrar) error { return nil }

func TestManager_RegisterDuplicate(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Register(&stubService{name: "a"}))
	assert.Error(t, m.Register(&stubService{name: "a"}))
}

func TestManager_StartAll(t *testing.T) {
	m := NewManager(nil)
	a := &stubService{name: "a"}
	b := &stubService{name: "b"}
	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b))

	require.NoError(t, m.StartAll(context.Background()))
	assert.Equal(t, StatusRunning, a.Status())
	assert.Equal(t, StatusRunning, b.Status())
}

func TestManager_StartAllFailureRollsBack(t *testing.T) {
	m := NewManager(nil)
	good := &stubService{name: "good"}
	bad := &stubService{name: "bad", startErr: errors.New("no dice")}
	require.NoError(t, m.Register(good))
	require.NoError(t, m.Register(bad))

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, StatusStopped, good.Status(), "started services roll back on failure")
}

func TestManager_StopAllReverseOrder(t *testing.T) {
	m := NewManager(nil)
	var order []string
	first := &stubService{name: "first", order: &order}
	second := &stubService{name: "second", order: &order}
	require.NoError(t, m.Register(first))
	require.NoError(t, m.Register(second))
	require.NoError(t, m.StartAll(context.Background()))

	m.StopAll(time.Second)
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestManager_Health(t *testing.T) {
	m := NewManager(nil)
	a := &stubService{name: "a"}
	require.NoError(t, m.Register(a))

	// Not started: unhealthy child makes the aggregate unhealthy
	assert.True(t, m.Health().IsUnhealthy())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.Health().IsHealthy())
}

func TestManager_GetAndNames(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Register(&stubService{name: "a"}))
	require.NoError(t, m.Register(&stubService{name: "b"}))

	svc, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", svc.Name())

	_, ok = m.Get("ghost")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, m.Names())
}
