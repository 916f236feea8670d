package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/annostream/health"
)

// Manager owns a set of services and drives their lifecycle as a unit.
// Services start concurrently and stop in reverse registration order.
type Manager struct {
	mu       sync.RWMutex
	services []Service
	byName   map[string]Service
	logger   *slog.Logger
}

// NewManager creates an empty service manager
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		byName: make(map[string]Service),
		logger: logger.With("component", "service-manager"),
	}
}

// Register adds a service. Registering two services with the same name is
// a programming error.
func (m *Manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[svc.Name()]; exists {
		return fmt.Errorf("service %q already registered", svc.Name())
	}
	m.services = append(m.services, svc)
	m.byName[svc.Name()] = svc
	return nil
}

// Get returns a registered service by name
func (m *Manager) Get(name string) (Service, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.byName[name]
	return svc, ok
}

// StartAll starts every registered service concurrently. The first failure
// cancels the rest and already-started services are stopped.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	services := make([]Service, len(m.services))
	copy(services, m.services)
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			m.logger.Info("Starting service", "service", svc.Name())
			if err := svc.Start(gctx); err != nil {
				return fmt.Errorf("start %s: %w", svc.Name(), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.logger.Error("Service startup failed, rolling back", "error", err)
		m.StopAll(5 * time.Second)
		return err
	}

	m.logger.Info("All services started", "count", len(services))
	return nil
}

// StopAll stops services in reverse registration order so dependents go
// down before their dependencies.
func (m *Manager) StopAll(timeout time.Duration) {
	m.mu.RLock()
	services := make([]Service, len(m.services))
	copy(services, m.services)
	m.mu.RUnlock()

	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		m.logger.Info("Stopping service", "service", svc.Name())
		if err := svc.Stop(timeout); err != nil {
			m.logger.Error("Service stop failed", "service", svc.Name(), "error", err)
		}
	}
}

// Health aggregates every service's health into one status
func (m *Manager) Health() health.Status {
	m.mu.RLock()
	services := make([]Service, len(m.services))
	copy(services, m.services)
	m.mu.RUnlock()

	children := make([]health.Status, 0, len(services))
	for _, svc := range services {
		children = append(children, svc.Health())
	}
	return health.Aggregate("annostream", children...)
}

// Names returns registered service names in registration order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.services))
	for _, svc := range m.services {
		names = append(names, svc.Name())
	}
	return names
}
