// Package supervisor owns the lifecycle of the server's background
// services — the worker pool instances, the broker consumer-group
// bootstrap, and the reconciliation cron — so cmd/server can register them
// once and start/stop them deterministically.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Service is a lifecycle-managed background component.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService is a convenient Service for components without background
// processing, useful in tests and partial wiring.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string { return n.ServiceName }

func (NoopService) Start(context.Context) error { return nil }

func (NoopService) Stop(context.Context) error { return nil }

// Manager registers services and starts/stops them in deterministic order.
type Manager struct {
	mu        sync.Mutex
	services  []Service
	started   bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{services: make([]Service, 0)}
}

// Register appends svc to the start order. Registering after Start returns
// an error.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("cannot register a nil service")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("service %q registered after manager start", svc.Name())
	}
	m.services = append(m.services, svc)
	return nil
}

// Start runs Start on every registered service in registration order. If one
// fails, already-started services are stopped in reverse order before the
// error is returned; services after the failing one never start.
func (m *Manager) Start(ctx context.Context) error {
	var startErr error
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		for idx, svc := range services {
			if err := svc.Start(ctx); err != nil {
				startErr = fmt.Errorf("start %s: %w", svc.Name(), err)
				for i := idx - 1; i >= 0; i-- {
					_ = services[i].Stop(ctx)
				}
				break
			}
		}
	})
	return startErr
}

// Stop runs Stop on every registered service in reverse order, collecting
// every failure rather than bailing on the first one — a shutdown should
// give every service a chance to flush and release its resources.
func (m *Manager) Stop(ctx context.Context) error {
	var stopErr error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		services := append([]Service(nil), m.services...)
		m.mu.Unlock()

		var errs *multierror.Error
		for i := len(services) - 1; i >= 0; i-- {
			if err := services[i].Stop(ctx); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("stop %s: %w", services[i].Name(), err))
			}
		}
		if errs != nil {
			stopErr = errs.ErrorOrNil()
		}
	})
	return stopErr
}

// Len reports how many services are registered, for diagnostics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.services)
}
