package supervisor

import (
	"context"
	"errors"
	"testing"
)

type mockService struct {
	name       string
	startCount int
	stopCount  int
	startErr   error
	stopErr    error
}

func (m *mockService) Name() string { return m.name }

func (m *mockService) Start(context.Context) error {
	m.startCount++
	return m.startErr
}

func (m *mockService) Stop(context.Context) error {
	m.stopCount++
	return m.stopErr
}

func TestManagerStartStopOrder(t *testing.T) {
	mgr := New()
	services := []*mockService{{name: "a"}, {name: "b"}, {name: "c"}}
	for _, svc := range services {
		if err := mgr.Register(svc); err != nil {
			t.Fatalf("register %s: %v", svc.name, err)
		}
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	if err := mgr.Stop(context.Background()); err != nil {
		t.Fatalf("stop manager: %v", err)
	}

	for _, svc := range services {
		if svc.startCount != 1 {
			t.Fatalf("service %s expected start once, got %d", svc.name, svc.startCount)
		}
		if svc.stopCount != 1 {
			t.Fatalf("service %s expected stop once, got %d", svc.name, svc.stopCount)
		}
	}
}

func TestManagerRollbackOnStartFailure(t *testing.T) {
	mgr := New()
	good := &mockService{name: "good"}
	bad := &mockService{name: "bad", startErr: errors.New("boom")}
	never := &mockService{name: "never"}

	for _, svc := range []*mockService{good, bad, never} {
		if err := mgr.Register(svc); err != nil {
			t.Fatalf("register %s: %v", svc.name, err)
		}
	}

	if err := mgr.Start(context.Background()); err == nil {
		t.Fatalf("expected start error")
	}
	if good.stopCount == 0 {
		t.Fatalf("expected good service to be stopped after failure")
	}
	if never.startCount != 0 {
		t.Fatalf("service registered after the failing one must not start")
	}
}

func TestManagerStopAggregatesAllFailures(t *testing.T) {
	mgr := New()
	a := &mockService{name: "a", stopErr: errors.New("a failed")}
	b := &mockService{name: "b"}
	c := &mockService{name: "c", stopErr: errors.New("c failed")}
	for _, svc := range []*mockService{a, b, c} {
		_ = mgr.Register(svc)
	}
	_ = mgr.Start(context.Background())

	err := mgr.Stop(context.Background())
	if err == nil {
		t.Fatalf("expected aggregated stop error")
	}
	if a.stopCount != 1 || b.stopCount != 1 || c.stopCount != 1 {
		t.Fatalf("expected every service stopped despite earlier failures: a=%d b=%d c=%d", a.stopCount, b.stopCount, c.stopCount)
	}
}

func TestManagerStopIsIdempotent(t *testing.T) {
	mgr := New()
	svc := &mockService{name: "a"}
	_ = mgr.Register(svc)
	_ = mgr.Start(context.Background())

	_ = mgr.Stop(context.Background())
	_ = mgr.Stop(context.Background())

	if svc.stopCount != 1 {
		t.Fatalf("expected Stop to run services exactly once, got %d", svc.stopCount)
	}
}

func TestManagerRegisterAfterStartFails(t *testing.T) {
	mgr := New()
	_ = mgr.Start(context.Background())

	if err := mgr.Register(&mockService{name: "late"}); err == nil {
		t.Fatalf("expected registration after start to fail")
	}
}
