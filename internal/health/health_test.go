package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestCheckDependencyNilIsUnhealthy(t *testing.T) {
	check := CheckDependency(context.Background(), "broker", nil)
	if check.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy for nil dependency, got %v", check.Status)
	}
}

func TestCheckDependencyErrorIsUnhealthy(t *testing.T) {
	check := CheckDependency(context.Background(), "store", fakePinger{err: errors.New("down")})
	if check.Status != StatusUnhealthy || check.Message != "down" {
		t.Fatalf("expected unhealthy with message, got %+v", check)
	}
}

func TestCheckDependencyHealthy(t *testing.T) {
	check := CheckDependency(context.Background(), "store", fakePinger{})
	if check.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", check)
	}
}

func TestAggregateStatusWorstWins(t *testing.T) {
	if AggregateStatus(StatusHealthy, StatusDegraded) != StatusDegraded {
		t.Fatal("expected degraded to win over healthy")
	}
	if AggregateStatus(StatusHealthy, StatusDegraded, StatusUnhealthy) != StatusUnhealthy {
		t.Fatal("expected unhealthy to win over degraded")
	}
	if AggregateStatus() != StatusHealthy {
		t.Fatal("expected healthy with no checks")
	}
}

func TestAggregatorCheckReportsWorstDependency(t *testing.T) {
	agg := NewAggregator(map[string]Pinger{
		"broker": fakePinger{},
		"store":  fakePinger{err: errors.New("timeout")},
	}, nil, nil)

	report := agg.Check(context.Background())
	if report.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy overall, got %v", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected two checks, got %d", len(report.Checks))
	}
	if report.Checks[0].Name != "broker" || report.Checks[1].Name != "store" {
		t.Fatalf("expected checks in sorted order, got %+v", report.Checks)
	}
}

func TestAggregatorDetailedIncludesWorkersAndHost(t *testing.T) {
	workerStats := []WorkerStats{{WorkerID: "w1", Stream: "git_events", Group: "change_processors", Processed: 10, StartedAt: time.Now()}}
	agg := NewAggregator(
		map[string]Pinger{"broker": fakePinger{}},
		func() []WorkerStats { return workerStats },
		func() (*HostStats, error) { return &HostStats{CPUPercent: 12.5}, nil },
	)

	report, stats := agg.Detailed(context.Background())
	if report.Host == nil || report.Host.CPUPercent != 12.5 {
		t.Fatalf("expected host stats populated, got %+v", report.Host)
	}
	if len(stats) != 1 || stats[0].WorkerID != "w1" {
		t.Fatalf("expected worker stats passed through, got %+v", stats)
	}
}

func TestAggregatorDetailedSkipsHostOnError(t *testing.T) {
	agg := NewAggregator(nil, nil, func() (*HostStats, error) { return nil, errors.New("unavailable") })
	report, _ := agg.Detailed(context.Background())
	if report.Host != nil {
		t.Fatal("expected host stats omitted when the lookup fails")
	}
}
