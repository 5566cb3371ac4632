package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestInstrumentHandlerRecordsMetrics(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/webhooks/github", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	if !metricCounterGreaterOrEqual(t, "eventcore_http_requests_total", map[string]string{
		"method": "GET", "path": "/webhooks/github", "status": "202",
	}, 1) {
		t.Fatalf("expected http request counter to increment")
	}
	if !metricHistogramCountGreaterOrEqual(t, "eventcore_http_request_duration_seconds", map[string]string{
		"method": "GET", "path": "/webhooks/github",
	}, 1) {
		t.Fatalf("expected http duration histogram to record samples")
	}
}

func TestInstrumentHandlerMetricsPathPassthrough(t *testing.T) {
	called := false
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected /metrics path to pass through to handler")
	}
}

func TestRecordEventProcessed(t *testing.T) {
	RecordEventProcessed("change_processor", 10*time.Millisecond, nil)
	if !metricCounterGreaterOrEqual(t, "eventcore_worker_events_processed_total", map[string]string{
		"group": "change_processor", "status": "success",
	}, 1) {
		t.Fatal("expected success counter to increment")
	}

	RecordEventProcessed("change_processor", 5*time.Millisecond, errors.New("boom"))
	if !metricCounterGreaterOrEqual(t, "eventcore_worker_events_processed_total", map[string]string{
		"group": "change_processor", "status": "error",
	}, 1) {
		t.Fatal("expected error counter to increment")
	}
}

func TestRecordStreamBacklog(t *testing.T) {
	RecordStreamBacklog("git_events", "change_processors", 7)
	if !metricGaugeEquals(t, "eventcore_broker_stream_backlog", map[string]string{
		"stream": "git_events", "group": "change_processors",
	}, 7) {
		t.Fatal("expected backlog gauge to be set")
	}
}

func TestRecordNotificationDropped(t *testing.T) {
	RecordNotificationDropped("rate_limited")
	if !metricCounterGreaterOrEqual(t, "eventcore_notify_dropped_total", map[string]string{"reason": "rate_limited"}, 1) {
		t.Fatal("expected dropped counter to increment")
	}
}

func TestRecordNotificationDispatch(t *testing.T) {
	RecordNotificationDispatch(20 * time.Millisecond)
	if !metricHistogramCountGreaterOrEqual(t, "eventcore_notify_dispatch_duration_seconds", nil, 1) {
		t.Fatal("expected dispatch duration histogram to record")
	}
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct{ input, expected string }{
		{"", "/"},
		{"/", "/"},
		{"//", "/"},
		{"/webhooks/github", "/webhooks/github"},
		{"webhooks/github", "/webhooks/github"},
	}
	for _, tt := range tests {
		if got := canonicalPath(tt.input); got != tt.expected {
			t.Errorf("canonicalPath(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	sr.WriteHeader(http.StatusNotFound)
	if sr.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", sr.status)
	}

	rec2 := httptest.NewRecorder()
	sr2 := &statusRecorder{ResponseWriter: rec2, status: 0}
	if _, err := sr2.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if sr2.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", sr2.status)
	}
}

func TestHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected non-empty metrics response")
	}
}

func metricCounterGreaterOrEqual(t *testing.T, name string, labels map[string]string, min float64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetCounter() != nil {
				if metric.GetCounter().GetValue() >= min {
					return true
				}
			}
		}
	}
	return false
}

func metricGaugeEquals(t *testing.T, name string, labels map[string]string, expected float64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetGauge() != nil {
				return metric.GetGauge().GetValue() == expected
			}
		}
	}
	return false
}

func metricHistogramCountGreaterOrEqual(t *testing.T, name string, labels map[string]string, min uint64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetHistogram() != nil {
				if metric.GetHistogram().GetSampleCount() >= min {
					return true
				}
			}
		}
	}
	return false
}

func labelsMatch(metric *io_prometheus_client.Metric, labels map[string]string) bool {
	if len(labels) == 0 {
		return true
	}
	matched := 0
	for _, lbl := range metric.GetLabel() {
		if val, ok := labels[lbl.GetName()]; ok && val == lbl.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}
