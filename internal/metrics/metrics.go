// Package metrics exposes the Prometheus collectors the worker pool, the
// notification fan-out, and the webhook ingress instrument themselves with.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector this process registers.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventcore",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight ingress HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventcore",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of ingress HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventcore",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of ingress HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventcore",
		Subsystem: "worker",
		Name:      "events_processed_total",
		Help:      "Total number of stream entries processed, by worker group and outcome.",
	}, []string{"group", "status"})

	eventProcessDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventcore",
		Subsystem: "worker",
		Name:      "event_process_duration_seconds",
		Help:      "Duration of per-entry handler execution, by worker group.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"group"})

	streamBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "eventcore",
		Subsystem: "broker",
		Name:      "stream_backlog",
		Help:      "Pending entry count observed for a stream/group pair at last poll.",
	}, []string{"stream", "group"})

	notificationsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventcore",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Total number of notifications dropped before delivery, by reason.",
	}, []string{"reason"})

	notificationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eventcore",
		Subsystem: "notify",
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of notification fan-out dispatch, from rate-limit check to persistence.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		eventsProcessed,
		eventProcessDuration,
		streamBacklog,
		notificationsDropped,
		notificationLatency,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler serves the registered collectors for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request-count/duration/in-flight metrics.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordEventProcessed records a single worker handler invocation.
func RecordEventProcessed(group string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	eventsProcessed.WithLabelValues(group, status).Inc()
	eventProcessDuration.WithLabelValues(group).Observe(duration.Seconds())
}

// RecordStreamBacklog records the pending entry count for a stream/group at
// the moment it was observed.
func RecordStreamBacklog(stream, group string, pending int) {
	streamBacklog.WithLabelValues(stream, group).Set(float64(pending))
}

// RecordNotificationDropped records a notification that never reached any
// channel, tagged by why it was dropped ("rate_limited", "preference_disabled",
// "no_channels_delivered").
func RecordNotificationDropped(reason string) {
	notificationsDropped.WithLabelValues(reason).Inc()
}

// RecordNotificationDispatch records the latency of one Fanout.Dispatch call.
func RecordNotificationDispatch(duration time.Duration) {
	notificationLatency.Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses webhook delivery paths like /webhooks/github into
// a label cardinality that won't explode the requests_total series; the
// ingress surface is small and flat so no per-id trimming is needed.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	return "/" + strings.Join(parts, "/")
}
