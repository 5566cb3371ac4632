// Package ingress implements the Webhook Ingress Contract (spec §4.2/§6):
// POST /webhooks/git verifies the HMAC-SHA256 signature, persists a RawEvent,
// appends the decoded envelope to the git_events stream, and answers 202; the
// health/detailed endpoints expose worker and dependency reachability.
package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/eventcore/pipeline/internal/broker"
	"github.com/eventcore/pipeline/internal/domain"
	"github.com/eventcore/pipeline/internal/health"
	"github.com/eventcore/pipeline/internal/metrics"
	"github.com/eventcore/pipeline/pkg/logger"
	"github.com/eventcore/pipeline/pkg/version"
)

const maxBodyBytes = 1 << 20 // 1 MiB, generous for a single webhook delivery

// RawEventRepository is the persistence seam for inbound deliveries.
type RawEventRepository interface {
	CreateRawEvent(ctx context.Context, ev domain.RawEvent) (domain.RawEvent, error)
}

// Appender is the subset of *broker.Broker the ingress handler depends on.
type Appender interface {
	Append(ctx context.Context, stream, eventType string, payload map[string]interface{}) (string, error)
}

// Server wires the webhook and health endpoints into a *mux.Router.
type Server struct {
	rawEvents RawEventRepository
	appender  Appender
	aggregate *health.Aggregator
	secret    string
	log       *logger.Logger
	router    *mux.Router
}

// New constructs a Server and registers its routes. secret empty disables
// signature verification (matches config.SignatureVerificationEnabled).
func New(rawEvents RawEventRepository, appender Appender, aggregate *health.Aggregator, secret string, log *logger.Logger) *Server {
	s := &Server{rawEvents: rawEvents, appender: appender, aggregate: aggregate, secret: secret, log: log}
	s.router = mux.NewRouter()
	s.router.Handle("/webhooks/git", metrics.InstrumentHandler(http.HandlerFunc(s.handleWebhook))).Methods(http.MethodPost)
	s.router.Handle("/health", metrics.InstrumentHandler(http.HandlerFunc(s.handleHealth))).Methods(http.MethodGet)
	s.router.Handle("/health/detailed", metrics.InstrumentHandler(http.HandlerFunc(s.handleHealthDetailed))).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return s
}

// ServeHTTP implements http.Handler, delegating to the registered routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "failed to read body"})
		return
	}
	if len(body) > maxBodyBytes {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "payload too large"})
		return
	}

	if s.secret != "" {
		signature := r.Header.Get("X-Signature-256")
		if !validSignature(s.secret, body, signature) {
			writeJSON(w, http.StatusForbidden, map[string]string{"status": "error", "message": "signature mismatch"})
			return
		}
	}

	eventKind := r.Header.Get("X-Event")
	deliveryID := r.Header.Get("X-Delivery")
	log := s.log.WithField("delivery_id", deliveryID).WithField("event_kind", eventKind)

	var decoded struct {
		Repo   string `json:"repo"`
		Sender string `json:"sender"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		log.WithError(err).Warn("malformed webhook payload")
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "malformed payload"})
		return
	}

	raw, err := s.rawEvents.CreateRawEvent(ctx, domain.RawEvent{
		Source:  domain.SourceGit,
		Kind:    eventKind,
		Repo:    decoded.Repo,
		Sender:  decoded.Sender,
		Payload: json.RawMessage(body),
	})
	if err != nil {
		log.WithError(err).Error("persist raw event")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "failed to record event"})
		return
	}

	if _, err := s.appender.Append(ctx, broker.StreamGitEvents, eventKind, map[string]interface{}{
		"event_id":    raw.ID,
		"delivery_id": deliveryID,
		"action":      decoded.Action,
		"data":        json.RawMessage(body),
	}); err != nil {
		log.WithError(err).Error("append to git_events stream")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "failed to enqueue event"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "event_id": raw.ID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.aggregate.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":    report.Status,
		"timestamp": report.Timestamp,
		"version":   version.Version,
	})
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	report, workers := s.aggregate.Detailed(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":    report.Status,
		"timestamp": report.Timestamp,
		"version":   version.Version,
		"checks":    report.Checks,
		"host":      report.Host,
		"workers":   workers,
	})
}

// validSignature verifies header against the HMAC-SHA256 of body using
// secret, in the "sha256=<hex>" form the chat client also produces on its
// outbound side.
func validSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	given, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(given, expected) == 1
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WorkerStatsFunc adapts a slice of workers.Stats-shaped snapshots into the
// closure health.NewAggregator expects, keeping internal/health decoupled
// from internal/workers.
type WorkerStatsFunc func() []health.WorkerStats
