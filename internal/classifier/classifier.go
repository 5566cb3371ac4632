// Package classifier implements the Classification/Extraction Capability:
// an opaque LLM-backed function returning structured verdicts (category,
// importance, is-breaking, decisions, action items), isolated behind a
// narrow interface so the core is unit-testable with a fake (spec §9).
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/eventcore/pipeline/internal/circuitbreaker"
	"github.com/eventcore/pipeline/internal/domain"
	"github.com/eventcore/pipeline/internal/retryutil"
)

// Verdict is the structured output of a classification call.
type Verdict struct {
	Category        string            `json:"category"`
	ImportanceScore float64           `json:"importance_score"`
	IsBreaking      bool              `json:"is_breaking"`
	Severity        domain.Severity   `json:"severity"`
	Decisions       []string          `json:"decisions"`
	ActionItems     []ActionItemDraft `json:"action_items"`
}

// ActionItemDraft is an extracted task candidate prior to persistence.
type ActionItemDraft struct {
	Title    string `json:"title"`
	Assignee string `json:"assignee"`
}

// FallbackVerdict is returned whenever the capability is unavailable, per
// §7's "Classification/extraction unavailable" handling: processing
// continues with a safe default rather than failing the message.
func FallbackVerdict() Verdict {
	return Verdict{Category: "other", ImportanceScore: 0, IsBreaking: false, Severity: domain.SeverityLow}
}

// Classifier is the narrow capability interface the rest of the pipeline
// depends on.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// HTTPClassifier calls an LLM-compatible completion endpoint and parses a
// JSON verdict out of the response, falling back to FallbackVerdict on any
// transport or parse failure after retrying.
type HTTPClassifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      retryutil.Config
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
}

// Option configures an HTTPClassifier.
type Option func(*HTTPClassifier)

// WithRetry overrides the default retry policy.
func WithRetry(cfg retryutil.Config) Option {
	return func(c *HTTPClassifier) { c.retry = cfg }
}

// WithRateLimit throttles outbound calls to at most rps per second with the
// given burst, protecting the upstream provider from worker-pool bursts.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *HTTPClassifier) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithCircuitBreaker overrides the default circuit breaker guarding the
// completion endpoint.
func WithCircuitBreaker(cfg circuitbreaker.Config) Option {
	return func(c *HTTPClassifier) { c.breaker = circuitbreaker.New(cfg) }
}

// NewHTTPClassifier constructs a classifier against baseURL using apiKey for
// bearer authentication, with the given per-call timeout.
func NewHTTPClassifier(baseURL, apiKey string, timeout time.Duration, opts ...Option) *HTTPClassifier {
	c := &HTTPClassifier{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retryutil.Default(),
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type completionRequest struct {
	Prompt string `json:"prompt"`
}

// Classify sends text to the completion endpoint and parses a Verdict from
// its JSON response. On any unrecoverable failure — including the circuit
// breaker refusing the call while the endpoint is known-down — it returns
// FallbackVerdict with a nil error, so callers never need special-case
// handling on the "unavailable" path.
func (c *HTTPClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return FallbackVerdict(), nil
	}

	var raw string
	err := c.breaker.Execute(ctx, func() error {
		return retryutil.Do(ctx, c.retry, func() error {
			body, err := json.Marshal(completionRequest{Prompt: classifyPrompt(text)})
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if c.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+c.apiKey)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return fmt.Errorf("classifier upstream status %d", resp.StatusCode)
			}
			payload, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode >= 400 {
				return retryutil.Permanent(fmt.Errorf("classifier upstream status %d: %s", resp.StatusCode, payload))
			}
			raw = string(payload)
			return nil
		})
	})
	if err != nil {
		return FallbackVerdict(), nil
	}

	return parseVerdict(raw), nil
}

func classifyPrompt(text string) string {
	return "Classify the following content and respond with JSON {category, importance_score, is_breaking, severity, decisions, action_items}:\n\n" + text
}

// parseVerdict extracts fields defensively with gjson, since upstream
// completion text is not guaranteed to be a single clean JSON document (it
// may be wrapped in prose or a code fence).
func parseVerdict(raw string) Verdict {
	text := gjson.Get(raw, "choices.0.text")
	body := raw
	if text.Exists() {
		body = text.String()
	}

	result := gjson.Parse(extractJSONObject(body))
	if !result.Exists() {
		return FallbackVerdict()
	}

	v := Verdict{
		Category:        result.Get("category").String(),
		ImportanceScore: result.Get("importance_score").Float(),
		IsBreaking:      result.Get("is_breaking").Bool(),
		Severity:        domain.Severity(result.Get("severity").String()),
	}
	if v.Category == "" {
		v.Category = "other"
	}
	if v.Severity == "" {
		v.Severity = domain.SeverityLow
	}
	result.Get("decisions").ForEach(func(_, value gjson.Result) bool {
		v.Decisions = append(v.Decisions, value.String())
		return true
	})
	result.Get("action_items").ForEach(func(_, value gjson.Result) bool {
		v.ActionItems = append(v.ActionItems, ActionItemDraft{
			Title:    value.Get("title").String(),
			Assignee: value.Get("assignee").String(),
		})
		return true
	})
	return v
}

// extractJSONObject returns the first balanced {...} substring, tolerating
// prose or markdown fences wrapped around the model's JSON output.
func extractJSONObject(s string) string {
	start := -1
	depth := 0
	for i, r := range s {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
