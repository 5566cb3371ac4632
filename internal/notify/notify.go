// Package notify implements the Notification Fan-out (spec §4.7): rate-limit
// check, preference resolution, per-channel message rendering, and a
// persist-before-ack notification record.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/eventcore/pipeline/internal/domain"
	"github.com/eventcore/pipeline/internal/metrics"
	"github.com/eventcore/pipeline/internal/retryutil"
)

// DefaultMaxPerWindow and DefaultWindow are the rate-limiter defaults applied
// when a Fanout is constructed without overriding them.
const (
	DefaultMaxPerWindow = 20
	DefaultWindow       = time.Hour
)

// RateLimiter is the subset of internal/ratelimit the fan-out depends on.
type RateLimiter interface {
	Allow(ctx context.Context, recipient string, max int, window time.Duration) (bool, error)
}

// PreferenceResolver resolves a recipient's notification preference, already
// defaulted to enabled/chat when no row exists.
type PreferenceResolver interface {
	GetNotificationPreference(ctx context.Context, recipient string) (domain.NotificationPreference, error)
}

// Repository is the persistence seam for the created Notification record.
type Repository interface {
	CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error)
}

// ChatMessage is a rendered chat-channel payload: a structured block message
// with header, body, context, and an optional action button.
type ChatMessage struct {
	Header      string
	Body        string
	Context     string
	ActionLabel string
	ActionURL   string
}

// ChatPoster posts a rendered message to a recipient's chat DM/channel.
type ChatPoster interface {
	PostMessage(ctx context.Context, recipient string, msg ChatMessage) error
}

// Request describes a single notification to fan out.
type Request struct {
	Recipient string
	Team      string
	Kind      string // change_impact, breaking_change, pr_reviewed, task_assigned, automation_triggered, ...
	Title     string
	Body      string
	SourceRef string
	Priority  domain.Priority
}

// Fanout renders, rate-limits, and persists notifications.
type Fanout struct {
	repo         Repository
	prefs        PreferenceResolver
	limiter      RateLimiter
	chat         ChatPoster
	maxPerWindow int
	window       time.Duration
	chatRetry    retryutil.Config
}

// Option configures a Fanout at construction.
type Option func(*Fanout)

// WithWindow overrides the rate-limit window and per-window max.
func WithWindow(max int, window time.Duration) Option {
	return func(f *Fanout) {
		f.maxPerWindow = max
		f.window = window
	}
}

// WithChatRetry overrides the default bounded-retry policy applied to chat
// post attempts.
func WithChatRetry(cfg retryutil.Config) Option {
	return func(f *Fanout) { f.chatRetry = cfg }
}

// New constructs a Fanout. chat may be nil if no chat channel is configured;
// the chat channel is then simply never rendered.
func New(repo Repository, prefs PreferenceResolver, limiter RateLimiter, chat ChatPoster, opts ...Option) *Fanout {
	f := &Fanout{
		repo:         repo,
		prefs:        prefs,
		limiter:      limiter,
		chat:         chat,
		maxPerWindow: DefaultMaxPerWindow,
		window:       DefaultWindow,
		chatRetry:    retryutil.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Dispatch implements §4.7's per-entry handling. It returns dropped=true when
// the recipient is over their rate-limit window or preferences disable
// delivery; callers must still acknowledge the originating stream message in
// that case — a drop is not an error. A chat post is retried (base 1s, up to
// 3 attempts per internal/retryutil.Default) before being treated as a
// transient failure; on exhausted retries Dispatch returns a non-nil error so
// the caller leaves the message pending for claim-idle re-dispatch instead of
// acking a lost notification.
func (f *Fanout) Dispatch(ctx context.Context, req Request) (dropped bool, err error) {
	start := time.Now()
	defer func() { metrics.RecordNotificationDispatch(time.Since(start)) }()

	allowed, err := f.limiter.Allow(ctx, req.Recipient, f.maxPerWindow, f.window)
	if err != nil {
		return false, fmt.Errorf("check rate limit: %w", err)
	}
	if !allowed {
		metrics.RecordNotificationDropped("rate_limited")
		return true, nil
	}

	pref, err := f.prefs.GetNotificationPreference(ctx, req.Recipient)
	if err != nil {
		return false, fmt.Errorf("resolve preference: %w", err)
	}
	if !pref.Enabled {
		metrics.RecordNotificationDropped("preference_disabled")
		return true, nil
	}

	var delivered []string
	for _, channel := range pref.Channels {
		switch channel {
		case "chat":
			if f.chat == nil {
				continue
			}
			msg := renderChatMessage(req)
			if err := retryutil.Do(ctx, f.chatRetry, func() error {
				return f.chat.PostMessage(ctx, req.Recipient, msg)
			}); err != nil {
				return false, fmt.Errorf("post chat message: %w", err)
			}
			delivered = append(delivered, channel)
		default:
			// Unknown channels are recorded as a no-op render; the notification
			// record still carries intent even if nothing external fired.
			delivered = append(delivered, channel)
		}
	}

	if len(delivered) == 0 {
		metrics.RecordNotificationDropped("no_channels_delivered")
		return true, nil
	}

	if _, err := f.repo.CreateNotification(ctx, domain.Notification{
		Recipient:         req.Recipient,
		Team:              req.Team,
		Kind:              req.Kind,
		Title:             req.Title,
		Body:              req.Body,
		SourceRef:         req.SourceRef,
		Priority:          req.Priority,
		DeliveredChannels: delivered,
	}); err != nil {
		return false, fmt.Errorf("persist notification: %w", err)
	}

	return false, nil
}

func renderChatMessage(req Request) ChatMessage {
	msg := ChatMessage{
		Header:  req.Title,
		Body:    req.Body,
		Context: fmt.Sprintf("%s · %s", req.Kind, req.Priority),
	}
	if req.SourceRef != "" {
		msg.ActionLabel = "View"
		msg.ActionURL = req.SourceRef
	}
	return msg
}
