// Package chatclient provides a narrow HTTP-backed implementation of the
// opaque chat-platform capability used by the Notification Fan-out (chat
// channel) and the Rule Engine's send_message action. The chat platform's
// internals are out of scope; this package only speaks a thin post-message
// contract, signed the way the Webhook Ingress verifies inbound requests
// (HMAC-SHA256 over the raw body).
package chatclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/eventcore/pipeline/internal/notify"
	pipelineerrors "github.com/eventcore/pipeline/pkg/errors"
)

// Message is a structured chat-channel payload: header, body, context, and
// an optional action button.
type Message struct {
	Header      string `json:"header"`
	Body        string `json:"body"`
	Context     string `json:"context,omitempty"`
	ActionLabel string `json:"action_label,omitempty"`
	ActionURL   string `json:"action_url,omitempty"`
}

// Client posts messages to a chat platform over a signed HTTP request.
type Client struct {
	baseURL       string
	botToken      string
	signingSecret string
	httpClient    *http.Client
}

// New constructs a Client. botToken/signingSecret come from
// config.ChatBotToken / config.ChatSigningSecret.
func New(baseURL, botToken, signingSecret string, timeout time.Duration) *Client {
	return &Client{
		baseURL:       baseURL,
		botToken:      botToken,
		signingSecret: signingSecret,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a chat platform endpoint is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type postMessageRequest struct {
	Recipient string  `json:"recipient"`
	Message   Message `json:"message"`
}

// PostMessage sends msg to recipient. An unconfigured client is a no-op
// success, matching the fan-out's posture of treating an absent channel as
// nothing-to-deliver rather than an error.
func (c *Client) PostMessage(ctx context.Context, recipient string, msg Message) error {
	if !c.Configured() {
		return nil
	}

	body, err := json.Marshal(postMessageRequest{Recipient: recipient, Message: msg})
	if err != nil {
		return pipelineerrors.Validation(fmt.Sprintf("encode chat message: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return pipelineerrors.Transient("chat post", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.botToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.botToken)
	}
	if c.signingSecret != "" {
		req.Header.Set("X-Signature-256", "sha256="+Sign(c.signingSecret, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipelineerrors.Transient("chat post", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return pipelineerrors.Transient("chat post", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// NotifyAdapter satisfies internal/notify.ChatPoster by translating
// notify.ChatMessage into this package's Message shape.
type NotifyAdapter struct {
	Client *Client
}

var _ notify.ChatPoster = NotifyAdapter{}

// PostMessage implements notify.ChatPoster.
func (a NotifyAdapter) PostMessage(ctx context.Context, recipient string, msg notify.ChatMessage) error {
	return a.Client.PostMessage(ctx, recipient, Message{
		Header:      msg.Header,
		Body:        msg.Body,
		Context:     msg.Context,
		ActionLabel: msg.ActionLabel,
		ActionURL:   msg.ActionURL,
	})
}

// Sign computes the hex-encoded HMAC-SHA256 of body under secret, in the
// same construction the webhook ingress verifies inbound signatures with.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
