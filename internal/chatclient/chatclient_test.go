package chatclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eventcore/pipeline/internal/notify"
)

func TestPostMessageUnconfiguredIsNoOp(t *testing.T) {
	c := New("", "", "", time.Second)
	if err := c.PostMessage(context.Background(), "bob", Message{Header: "hi"}); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
}

func TestPostMessageSignsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "token", "shh", time.Second)
	if err := c.PostMessage(context.Background(), "bob", Message{Header: "API changed", Body: "see PR"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "sha256=" + Sign("shh", gotBody)
	if gotSig != want {
		t.Fatalf("expected signature %q, got %q", want, gotSig)
	}
}

func TestPostMessageReportsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", time.Second)
	if err := c.PostMessage(context.Background(), "bob", Message{Header: "hi"}); err == nil {
		t.Fatal("expected error on non-2xx upstream response")
	}
}

func TestNotifyAdapterTranslatesChatMessage(t *testing.T) {
	var got postMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := NotifyAdapter{Client: New(srv.URL, "", "", time.Second)}
	err := adapter.PostMessage(context.Background(), "bob", notify.ChatMessage{
		Header:      "API changed",
		Body:        "see PR",
		ActionLabel: "View",
		ActionURL:   "https://example.com/pr/1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Recipient != "bob" || got.Message.Header != "API changed" || got.Message.ActionURL != "https://example.com/pr/1" {
		t.Fatalf("unexpected translated message: %+v", got)
	}
}
