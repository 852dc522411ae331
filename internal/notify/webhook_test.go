package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deployguard/internal/config"
	"deployguard/internal/model"
)

func TestWebhookSend(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL)
	ev := model.Event{
		EpochID:  "ep-1",
		Kind:     model.EventRollback,
		Severity: "CRITICAL",
		Message:  "checkout-service rolled back to v2.0.3",
	}
	if err := sink.Send(context.Background(), ev); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Username != "deployguard" {
		t.Fatalf("username = %q", got.Username)
	}
	if !strings.Contains(got.Text, "ep-1") || !strings.Contains(got.Text, "rolled back") {
		t.Fatalf("text = %q", got.Text)
	}
	if got.Event.Kind != model.EventRollback {
		t.Fatalf("event kind = %s", got.Event.Kind)
	}
}

func TestWebhookSendNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL)
	if err := sink.Send(context.Background(), model.Event{Severity: "INFO"}); err == nil {
		t.Fatalf("expected error on 502 response")
	}
}

func TestNotifierDeliversAndRetries(t *testing.T) {
	var calls int
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer server.Close()

	n := New(config.NotifyConfig{
		WebhookURL: server.URL,
		Timeout:    time.Second,
		Retries:    1,
	}, nil)
	n.Publish(model.Event{EpochID: "ep-1", Kind: model.EventDecision, Severity: "WARNING"})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("event not delivered after retry, calls = %d", calls)
	}
}
