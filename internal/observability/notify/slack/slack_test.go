package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/proofwork/proofwork/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when webhook url missing")
	}
}

func TestFormatMessageIncludesFields(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
		Channel:    "#payments",
		Username:   "bot",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.DeadletterPayload{
		EventID:        "evt-123",
		Topic:          "payout.requested",
		IdempotencyKey: "payout:p-1",
		Attempts:       10,
		Error:          "relayer <503>",
		ErrorClass:     "errors_errorstring",
		Metadata:       map[string]string{"holder": "payout-worker-1"},
	})

	if msg["username"] != "bot" {
		t.Fatalf("expected username to be preserved, got %v", msg["username"])
	}
	if msg["channel"] != "#payments" {
		t.Fatalf("expected channel to be set, got %v", msg["channel"])
	}

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}
	for _, want := range []string{
		"Outbox deadletter", "evt-123", "payout.requested", "payout:p-1", "Attempts: 10",
		"relayer &lt;503&gt;", "holder: payout-worker-1", "outbox requeue evt-123",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("message text missing %q: %s", want, text)
		}
	}
}

func TestSendDeadletterPostsWebhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.SendDeadletter(context.Background(), notify.DeadletterPayload{EventID: "evt-1", Topic: "payout.requested"}); err != nil {
		t.Fatalf("SendDeadletter: %v", err)
	}
	if got["username"] != "proofwork" {
		t.Fatalf("expected default username, got %v", got["username"])
	}
}
