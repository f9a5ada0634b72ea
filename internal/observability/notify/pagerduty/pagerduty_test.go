package pagerduty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/proofwork/proofwork/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when routing key missing")
	}
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := client.buildEvent(notify.DeadletterPayload{
		EventID:    "evt-9",
		Topic:      "dispute.auto_refund.requested",
		Attempts:   10,
		Error:      "boom",
		ErrorClass: "err_class",
	})

	payloadSection, ok := event["payload"].(map[string]any)
	if !ok {
		t.Fatalf("expected payload section")
	}
	if payloadSection["severity"] != notify.SeverityCritical {
		t.Fatalf("expected default severity, got %v", payloadSection["severity"])
	}
	if payloadSection["source"] != "proofwork" {
		t.Fatalf("expected default source, got %v", payloadSection["source"])
	}
	if summary, _ := payloadSection["summary"].(string); !strings.Contains(summary, "10 attempts") {
		t.Fatalf("unexpected summary %q", summary)
	}

	custom, ok := payloadSection["custom_details"].(map[string]any)
	if !ok {
		t.Fatalf("expected custom details")
	}
	for _, key := range []string{"event_id", "topic", "attempts", "error", "error_class"} {
		if _, exists := custom[key]; !exists {
			t.Fatalf("expected key %s in custom details", key)
		}
	}

	if dedup, _ := event["dedup_key"].(string); dedup != "deadletter:dispute.auto_refund.requested:evt-9" {
		t.Fatalf("unexpected dedup key %s", dedup)
	}
}

func TestSendDeadletterUsesEndpoint(t *testing.T) {
	var routingKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		routingKey, _ = body["routing_key"].(string)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "rk", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.SendDeadletter(context.Background(), notify.DeadletterPayload{EventID: "e"}); err != nil {
		t.Fatalf("SendDeadletter: %v", err)
	}
	if routingKey != "rk" {
		t.Fatalf("expected routing key to be sent, got %q", routingKey)
	}
}
