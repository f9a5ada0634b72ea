// Package pagerduty triggers PagerDuty incidents for deadlettered outbox events.
package pagerduty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/proofwork/proofwork/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	// Endpoint overrides APIEndpoint.
	Endpoint   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client publishes events via PagerDuty's Events API v2.
type Client struct {
	routingKey string
	source     string
	component  string
	endpoint   string
	post       notify.PostConfig
}

var _ notify.Sink = (*Client)(nil)

// NewClient constructs a PagerDuty events client from config. Callers must provide a routing key.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		routingKey: key,
		source:     notify.Fallback(strings.TrimSpace(cfg.Source), "proofwork"),
		component:  notify.Fallback(strings.TrimSpace(cfg.Component), "outbox"),
		endpoint:   notify.Fallback(strings.TrimSpace(cfg.Endpoint), APIEndpoint),
		post:       notify.PostConfig{Client: hc, Name: "pagerduty api", RetryLimit: max(cfg.RetryLimit, 0)},
	}, nil
}

// SendDeadletter submits a trigger event to PagerDuty.
func (c *Client) SendDeadletter(ctx context.Context, payload notify.DeadletterPayload) error {
	body, err := json.Marshal(c.buildEvent(payload))
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}
	return notify.PostJSON(ctx, c.post, c.endpoint, body)
}

func (c *Client) buildEvent(payload notify.DeadletterPayload) map[string]any {
	severity := notify.Fallback(strings.ToLower(payload.Severity), notify.SeverityCritical)

	occurredAt := payload.OccurredAt.UTC()
	if payload.OccurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	custom := map[string]any{
		"event_id":        payload.EventID,
		"topic":           payload.Topic,
		"idempotency_key": payload.IdempotencyKey,
		"attempts":        payload.Attempts,
		"error":           payload.Error,
		"error_class":     payload.ErrorClass,
	}
	for k, v := range payload.Metadata {
		if _, exists := custom[k]; !exists {
			custom[k] = v
		}
	}

	return map[string]any{
		"routing_key":  c.routingKey,
		"event_action": "trigger",
		// One incident per event; a requeued event that deadletters again folds into it.
		"dedup_key": strings.Trim("deadletter:"+payload.Topic+":"+payload.EventID, ":"),
		"payload": map[string]any{
			"summary": fmt.Sprintf("Outbox event %s (%s) deadlettered after %d attempts",
				notify.Fallback(payload.EventID, "unknown"),
				notify.Fallback(payload.Topic, "unknown"),
				payload.Attempts),
			"severity":       severity,
			"source":         c.source,
			"component":      c.component,
			"timestamp":      occurredAt.Format(time.RFC3339),
			"custom_details": custom,
		},
	}
}
