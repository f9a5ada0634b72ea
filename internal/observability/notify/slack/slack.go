// Package slack posts deadletter notifications to a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/proofwork/proofwork/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client delivers deadletter notifications to a Slack webhook.
type Client struct {
	webhookURL string
	channel    string
	username   string
	post       notify.PostConfig
}

var _ notify.Sink = (*Client)(nil)

// NewClient builds a Slack webhook client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
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
		webhookURL: webhookURL,
		channel:    strings.TrimSpace(cfg.Channel),
		username:   notify.Fallback(strings.TrimSpace(cfg.Username), "proofwork"),
		post:       notify.PostConfig{Client: hc, Name: "slack webhook", RetryLimit: max(cfg.RetryLimit, 0)},
	}, nil
}

// SendDeadletter posts a formatted message to Slack.
func (c *Client) SendDeadletter(ctx context.Context, payload notify.DeadletterPayload) error {
	body, err := json.Marshal(c.formatMessage(payload))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return notify.PostJSON(ctx, c.post, c.webhookURL, body)
}

func (c *Client) formatMessage(payload notify.DeadletterPayload) map[string]any {
	timestamp := payload.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	var text strings.Builder
	text.WriteString("*Outbox deadletter*")
	if payload.EventID != "" {
		text.WriteString(" `" + payload.EventID + "`")
	}
	if payload.Topic != "" {
		text.WriteString(" (" + escape(payload.Topic) + ")")
	}
	text.WriteByte('\n')

	fields := []struct{ label, value string }{
		{"Severity", notify.Fallback(payload.Severity, notify.SeverityCritical)},
		{"Idempotency key", escape(payload.IdempotencyKey)},
		{"Attempts", attempts(payload.Attempts)},
		{"Error class", payload.ErrorClass},
		{"Error", escape(payload.Error)},
	}
	for _, f := range fields {
		appendField(&text, f.label, f.value)
	}
	appendMetadata(&text, payload.Metadata)
	if payload.EventID != "" {
		appendField(&text, "Requeue", "`proofwork-admin outbox requeue "+payload.EventID+"`")
	}
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func attempts(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func escape(value string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(value)
}

func appendField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• " + label + ": " + value + "\n")
}

func appendMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	text.WriteString("• Metadata:\n")
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text.WriteString("    • " + k + ": " + escape(metadata[k]) + "\n")
	}
}
