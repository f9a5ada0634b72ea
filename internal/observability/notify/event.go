// Package notify defines the operator notification contract for events that exhausted
// their retries, plus the HTTP delivery shared by the concrete sinks.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
)

// DeadletterPayload describes an outbox event that was moved to deadletter.
type DeadletterPayload struct {
	EventID        string
	Topic          string
	IdempotencyKey string
	Attempts       int
	Error          string
	ErrorClass     string
	Severity       string
	OccurredAt     time.Time
	Metadata       map[string]string
}

// Sink describes a destination capable of consuming deadletter notifications.
type Sink interface {
	SendDeadletter(ctx context.Context, payload DeadletterPayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload DeadletterPayload) error

// SendDeadletter implements the Sink interface.
func (f SinkFunc) SendDeadletter(ctx context.Context, payload DeadletterPayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
