// Package model defines the core data types of the proofwork marketplace pipeline.
package model

import (
	"encoding/json"
	"time"
)

// OutboxStatus is the delivery state of an outbox event.
type OutboxStatus string

const (
	// OutboxStatusPending events are waiting to be claimed (or retried).
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusSent events were handled successfully.
	OutboxStatusSent OutboxStatus = "sent"
	// OutboxStatusDeadletter events exhausted their attempts. Terminal.
	OutboxStatusDeadletter OutboxStatus = "deadletter"
)

// Outbox topics produced and consumed by the core.
const (
	TopicVerificationRequested = "verification.requested"
	TopicPayoutRequested       = "payout.requested"
	TopicAutoRefundRequested   = "dispute.auto_refund.requested"
)

// OutboxEvent is a durable, at-least-once message.
type OutboxEvent struct {
	ID             string          `json:"id"`
	Topic          string          `json:"topic"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	Status         OutboxStatus    `json:"status"`
	Attempts       int             `json:"attempts"`
	AvailableAt    time.Time       `json:"available_at"`
	LockedBy       *string         `json:"locked_by,omitempty"`
	LockExpiresAt  *time.Time      `json:"lock_expires_at,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
}

// OutboxStats counts events per status for one topic.
type OutboxStats struct {
	Topic      string `json:"topic"`
	Pending    int64  `json:"pending"`
	Sent       int64  `json:"sent"`
	Deadletter int64  `json:"deadletter"`
}

// VerificationRequested is the payload of TopicVerificationRequested.
type VerificationRequested struct {
	VerificationID string `json:"verification_id"`
	SubmissionID   string `json:"submission_id"`
	AttemptNo      int    `json:"attempt_no"`
}

// PayoutRequested is the payload of TopicPayoutRequested.
type PayoutRequested struct {
	PayoutID string `json:"payout_id"`
}

// AutoRefundRequested is the payload of TopicAutoRefundRequested.
type AutoRefundRequested struct {
	DisputeID string `json:"dispute_id"`
	PayoutID  string `json:"payout_id"`
}
