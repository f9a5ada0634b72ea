package model

import "time"

// PayoutStatus is the execution state of a payout. Transitions are monotone.
type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusPaid     PayoutStatus = "paid"
	PayoutStatusFailed   PayoutStatus = "failed"
	PayoutStatusBlocked  PayoutStatus = "blocked"
	PayoutStatusRefunded PayoutStatus = "refunded"
)

// BlockedReason explains why a payout may not be executed.
type BlockedReason string

const (
	BlockedReasonDisputeOpen   BlockedReason = "dispute_open"
	BlockedReasonDisputeRefund BlockedReason = "dispute_refund"
)

// Payout is the money owed for an accepted submission. Amount fields are fixed when
// the row is created and never recomputed.
type Payout struct {
	ID                string         `json:"id"`
	SubmissionID      string         `json:"submission_id"`
	JobID             string         `json:"job_id"`
	OrgID             string         `json:"org_id"`
	WorkerID          string         `json:"worker_id"`
	AmountCents       int64          `json:"amount_cents"`
	PlatformFeeCents  int64          `json:"platform_fee_cents"`
	ProofworkFeeCents int64          `json:"proofwork_fee_cents"`
	Status            PayoutStatus   `json:"status"`
	BlockedReason     *BlockedReason `json:"blocked_reason,omitempty"`
	Provider          *string        `json:"provider,omitempty"`
	ProviderRef       *string        `json:"provider_ref,omitempty"`
	LastError         *string        `json:"last_error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NetCents is what the worker receives.
func (p Payout) NetCents() int64 {
	return p.AmountCents - p.PlatformFeeCents - p.ProofworkFeeCents
}

// Blocked reports whether execution must not proceed.
func (p Payout) Blocked() bool {
	return p.BlockedReason != nil
}

// Executable reports whether an executor may transfer funds for this payout.
func (p Payout) Executable() bool {
	return p.Status == PayoutStatusPending && !p.Blocked()
}

// Receipt is the durable confirmation an executor returns.
type Receipt struct {
	Provider  string
	Reference string
}
