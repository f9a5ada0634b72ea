package model

import "time"

// DisputeStatus is the state of a dispute.
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
)

// Resolution records how a dispute was closed.
type Resolution string

const (
	ResolutionRefund Resolution = "refund"
	ResolutionUpheld Resolution = "upheld"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	return r == ResolutionRefund || r == ResolutionUpheld
}

// Dispute is a buyer's challenge against a payout.
type Dispute struct {
	ID         string        `json:"id"`
	PayoutID   string        `json:"payout_id"`
	OrgID      string        `json:"org_id"`
	Reason     string        `json:"reason"`
	Status     DisputeStatus `json:"status"`
	Resolution *Resolution   `json:"resolution,omitempty"`
	HoldUntil  time.Time     `json:"hold_until"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// OpenDisputeRequest opens a dispute against a payout.
type OpenDisputeRequest struct {
	PayoutID string `json:"payout_id"`
	OrgID    string `json:"org_id"`
	Reason   string `json:"reason"`
}

// BillingAccount is an organization's prepaid balance.
type BillingAccount struct {
	OrgID        string    `json:"org_id"`
	BalanceCents int64     `json:"balance_cents"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LedgerEntryKind distinguishes credits from reversals.
type LedgerEntryKind string

const (
	LedgerEntryCredit   LedgerEntryKind = "credit"
	LedgerEntryReversal LedgerEntryKind = "reversal"
)

// Ledger account names.
const (
	LedgerAccountPlatform  = "platform"
	LedgerAccountProofwork = "proofwork"
)

// WorkerAccount returns the ledger account name for a worker.
func WorkerAccount(workerID string) string {
	return "worker:" + workerID
}

// LedgerEntry is one line of the fiat ledger.
type LedgerEntry struct {
	ID          string          `json:"id"`
	PayoutID    string          `json:"payout_id"`
	Account     string          `json:"account"`
	AmountCents int64           `json:"amount_cents"`
	Kind        LedgerEntryKind `json:"kind"`
	CreatedAt   time.Time       `json:"created_at"`
}
