package model

import (
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// BountyStatus is the publication state of a bounty.
type BountyStatus string

const (
	BountyStatusPublished BountyStatus = "published"
	BountyStatusClosed    BountyStatus = "closed"
)

// Bounty is an organization's published task. Its jobs are the claimable units.
type Bounty struct {
	ID                       string          `json:"id"`
	OrgID                    string          `json:"org_id"`
	Title                    string          `json:"title"`
	PayoutCents              int64           `json:"payout_cents"`
	TaskDescriptor           json.RawMessage `json:"task_descriptor"`
	Constraints              json.RawMessage `json:"constraints"`
	RequiredFingerprintClass *string         `json:"required_fingerprint_class,omitempty"`
	Status                   BountyStatus    `json:"status"`
	CreatedAt                time.Time       `json:"created_at"`
}

// PublishBountyRequest creates a bounty with JobCount jobs.
type PublishBountyRequest struct {
	OrgID                    string          `json:"org_id"`
	Title                    string          `json:"title"`
	PayoutCents              int64           `json:"payout_cents"`
	JobCount                 int             `json:"job_count"`
	TaskDescriptor           json.RawMessage `json:"task_descriptor"`
	Constraints              json.RawMessage `json:"constraints,omitempty"`
	RequiredFingerprintClass *string         `json:"required_fingerprint_class,omitempty"`
	Deadline                 *time.Time      `json:"deadline,omitempty"`
}

// Validate checks the request fields.
func (r *PublishBountyRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.OrgID, validation.Required),
		validation.Field(&r.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.PayoutCents, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.JobCount, validation.Required, validation.Min(1), validation.Max(10_000)),
		validation.Field(&r.TaskDescriptor, validation.Required),
	)
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusOpen      JobStatus = "open"
	JobStatusClaimed   JobStatus = "claimed"
	JobStatusSubmitted JobStatus = "submitted"
	JobStatusVerifying JobStatus = "verifying"
	JobStatusDone      JobStatus = "done"
	JobStatusExpired   JobStatus = "expired"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusExpired || s == JobStatusCancelled
}

// Job is a unit of claimable work belonging to a bounty.
type Job struct {
	ID                       string     `json:"id"`
	BountyID                 string     `json:"bounty_id"`
	RequiredFingerprintClass *string    `json:"required_fingerprint_class,omitempty"`
	Status                   JobStatus  `json:"status"`
	LeaseHolder              *string    `json:"lease_holder,omitempty"`
	LeaseExpiresAt           *time.Time `json:"lease_expires_at,omitempty"`
	CurrentSubmissionID      *string    `json:"current_submission_id,omitempty"`
	FinalVerdict             *Verdict   `json:"final_verdict,omitempty"`
	FinalReason              *string    `json:"final_reason,omitempty"`
	FinalQualityScore        *float64   `json:"final_quality_score,omitempty"`
	DeadlineAt               *time.Time `json:"deadline_at,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

// JobClaim is returned to a worker that successfully claimed a job.
type JobClaim struct {
	Job       Job       `json:"job"`
	Token     string    `json:"lease_token"`
	ExpiresAt time.Time `json:"lease_expires_at"`
}
