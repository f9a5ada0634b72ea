package model

import (
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SubmissionStatus is the processing state of a submission.
type SubmissionStatus string

const (
	SubmissionStatusSubmitted    SubmissionStatus = "submitted"
	SubmissionStatusValidated    SubmissionStatus = "validated"
	SubmissionStatusQueued       SubmissionStatus = "queued"
	SubmissionStatusVerifying    SubmissionStatus = "verifying"
	SubmissionStatusAccepted     SubmissionStatus = "accepted"
	SubmissionStatusFailed       SubmissionStatus = "failed"
	SubmissionStatusInconclusive SubmissionStatus = "inconclusive"
	SubmissionStatusDuplicate    SubmissionStatus = "duplicate"
	SubmissionStatusBlocked      SubmissionStatus = "blocked"
)

// Terminal reports whether the verdict-bearing state is final.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case SubmissionStatusAccepted, SubmissionStatusFailed, SubmissionStatusInconclusive,
		SubmissionStatusDuplicate, SubmissionStatusBlocked:
		return true
	default:
		return false
	}
}

// SubmissionPayoutStatus mirrors the payout state on the submission.
type SubmissionPayoutStatus string

const (
	SubmissionPayoutNone     SubmissionPayoutStatus = "none"
	SubmissionPayoutPending  SubmissionPayoutStatus = "pending"
	SubmissionPayoutPaid     SubmissionPayoutStatus = "paid"
	SubmissionPayoutFailed   SubmissionPayoutStatus = "failed"
	SubmissionPayoutReversed SubmissionPayoutStatus = "reversed"
)

// Artifact is one entry of a submission's artifact index.
type Artifact struct {
	Kind        string `json:"kind"`
	URL         string `json:"url"`
	SHA256      string `json:"sha256,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// Validate implements validation.Validatable.
func (a Artifact) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Kind, validation.Required, validation.Length(1, 64)),
		validation.Field(&a.URL, validation.Required),
		validation.Field(&a.SHA256, validation.Length(64, 64)),
		validation.Field(&a.SizeBytes, validation.Min(int64(0))),
	)
}

// Kinds returns the artifact kinds in index order.
func Kinds(index []Artifact) []string {
	out := make([]string, 0, len(index))
	for _, a := range index {
		out = append(out, a.Kind)
	}
	return out
}

// Submission is a worker's proof of work for a job.
type Submission struct {
	ID                string                 `json:"id"`
	JobID             string                 `json:"job_id"`
	BountyID          string                 `json:"bounty_id"`
	WorkerID          string                 `json:"worker_id"`
	IdempotencyKey    string                 `json:"idempotency_key"`
	RequestHash       string                 `json:"request_hash"`
	Manifest          json.RawMessage        `json:"manifest"`
	ArtifactIndex     []Artifact             `json:"artifact_index"`
	Status            SubmissionStatus       `json:"status"`
	DedupeKey         string                 `json:"dedupe_key"`
	FinalVerdict      *Verdict               `json:"final_verdict,omitempty"`
	FinalReason       *string                `json:"final_reason,omitempty"`
	FinalQualityScore *float64               `json:"final_quality_score,omitempty"`
	PayoutStatus      SubmissionPayoutStatus `json:"payout_status"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// SubmitRequest is a worker's submission for a claimed job.
type SubmitRequest struct {
	JobID          string          `json:"job_id"`
	WorkerID       string          `json:"worker_id"`
	LeaseToken     string          `json:"lease_token"`
	IdempotencyKey string          `json:"idempotency_key"`
	Manifest       json.RawMessage `json:"manifest"`
	ArtifactIndex  []Artifact      `json:"artifact_index"`
}

// Validate checks the request shape. The manifest must be a JSON object.
func (r *SubmitRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.JobID, validation.Required),
		validation.Field(&r.WorkerID, validation.Required),
		validation.Field(&r.LeaseToken, validation.Required),
		validation.Field(&r.IdempotencyKey, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Manifest, validation.Required, validation.By(jsonObject)),
		validation.Field(&r.ArtifactIndex, validation.Length(0, 500)),
	)
}

func jsonObject(value any) error {
	raw, _ := value.(json.RawMessage)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return validation.NewError("validation_json_object", "must be a JSON object")
	}
	return nil
}

// SubmitResult is returned from a submit call. Duplicate is set when the idempotency
// key was seen before and Submission is the original record.
type SubmitResult struct {
	Submission   Submission    `json:"submission"`
	Verification *Verification `json:"verification,omitempty"`
	Duplicate    bool          `json:"duplicate"`
}
