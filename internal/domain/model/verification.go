package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// VerificationStatus is the claim state of a verification attempt.
type VerificationStatus string

const (
	VerificationStatusQueued     VerificationStatus = "queued"
	VerificationStatusInProgress VerificationStatus = "in_progress"
	VerificationStatusFinished   VerificationStatus = "finished"
)

// Verdict is the outcome of judging a submission.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictInconclusive Verdict = "inconclusive"
)

// Valid reports whether v is inside the closed verdict space.
func (v Verdict) Valid() bool {
	return v == VerdictPass || v == VerdictFail || v == VerdictInconclusive
}

// Scorecard holds the gateway's per-dimension scores, each in [0, 1].
type Scorecard struct {
	R            *float64 `json:"R"`
	E            *float64 `json:"E"`
	A            *float64 `json:"A"`
	N            *float64 `json:"N"`
	T            *float64 `json:"T"`
	QualityScore *float64 `json:"qualityScore"`
}

// ErrMalformedScorecard is returned by Scorecard.Validate.
var ErrMalformedScorecard = errors.New("malformed scorecard")

// Validate requires every dimension to be present and finite. The gateway picks the
// scale; only the reference checker is bound to [0, 1].
func (s Scorecard) Validate() error {
	dims := []struct {
		name string
		v    *float64
	}{
		{"R", s.R}, {"E", s.E}, {"A", s.A}, {"N", s.N}, {"T", s.T}, {"qualityScore", s.QualityScore},
	}
	for _, d := range dims {
		if d.v == nil {
			return fmt.Errorf("%w: %s missing", ErrMalformedScorecard, d.name)
		}
		if math.IsNaN(*d.v) || math.IsInf(*d.v, 0) {
			return fmt.Errorf("%w: %s=%v is not finite", ErrMalformedScorecard, d.name, *d.v)
		}
	}
	return nil
}

// Quality returns the quality score or zero.
func (s Scorecard) Quality() float64 {
	if s.QualityScore == nil {
		return 0
	}
	return *s.QualityScore
}

// UniformScorecard returns a scorecard with every dimension set to v.
func UniformScorecard(v float64) Scorecard {
	p := func() *float64 { x := v; return &x }
	return Scorecard{R: p(), E: p(), A: p(), N: p(), T: p(), QualityScore: p()}
}

// Verification is one judging attempt for a submission.
type Verification struct {
	ID             string             `json:"id"`
	SubmissionID   string             `json:"submission_id"`
	AttemptNo      int                `json:"attempt_no"`
	Status         VerificationStatus `json:"status"`
	ClaimToken     *string            `json:"-"`
	ClaimedBy      *string            `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time         `json:"claim_expires_at,omitempty"`
	Verdict        *Verdict           `json:"verdict,omitempty"`
	Reason         *string            `json:"reason,omitempty"`
	Scorecard      *Scorecard         `json:"scorecard,omitempty"`
	Evidence       json.RawMessage    `json:"evidence,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// VerdictRecord is a validated gateway verdict ready to persist.
type VerdictRecord struct {
	Verdict   Verdict
	Reason    string
	Scorecard Scorecard
	Evidence  json.RawMessage
}
