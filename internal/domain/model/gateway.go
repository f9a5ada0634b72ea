package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JobSpec is the job context sent to the verifier gateway.
type JobSpec struct {
	Constraints    json.RawMessage `json:"constraints"`
	TaskDescriptor json.RawMessage `json:"taskDescriptor"`
}

// SubmissionRef is the submission content sent to the verifier gateway.
type SubmissionRef struct {
	SubmissionID  string          `json:"submissionId"`
	Manifest      json.RawMessage `json:"manifest"`
	ArtifactIndex []Artifact      `json:"artifactIndex"`
}

// VerifyRequest is the verifier gateway request body.
type VerifyRequest struct {
	VerificationID string        `json:"verificationId"`
	SubmissionID   string        `json:"submissionId"`
	AttemptNo      int           `json:"attemptNo"`
	JobSpec        JobSpec       `json:"jobSpec"`
	Submission     SubmissionRef `json:"submission"`
}

// VerifyResponse is the verifier gateway response body. Verdict is kept as a plain
// string so out-of-contract values survive decoding and can be rejected explicitly.
type VerifyResponse struct {
	Verdict           string          `json:"verdict"`
	Reason            string          `json:"reason"`
	Scorecard         *Scorecard      `json:"scorecard"`
	EvidenceArtifacts json.RawMessage `json:"evidenceArtifacts,omitempty"`
}

// ErrVerdictOutOfContract is returned by VerifyResponse.Record when the gateway answered
// with a verdict, scorecard or evidence shape it does not own.
var ErrVerdictOutOfContract = errors.New("verdict out of contract")

// Record validates the response and converts it into a persistable verdict.
func (r VerifyResponse) Record() (VerdictRecord, error) {
	v := Verdict(r.Verdict)
	if !v.Valid() {
		return VerdictRecord{}, fmt.Errorf("%w: verdict %q", ErrVerdictOutOfContract, r.Verdict)
	}
	if r.Scorecard == nil {
		return VerdictRecord{}, fmt.Errorf("%w: scorecard missing", ErrVerdictOutOfContract)
	}
	if err := r.Scorecard.Validate(); err != nil {
		return VerdictRecord{}, err
	}
	evidence := r.EvidenceArtifacts
	if len(evidence) > 0 && string(evidence) != "null" {
		var items []json.RawMessage
		if err := json.Unmarshal(evidence, &items); err != nil {
			return VerdictRecord{}, fmt.Errorf("%w: evidenceArtifacts must be an array", ErrVerdictOutOfContract)
		}
	} else {
		evidence = json.RawMessage(`[]`)
	}
	return VerdictRecord{Verdict: v, Reason: r.Reason, Scorecard: *r.Scorecard, Evidence: evidence}, nil
}
