package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/domain/descriptor"
	"github.com/proofwork/proofwork/internal/domain/model"
)

// Reasons reported by the Checker besides the descriptor outcomes.
const (
	ReasonInvalidDescriptor = "invalid_task_descriptor"
	ReasonQualityBelowMin   = "quality_below_minimum"
)

// Checker judges submissions deterministically against their task descriptor. It
// serves the reference gateway and can be used in-process as a core.VerifierGateway.
type Checker struct {
	catalog *descriptor.Catalog
	logger  *slog.Logger
}

var _ core.VerifierGateway = (*Checker)(nil)

// NewChecker constructs a Checker. catalog may be nil when only inline descriptors
// are used.
func NewChecker(catalog *descriptor.Catalog, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{catalog: catalog, logger: logger.With("component", "gateway_checker")}
}

// Verify implements core.VerifierGateway. It never returns an error: a descriptor the
// checker cannot use is a fail verdict.
func (c *Checker) Verify(ctx context.Context, req model.VerifyRequest) (*model.VerifyResponse, error) {
	d, err := descriptor.Resolve(req.JobSpec.TaskDescriptor, c.catalog)
	if err != nil {
		c.logger.WarnContext(ctx, "unusable task descriptor",
			"verification_id", req.VerificationID,
			"error", err)
		sc := model.UniformScorecard(0)
		return &model.VerifyResponse{
			Verdict:           string(model.VerdictFail),
			Reason:            ReasonInvalidDescriptor,
			Scorecard:         &sc,
			EvidenceArtifacts: json.RawMessage(`[]`),
		}, nil
	}

	index := req.Submission.ArtifactIndex
	kinds := make([]string, 0, len(index))
	for _, a := range index {
		kinds = append(kinds, a.Kind)
	}
	outcome := descriptor.Check(d, req.Submission.Manifest, kinds)
	sc := score(d, outcome, index)

	resp := &model.VerifyResponse{
		Verdict:           string(model.VerdictPass),
		Reason:            outcome.Reason,
		Scorecard:         &sc,
		EvidenceArtifacts: evidence(d, index),
	}
	switch {
	case !outcome.Satisfied:
		resp.Verdict = string(model.VerdictFail)
	case d.MinQualityScore != nil && sc.Quality() < *d.MinQualityScore:
		resp.Verdict = string(model.VerdictFail)
		resp.Reason = fmt.Sprintf("%s:%.2f<%.2f", ReasonQualityBelowMin, sc.Quality(), *d.MinQualityScore)
	}

	c.logger.DebugContext(ctx, "submission checked",
		"verification_id", req.VerificationID,
		"verdict", resp.Verdict,
		"reason", resp.Reason)
	return resp, nil
}

// score fills the scorecard from what the checker can observe. R is the share of
// requirements met, E the share of artifacts carrying a digest and A the share with a
// fetchable URL. N and T are outside what a descriptor check can judge and score 1.
func score(d descriptor.Descriptor, outcome descriptor.Outcome, index []model.Artifact) model.Scorecard {
	total := len(d.RequiredArtifacts) + len(d.RequiredFields)
	r := 1.0
	if total > 0 {
		r = float64(total-len(outcome.Missing)) / float64(total)
	}
	var digests, fetchable int
	for _, a := range index {
		if strings.TrimSpace(a.SHA256) != "" {
			digests++
		}
		if u, err := url.Parse(a.URL); err == nil && (u.Scheme == "https" || u.Scheme == "http") && u.Host != "" {
			fetchable++
		}
	}
	e, a := 0.0, 0.0
	if len(index) > 0 {
		e = float64(digests) / float64(len(index))
		a = float64(fetchable) / float64(len(index))
	} else if len(d.RequiredArtifacts) == 0 {
		e, a = 1, 1
	}
	n, t := 1.0, 1.0
	q := (r + e + a + n + t) / 5
	return model.Scorecard{R: &r, E: &e, A: &a, N: &n, T: &t, QualityScore: &q}
}

// evidence lists the artifacts that satisfied a required kind.
func evidence(d descriptor.Descriptor, index []model.Artifact) json.RawMessage {
	wanted := make(map[string]bool, len(d.RequiredArtifacts))
	for _, req := range d.RequiredArtifacts {
		wanted[strings.ToLower(req.Kind)] = true
	}
	used := make([]model.Artifact, 0)
	for _, a := range index {
		if wanted[strings.ToLower(strings.TrimSpace(a.Kind))] {
			used = append(used, a)
		}
	}
	out, err := json.Marshal(used)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return out
}
