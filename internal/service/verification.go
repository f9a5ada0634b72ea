package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
	"github.com/proofwork/proofwork/internal/observability/statsd"
)

// ReasonAttemptsExhausted is recorded when inconclusive verdicts hit the attempt cap.
const ReasonAttemptsExhausted = "verification_attempts_exhausted"

// VerificationServiceOptions groups dependencies for VerificationService.
type VerificationServiceOptions struct {
	Repos    *data.Repositories        // Required
	Gateway  core.VerifierGateway      // Required
	Payouts  *PayoutService            // Required: creates payouts for passing verdicts
	Policy   config.VerificationConfig // Reopen and attempt cap policy
	ClaimTTL time.Duration             // Verification lease; defaults to 2m
	HolderID string                    // Identifies this worker on claimed rows
	Waker    data.Waker                // Optional
	Clock    data.TimeProvider         // Optional
	Logger   *slog.Logger              // Optional
	Metrics  statsd.Sink               // Optional
}

// VerificationService runs verification attempts: it claims an attempt, asks the
// verifier gateway for a verdict and applies the verdict to the submission, the job
// and, on pass, a new payout in one transaction.
type VerificationService struct {
	repos    *data.Repositories
	gateway  core.VerifierGateway
	payouts  *PayoutService
	policy   config.VerificationConfig
	claimTTL time.Duration
	holder   string
	waker    data.Waker
	clock    data.TimeProvider
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewVerificationService constructs a VerificationService.
func NewVerificationService(opts VerificationServiceOptions) (*VerificationService, error) {
	if err := requireRepos(opts.Repos); err != nil {
		return nil, err
	}
	if opts.Gateway == nil {
		return nil, errors.New("verifier gateway is required")
	}
	if opts.Payouts == nil {
		return nil, errors.New("payout service is required")
	}
	if opts.HolderID == "" {
		return nil, errors.New("holder id is required")
	}
	policy := opts.Policy
	policy.Sanitize()
	ttl := opts.ClaimTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	waker := opts.Waker
	if waker == nil {
		waker = data.NoopWaker{}
	}
	return &VerificationService{
		repos:    opts.Repos,
		gateway:  opts.Gateway,
		payouts:  opts.Payouts,
		policy:   policy,
		claimTTL: ttl,
		holder:   opts.HolderID,
		waker:    waker,
		clock:    clockOrReal(opts.Clock),
		logger:   componentLogger(opts.Logger, "verification_service"),
		metrics:  opts.Metrics,
	}, nil
}

// Handle implements core.OutboxHandler for verification.requested.
func (s *VerificationService) Handle(ctx context.Context, evt model.OutboxEvent) error {
	var req model.VerificationRequested
	if err := json.Unmarshal(evt.Payload, &req); err != nil {
		return backoff.Permanent(fmt.Errorf("decode verification.requested: %w", err))
	}
	if req.VerificationID == "" {
		return backoff.Permanent(errors.New("verification.requested without verification_id"))
	}
	_, err := s.Run(ctx, req.VerificationID)
	if apperrors.IsNotFound(err) {
		return backoff.Permanent(err)
	}
	return err
}

// Outcome reports what one verification run did.
type Outcome struct {
	Verdict model.Verdict
	// Payout is set when the verdict passed and a payout was created.
	Payout *model.Payout
	// NextAttempt is set when an inconclusive verdict queued another attempt.
	NextAttempt *model.Verification
	// AlreadyFinished is set when the attempt had a verdict before this run.
	AlreadyFinished bool
}

// Run claims verification attempt id, calls the gateway and records the verdict. A
// gateway or protocol error releases the claim and is returned so the event is retried.
func (s *VerificationService) Run(ctx context.Context, id string) (*Outcome, error) {
	v, err := s.repos.Verifications.GetByID(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("load verification %s: %w", id, classify(err))
	}
	if v.Status == model.VerificationStatusFinished {
		return &Outcome{AlreadyFinished: true, Verdict: derefVerdict(v.Verdict)}, nil
	}

	l, err := s.repos.Verifications.Leases().Claim(ctx, id, s.holder, s.claimTTL)
	if err != nil {
		return nil, fmt.Errorf("claim verification %s: %w", id, classify(err))
	}

	sub, err := s.repos.Submissions.GetByID(ctx, nil, v.SubmissionID)
	if err != nil {
		s.release(ctx, id, l.Token)
		return nil, fmt.Errorf("load submission %s: %w", v.SubmissionID, classify(err))
	}
	bounty, err := s.repos.Bounties.GetByID(ctx, nil, sub.BountyID)
	if err != nil {
		s.release(ctx, id, l.Token)
		return nil, fmt.Errorf("load bounty %s: %w", sub.BountyID, classify(err))
	}

	start := time.Now()
	resp, err := s.gateway.Verify(ctx, buildVerifyRequest(v, sub, bounty))
	if err == nil {
		if resp == nil {
			err = apperrors.Protocolf("verifier returned no body")
		}
	}
	var rec model.VerdictRecord
	if err == nil {
		rec, err = resp.Record()
		if err != nil {
			err = apperrors.Wrap(err, apperrors.ErrCodeProtocol, "verifier response out of contract")
		}
	}
	s.emitGatewayCall(time.Since(start), err)
	if err != nil {
		s.release(ctx, id, l.Token)
		s.logger.WarnContext(ctx, "verifier call failed",
			"verification_id", id,
			"attempt_no", v.AttemptNo,
			"error", err)
		return nil, fmt.Errorf("verify %s: %w", id, err)
	}

	out, err := s.applyVerdict(ctx, v, l.Token, sub, bounty, rec)
	if err != nil {
		return nil, fmt.Errorf("record verdict %s: %w", id, classify(err))
	}

	switch {
	case out.Payout != nil:
		s.waker.Notify(ctx, model.TopicPayoutRequested)
	case out.NextAttempt != nil:
		s.waker.Notify(ctx, model.TopicVerificationRequested)
	}
	if s.metrics != nil {
		s.metrics.Count("verification.verdict", 1, map[string]string{"verdict": string(rec.Verdict)})
	}
	s.logger.InfoContext(ctx, "verification finished",
		"verification_id", id,
		"submission_id", sub.ID,
		"attempt_no", v.AttemptNo,
		"verdict", rec.Verdict,
		"reason", rec.Reason)
	return out, nil
}

// applyVerdict persists the verdict and its consequences atomically.
func (s *VerificationService) applyVerdict(
	ctx context.Context,
	v *model.Verification,
	token string,
	sub *model.Submission,
	bounty *model.Bounty,
	rec model.VerdictRecord,
) (*Outcome, error) {
	out := &Outcome{Verdict: rec.Verdict}
	quality := rec.Scorecard.Quality()
	outcome := data.JobOutcome{Status: model.JobStatusDone, Verdict: rec.Verdict, Reason: rec.Reason, QualityScore: &quality}
	verdict := data.SubmissionVerdict{Verdict: rec.Verdict, Reason: rec.Reason, QualityScore: &quality, PayoutStatus: model.SubmissionPayoutNone}

	err := pgxutil.InTx(ctx, s.repos.DB, func(tx *sql.Tx) error {
		if err := s.repos.Verifications.RecordVerdictTx(ctx, tx, v.ID, token, rec); err != nil {
			return err
		}

		switch rec.Verdict {
		case model.VerdictPass:
			finished, err := s.repos.Jobs.FinishTx(ctx, tx, sub.JobID, sub.ID, outcome)
			if err != nil {
				return err
			}
			if !finished {
				verdict.Status = model.SubmissionStatusBlocked
				verdict.Reason = "job_no_longer_verifying"
				_, err = s.repos.Submissions.RecordVerdictTx(ctx, tx, sub.ID, verdict)
				return err
			}
			verdict.Status = model.SubmissionStatusAccepted
			verdict.PayoutStatus = model.SubmissionPayoutPending
			if _, err := s.repos.Submissions.RecordVerdictTx(ctx, tx, sub.ID, verdict); err != nil {
				return err
			}
			p, err := s.payouts.CreateTx(ctx, tx, sub, bounty)
			if err != nil {
				return err
			}
			out.Payout = p
			return nil

		case model.VerdictFail:
			verdict.Status = model.SubmissionStatusFailed
			if _, err := s.repos.Submissions.RecordVerdictTx(ctx, tx, sub.ID, verdict); err != nil {
				return err
			}
			return s.closeJob(ctx, tx, sub, outcome)

		default:
			if v.AttemptNo < s.policy.MaxAttempts {
				next, err := queueVerification(ctx, tx, s.repos, sub.ID, v.AttemptNo+1, s.clock.Now())
				if err != nil {
					return err
				}
				out.NextAttempt = next
				return s.repos.Submissions.SetStatusTx(ctx, tx, sub.ID, model.SubmissionStatusVerifying)
			}
			verdict.Status = model.SubmissionStatusInconclusive
			verdict.Reason = ReasonAttemptsExhausted
			outcome.Reason = ReasonAttemptsExhausted
			if _, err := s.repos.Submissions.RecordVerdictTx(ctx, tx, sub.ID, verdict); err != nil {
				return err
			}
			return s.closeJob(ctx, tx, sub, outcome)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// closeJob reopens the job for other workers or finishes it, per ReopenOnFail. A job
// finished without a payout hands its escrow back to the org.
func (s *VerificationService) closeJob(ctx context.Context, tx *sql.Tx, sub *model.Submission, outcome data.JobOutcome) error {
	if s.policy.ReopenOnFail {
		_, err := s.repos.Jobs.ReopenAfterVerdictTx(ctx, tx, sub.JobID, sub.ID, outcome)
		return err
	}
	finished, err := s.repos.Jobs.FinishTx(ctx, tx, sub.JobID, sub.ID, outcome)
	if err != nil || !finished {
		return err
	}
	_, err = s.repos.Billing.ReleaseJobEscrowTx(ctx, tx, sub.JobID)
	return err
}

func (s *VerificationService) release(ctx context.Context, id, token string) {
	if err := s.repos.Verifications.Leases().Release(context.WithoutCancel(ctx), id, token); err != nil {
		s.logger.WarnContext(ctx, "release verification claim failed", "verification_id", id, "error", err)
	}
}

func (s *VerificationService) emitGatewayCall(elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	result := "success"
	switch {
	case apperrors.IsProtocol(err):
		result = "protocol_error"
	case err != nil:
		result = "error"
	}
	tags := map[string]string{"result": result}
	s.metrics.Count("verification.gateway_call", 1, tags)
	s.metrics.Timing("verification.gateway_duration", elapsed, tags)
}

func buildVerifyRequest(v *model.Verification, sub *model.Submission, b *model.Bounty) model.VerifyRequest {
	constraints := b.Constraints
	if len(constraints) == 0 {
		constraints = json.RawMessage(`{}`)
	}
	index := sub.ArtifactIndex
	if index == nil {
		index = []model.Artifact{}
	}
	return model.VerifyRequest{
		VerificationID: v.ID,
		SubmissionID:   sub.ID,
		AttemptNo:      v.AttemptNo,
		JobSpec: model.JobSpec{
			Constraints:    constraints,
			TaskDescriptor: b.TaskDescriptor,
		},
		Submission: model.SubmissionRef{
			SubmissionID:  sub.ID,
			Manifest:      sub.Manifest,
			ArtifactIndex: index,
		},
	}
}

func derefVerdict(v *model.Verdict) model.Verdict {
	if v == nil {
		return ""
	}
	return *v
}
