package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/domain/lease"
	"github.com/proofwork/proofwork/internal/domain/model"
	"github.com/proofwork/proofwork/internal/mocks"
	"github.com/proofwork/proofwork/internal/observability/statsd"
	"github.com/proofwork/proofwork/internal/testutil"
)

var testFees = config.FeeConfig{PlatformBps: 1000, ProofworkBps: 100}

// pipeline wires every pipeline service over one database and one fixed clock.
type pipeline struct {
	db      *sql.DB
	clock   *data.FixedTimeProvider
	repos   *data.Repositories
	metrics *statsd.Recorder

	gateway  *mocks.MockVerifierGateway
	executor *mocks.MockPayoutExecutor

	bounties      *BountyService
	jobs          *JobService
	submissions   *SubmissionService
	verifications *VerificationService
	payouts       *PayoutService
	disputes      *DisputeService
}

type pipelineOption func(*pipelineConfig)

type pipelineConfig struct {
	verification config.VerificationConfig
	executor     core.PayoutExecutor
}

func withVerificationPolicy(v config.VerificationConfig) pipelineOption {
	return func(c *pipelineConfig) { c.verification = v }
}

func withExecutor(e core.PayoutExecutor) pipelineOption {
	return func(c *pipelineConfig) { c.executor = e }
}

func newPipeline(t *testing.T, db *sql.DB, opts ...pipelineOption) *pipeline {
	t.Helper()
	ctrl := gomock.NewController(t)
	p := &pipeline{
		db:       db,
		clock:    data.NewFixedTimeProvider(testutil.TestTime()),
		metrics:  &statsd.Recorder{},
		gateway:  mocks.NewMockVerifierGateway(ctrl),
		executor: mocks.NewMockPayoutExecutor(ctrl),
	}
	p.executor.EXPECT().Name().Return("mock").AnyTimes()

	cfg := pipelineConfig{
		verification: config.VerificationConfig{ReopenOnFail: true, MaxAttempts: 3},
		executor:     p.executor,
	}
	for _, o := range opts {
		o(&cfg)
	}

	p.repos = data.NewRepositories(db, data.RepositoriesConfig{TimeProvider: p.clock})
	policy, err := lease.NewPolicy(15*time.Minute, time.Second, 2*time.Hour)
	require.NoError(t, err)

	p.bounties, err = NewBountyService(BountyServiceOptions{Repos: p.repos, Clock: p.clock})
	require.NoError(t, err)
	p.jobs, err = NewJobService(JobServiceOptions{Repo: p.repos.Jobs, Policy: policy})
	require.NoError(t, err)
	p.submissions, err = NewSubmissionService(SubmissionServiceOptions{Repos: p.repos, Clock: p.clock})
	require.NoError(t, err)
	p.payouts, err = NewPayoutService(PayoutServiceOptions{
		Repos:    p.repos,
		Executor: cfg.executor,
		Fees:     testFees,
		Clock:    p.clock,
		Metrics:  p.metrics,
	})
	require.NoError(t, err)
	p.verifications, err = NewVerificationService(VerificationServiceOptions{
		Repos:    p.repos,
		Gateway:  p.gateway,
		Payouts:  p.payouts,
		Policy:   cfg.verification,
		HolderID: "verifier-test",
		Clock:    p.clock,
		Metrics:  p.metrics,
	})
	require.NoError(t, err)
	p.disputes, err = NewDisputeService(DisputeServiceOptions{
		Repos:   p.repos,
		Config:  config.DisputeConfig{Hold: 72 * time.Hour, OpenWindow: 168 * time.Hour},
		Clock:   p.clock,
		Metrics: p.metrics,
	})
	require.NoError(t, err)
	return p
}

// artifactsFor builds screenshot artifacts whose digests derive from the given seeds.
func artifactsFor(seeds ...string) []model.Artifact {
	out := make([]model.Artifact, 0, len(seeds))
	for _, seed := range seeds {
		out = append(out, model.Artifact{
			Kind:   "screenshot",
			URL:    "https://cdn.example.com/" + seed + ".png",
			SHA256: sha256Hex([]byte(seed)),
		})
	}
	return out
}

// claimAndSubmit claims jobID for worker and submits the given artifacts.
func (p *pipeline) claimAndSubmit(t *testing.T, jobID, worker string, artifacts []model.Artifact) *model.SubmitResult {
	t.Helper()
	ctx := context.Background()
	claim, err := p.jobs.Claim(ctx, jobID, worker, 0)
	require.NoError(t, err)
	res, err := p.submissions.Submit(ctx, model.SubmitRequest{
		JobID:          jobID,
		WorkerID:       worker,
		LeaseToken:     claim.Token,
		IdempotencyKey: "submit-" + jobID,
		Manifest:       []byte(`{"result":{"summary":"done"}}`),
		ArtifactIndex:  artifacts,
	})
	require.NoError(t, err)
	return res
}

func verdict(v model.Verdict, reason string, quality float64) *model.VerifyResponse {
	sc := model.UniformScorecard(quality)
	return &model.VerifyResponse{Verdict: string(v), Reason: reason, Scorecard: &sc}
}

// acceptedPayout drives one job through submit and a passing verdict and returns the
// pending payout.
func (p *pipeline) acceptedPayout(t *testing.T, f *testutil.BountyFixture, worker string) *model.Payout {
	t.Helper()
	res := p.claimAndSubmit(t, f.JobIDs[0], worker, artifactsFor("aa01"))
	require.NotNil(t, res.Verification)

	p.gateway.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(verdict(model.VerdictPass, "ok", 0.9), nil)
	out, err := p.verifications.Run(context.Background(), res.Verification.ID)
	require.NoError(t, err)
	require.NotNil(t, out.Payout)
	return out.Payout
}
