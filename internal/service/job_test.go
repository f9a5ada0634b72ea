package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
	"github.com/proofwork/proofwork/internal/testutil"
)

func TestNewJobService(t *testing.T) {
	_, err := NewJobService(JobServiceOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JobRepo is required")

	_, err = NewJobService(JobServiceOptions{Repo: data.NewJobRepo(nil, data.RepoConfig{})})
	require.Error(t, err)

	assert.Panics(t, func() { MustNewJobService(JobServiceOptions{}) })
}

func TestJobService_ClaimLifecycle(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		p := newPipeline(t, db)
		f := testutil.NewBountyFixture().Insert(t, db)
		jobID := f.JobIDs[0]

		claim, err := p.jobs.Claim(ctx, jobID, "worker-a", 0)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusClaimed, claim.Job.Status)
		assert.Equal(t, p.clock.Now().Add(15*time.Minute), claim.ExpiresAt)

		_, err = p.jobs.Claim(ctx, jobID, "worker-b", 0)
		require.Error(t, err)
		assert.True(t, apperrors.IsLeaseConflict(err), "second claimer must see a lease conflict, got %v", err)

		p.clock.AddTime(time.Minute)
		expires, err := p.jobs.Heartbeat(ctx, jobID, claim.Token, 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, p.clock.Now().Add(10*time.Minute), expires)

		_, err = p.jobs.Heartbeat(ctx, jobID, "not-the-token", 0)
		require.Error(t, err)

		require.NoError(t, p.jobs.Release(ctx, jobID, claim.Token))
		job, err := p.jobs.Get(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusOpen, job.Status)

		claimB, err := p.jobs.Claim(ctx, jobID, "worker-b", 0)
		require.NoError(t, err)
		assert.NotEqual(t, claim.Token, claimB.Token)
	})
}

func TestJobService_ExpiredLeaseIsReclaimable(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		p := newPipeline(t, db)
		f := testutil.NewBountyFixture().Insert(t, db)

		_, err := p.jobs.Claim(ctx, f.JobIDs[0], "worker-a", time.Minute)
		require.NoError(t, err)

		p.clock.AddTime(2 * time.Minute)
		claim, err := p.jobs.Claim(ctx, f.JobIDs[0], "worker-b", 0)
		require.NoError(t, err)
		require.NotNil(t, claim.Job.LeaseHolder)
		assert.Equal(t, "worker-b", *claim.Job.LeaseHolder)
	})
}

func TestJobService_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		p := newPipeline(t, db)
		f := testutil.NewBountyFixture().Insert(t, db)

		const claimers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := range claimers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := p.jobs.Claim(ctx, f.JobIDs[0], "worker-"+string(rune('a'+i)), 0)
				if err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
					return
				}
				assert.True(t, apperrors.IsLeaseConflict(err), "unexpected error: %v", err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})
}

func TestJobService_ClaimNextByFingerprintClass(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		p := newPipeline(t, db)
		mobile := testutil.NewBountyFixture().WithFingerprintClass("mobile").WithJobs(2).Insert(t, db)

		class := "mobile"
		first, err := p.jobs.ClaimNext(ctx, "worker-a", &class, 0)
		require.NoError(t, err)
		assert.Equal(t, mobile.JobIDs[0], first.Job.ID, "oldest job first")

		second, err := p.jobs.ClaimNext(ctx, "worker-b", &class, 0)
		require.NoError(t, err)
		assert.Equal(t, mobile.JobIDs[1], second.Job.ID)

		_, err = p.jobs.ClaimNext(ctx, "worker-c", &class, 0)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestJobService_Cancel(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		p := newPipeline(t, db)
		f := testutil.NewBountyFixture().WithJobs(2).Insert(t, db)

		before := testutil.Balance(t, db, f.OrgID)
		ok, err := p.jobs.Cancel(ctx, f.JobIDs[0])
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, before+f.PayoutCents, testutil.Balance(t, db, f.OrgID), "escrow returned")

		ok, err = p.jobs.Cancel(ctx, f.JobIDs[0])
		require.NoError(t, err)
		assert.False(t, ok, "cancelling a terminal job is a no-op")
		assert.Equal(t, before+f.PayoutCents, testutil.Balance(t, db, f.OrgID))

		_, err = p.jobs.Claim(ctx, f.JobIDs[0], "worker-a", 0)
		require.Error(t, err)

		jobs, err := p.jobs.ListByBounty(ctx, f.BountyID)
		require.NoError(t, err)
		assert.Len(t, jobs, 2)
	})
}

func TestJobRepo_ExpiryReturnsEscrow(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		p := newPipeline(t, db)
		late := testutil.NewBountyFixture().WithDeadline(testutil.TestTime().Add(time.Hour)).Insert(t, db)
		stuck := testutil.NewBountyFixture().Insert(t, db)
		p.claimAndSubmit(t, stuck.JobIDs[0], "worker-a", artifactsFor("slow"))

		lateBefore := testutil.Balance(t, db, late.OrgID)
		stuckBefore := testutil.Balance(t, db, stuck.OrgID)
		p.clock.AddTime(3 * time.Hour)

		n, err := p.repos.Jobs.ExpirePastDeadline(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, lateBefore+late.PayoutCents, testutil.Balance(t, db, late.OrgID))

		n, err = p.repos.Jobs.ExpireStuckVerifying(ctx, time.Hour, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, stuckBefore+stuck.PayoutCents, testutil.Balance(t, db, stuck.OrgID))

		// Expired jobs are terminal; another sweep credits nothing.
		_, err = p.repos.Jobs.ExpirePastDeadline(ctx, 10)
		require.NoError(t, err)
		_, err = p.repos.Jobs.ExpireStuckVerifying(ctx, time.Hour, 10)
		require.NoError(t, err)
		assert.Equal(t, lateBefore+late.PayoutCents, testutil.Balance(t, db, late.OrgID))
		assert.Equal(t, stuckBefore+stuck.PayoutCents, testutil.Balance(t, db, stuck.OrgID))

		job, err := p.jobs.Get(ctx, stuck.JobIDs[0])
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusExpired, job.Status)
	})
}
