package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultDescriptor is a task descriptor requiring one screenshot.
const DefaultDescriptor = `{"type":"proof.artifacts","schema_version":1,"required_artifacts":["screenshot"]}`

// BountyFixture builds rows for a funded org, a bounty and its open jobs directly in SQL.
type BountyFixture struct {
	OrgID            string
	BalanceCents     int64
	PayoutCents      int64
	Jobs             int
	Descriptor       string
	FingerprintClass *string
	Deadline         *time.Time

	BountyID string
	JobIDs   []string
}

// NewBountyFixture returns a fixture with one job paying 1000 cents from a 100000 cent balance.
func NewBountyFixture() *BountyFixture {
	return &BountyFixture{
		OrgID:        "org-" + uuid.NewString()[:8],
		BalanceCents: 100_000,
		PayoutCents:  1_000,
		Jobs:         1,
		Descriptor:   DefaultDescriptor,
	}
}

// WithJobs sets the number of jobs.
func (f *BountyFixture) WithJobs(n int) *BountyFixture {
	f.Jobs = n
	return f
}

// WithPayout sets the per-job payout.
func (f *BountyFixture) WithPayout(cents int64) *BountyFixture {
	f.PayoutCents = cents
	return f
}

// WithBalance sets the org's starting balance.
func (f *BountyFixture) WithBalance(cents int64) *BountyFixture {
	f.BalanceCents = cents
	return f
}

// WithDescriptor sets the raw task descriptor.
func (f *BountyFixture) WithDescriptor(raw string) *BountyFixture {
	f.Descriptor = raw
	return f
}

// WithFingerprintClass requires a worker fingerprint class on every job.
func (f *BountyFixture) WithFingerprintClass(class string) *BountyFixture {
	f.FingerprintClass = &class
	return f
}

// WithDeadline sets the job deadline.
func (f *BountyFixture) WithDeadline(t time.Time) *BountyFixture {
	f.Deadline = &t
	return f
}

// Insert writes the fixture and fills BountyID and JobIDs.
func (f *BountyFixture) Insert(t TestingTB, db *sql.DB) *BountyFixture {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, `
		INSERT INTO billing_accounts (org_id, balance_cents) VALUES ($1, $2)
		ON CONFLICT (org_id) DO UPDATE SET balance_cents = EXCLUDED.balance_cents`,
		f.OrgID, f.BalanceCents); err != nil {
		t.Fatalf("insert billing account: %v", err)
	}

	f.BountyID = uuid.NewString()
	if !json.Valid([]byte(f.Descriptor)) {
		t.Fatalf("fixture descriptor is not JSON: %s", f.Descriptor)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO bounties (id, org_id, title, payout_cents, task_descriptor, required_fingerprint_class)
		VALUES ($1, $2, 'fixture bounty', $3, $4, $5)`,
		f.BountyID, f.OrgID, f.PayoutCents, []byte(f.Descriptor), f.FingerprintClass); err != nil {
		t.Fatalf("insert bounty: %v", err)
	}

	f.JobIDs = f.JobIDs[:0]
	for i := range f.Jobs {
		id := uuid.NewString()
		created := TestTime().Add(time.Duration(i) * time.Millisecond)
		if _, err := db.ExecContext(ctx, `
			INSERT INTO jobs (id, bounty_id, required_fingerprint_class, status, deadline_at, created_at, updated_at)
			VALUES ($1, $2, $3, 'open', $4, $5, $5)`,
			id, f.BountyID, f.FingerprintClass, f.Deadline, created); err != nil {
			t.Fatalf("insert job: %v", err)
		}
		f.JobIDs = append(f.JobIDs, id)
	}
	return f
}

// Balance reads an org's billing balance.
func Balance(t TestingTB, db *sql.DB, orgID string) int64 {
	t.Helper()
	var cents int64
	if err := db.QueryRowContext(context.Background(),
		`SELECT balance_cents FROM billing_accounts WHERE org_id = $1`, orgID).Scan(&cents); err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return cents
}

// CountRows counts rows in table matching an optional where clause.
func CountRows(t TestingTB, db *sql.DB, table, where string, args ...any) int {
	t.Helper()
	query := "SELECT count(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := db.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
