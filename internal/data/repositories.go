package data

import (
	"database/sql"
	"log/slog"
)

// Repositories bundles the pipeline repositories over one database so services can
// span several of them in a single transaction.
type Repositories struct {
	DB            *sql.DB
	Outbox        *OutboxRepo
	Bounties      *BountyRepo
	Jobs          *JobRepo
	Submissions   *SubmissionRepo
	Verifications *VerificationRepo
	Payouts       *PayoutRepo
	Disputes      *DisputeRepo
	Billing       *BillingRepo
	Ledger        *LedgerRepo
}

// RepositoriesConfig configures NewRepositories.
type RepositoriesConfig struct {
	Outbox       OutboxRepoConfig
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewRepositories builds every repository over db with a shared clock.
func NewRepositories(db *sql.DB, cfg RepositoriesConfig) *Repositories {
	clock := resolveClock(cfg.TimeProvider)
	outboxCfg := cfg.Outbox
	if outboxCfg.TimeProvider == nil {
		outboxCfg.TimeProvider = clock
	}
	return &Repositories{
		DB:            db,
		Outbox:        NewOutboxRepo(db, outboxCfg),
		Bounties:      NewBountyRepo(db),
		Jobs:          NewJobRepo(db, RepoConfig{Logger: cfg.Logger, TimeProvider: clock}),
		Submissions:   NewSubmissionRepo(db, clock),
		Verifications: NewVerificationRepo(db, clock),
		Payouts:       NewPayoutRepo(db, clock),
		Disputes:      NewDisputeRepo(db, clock),
		Billing:       NewBillingRepo(db, clock),
		Ledger:        NewLedgerRepo(db, clock),
	}
}
