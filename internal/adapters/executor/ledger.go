// Package executor implements the payout executors: a fiat ledger that books payouts
// inside the payout transaction and an on-chain splitter transfer through a relayer.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// ProviderLedger is the provider name recorded on ledger-paid payouts.
const ProviderLedger = "ledger"

// Ledger books a payout as credit entries for the worker, the platform and proofwork.
type Ledger struct {
	repo *data.LedgerRepo
}

var _ core.PayoutExecutor = (*Ledger)(nil)

// NewLedger constructs a Ledger executor.
func NewLedger(repo *data.LedgerRepo) (*Ledger, error) {
	if repo == nil {
		return nil, errors.New("ledger repo is required")
	}
	return &Ledger{repo: repo}, nil
}

// Name implements core.PayoutExecutor.
func (l *Ledger) Name() string { return ProviderLedger }

// Execute writes the credit entries in q, the transaction holding the payout lock.
// Replays skip entries already booked, so the reference is stable.
func (l *Ledger) Execute(ctx context.Context, q pgxutil.Querier, p model.Payout) (model.Receipt, error) {
	if p.NetCents() < 0 {
		return model.Receipt{}, apperrors.Invariantf("payout %s fees exceed amount", p.ID)
	}
	if _, err := l.repo.AppendTx(ctx, q, CreditEntries(p)); err != nil {
		return model.Receipt{}, fmt.Errorf("book payout %s: %w", p.ID, err)
	}
	return model.Receipt{Provider: ProviderLedger, Reference: "ledger:" + p.ID}, nil
}

// CreditEntries splits a payout into its ledger credits. Zero amounts are omitted by
// the repository.
func CreditEntries(p model.Payout) []model.LedgerEntry {
	return []model.LedgerEntry{
		{PayoutID: p.ID, Account: model.WorkerAccount(p.WorkerID), AmountCents: p.NetCents(), Kind: model.LedgerEntryCredit},
		{PayoutID: p.ID, Account: model.LedgerAccountPlatform, AmountCents: p.PlatformFeeCents, Kind: model.LedgerEntryCredit},
		{PayoutID: p.ID, Account: model.LedgerAccountProofwork, AmountCents: p.ProofworkFeeCents, Kind: model.LedgerEntryCredit},
	}
}
