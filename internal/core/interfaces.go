package core

import (
	"context"
	"time"

	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/model"
)

// This file contains the ports between the pipeline services and their collaborators.
// Services and workers depend on these interfaces so they can be tested with gomock
// mocks from internal/mocks.

// OutboxStore is the worker side of the outbox claim protocol.
type OutboxStore interface {
	ClaimBatch(ctx context.Context, topics []string, holder string, limit int) ([]model.OutboxEvent, error)
	MarkSent(ctx context.Context, id, holder string) error
	MarkFailed(ctx context.Context, id, holder string, cause error) (model.OutboxStatus, error)
	Release(ctx context.Context, id, holder string) error
}

// OutboxStatsReader reports per-topic outbox counts.
type OutboxStatsReader interface {
	Stats(ctx context.Context) ([]model.OutboxStats, error)
}

// OutboxHandler processes one claimed outbox event. A nil return marks the event sent;
// an error schedules a retry, or deadletters it when wrapped with backoff.Permanent.
type OutboxHandler interface {
	Handle(ctx context.Context, evt model.OutboxEvent) error
}

// OutboxHandlerFunc adapts a function to OutboxHandler.
type OutboxHandlerFunc func(ctx context.Context, evt model.OutboxEvent) error

// Handle implements OutboxHandler.
func (f OutboxHandlerFunc) Handle(ctx context.Context, evt model.OutboxEvent) error {
	return f(ctx, evt)
}

// DeadletterNotifier is told about events that exhausted their retries.
type DeadletterNotifier interface {
	NotifyDeadletter(ctx context.Context, evt model.OutboxEvent, cause error)
}

// VerifierGateway judges a submission. Implementations return protocol errors for
// responses outside the fixed contract; verdicts are never errors.
type VerifierGateway interface {
	Verify(ctx context.Context, req model.VerifyRequest) (*model.VerifyResponse, error)
}

// PayoutExecutor transfers the funds of a payout. q is the transaction holding the
// payout row lock so ledger-style executors can write in it.
type PayoutExecutor interface {
	Name() string
	Execute(ctx context.Context, q pgxutil.Querier, p model.Payout) (model.Receipt, error)
}

// Signer produces a recoverable signature over a 32-byte digest.
type Signer interface {
	Address() string
	Sign(ctx context.Context, digest [32]byte) ([]byte, error)
}

// JobSweeper expires jobs that can no longer make progress.
type JobSweeper interface {
	ExpirePastDeadline(ctx context.Context, batchSize int) (int64, error)
	ExpireStuckVerifying(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}
