// Package mocks provides gomock implementations of the ports in internal/core.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockOutboxStore(ctrl)
//	store.EXPECT().MarkSent(gomock.Any(), "evt-1", "worker-1").Return(nil)
package mocks

// Worker side of the outbox claim protocol: ClaimBatch, MarkSent, MarkFailed, Release
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=outbox_store_mock.go github.com/proofwork/proofwork/internal/core OutboxStore

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=outbox_stats_reader_mock.go github.com/proofwork/proofwork/internal/core OutboxStatsReader
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=outbox_handler_mock.go github.com/proofwork/proofwork/internal/core OutboxHandler
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=deadletter_notifier_mock.go github.com/proofwork/proofwork/internal/core DeadletterNotifier

// External collaborators: the verifier gateway, payout executors and the signing primitive
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=verifier_gateway_mock.go github.com/proofwork/proofwork/internal/core VerifierGateway
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=payout_executor_mock.go github.com/proofwork/proofwork/internal/core PayoutExecutor
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=signer_mock.go github.com/proofwork/proofwork/internal/core Signer

// ExpirePastDeadline, ExpireStuckVerifying
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_sweeper_mock.go github.com/proofwork/proofwork/internal/core JobSweeper
