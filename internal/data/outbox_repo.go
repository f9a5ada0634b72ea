package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

var (
	// ErrOutboxLockLost is returned when the caller no longer holds the event's claim.
	ErrOutboxLockLost = errors.New("outbox event not held by caller")
	// ErrOutboxEventNotFound is returned when an event id does not exist.
	ErrOutboxEventNotFound = errors.New("outbox event not found")
)

// OutboxRepoConfig configures claim leases and the retry schedule.
type OutboxRepoConfig struct {
	// Lease is how long a claim stays exclusive. Defaults to 30s.
	Lease time.Duration
	// MaxAttempts is the number of failed attempts that are still retried. The next
	// failure deadletters the event. Defaults to 10.
	MaxAttempts int

	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	// BackoffJitter is the randomization factor in [0,1).
	BackoffJitter float64

	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// OutboxRepo persists outbox events and implements the claim protocol.
type OutboxRepo struct {
	DB     *sql.DB
	cfg    OutboxRepoConfig
	clock  TimeProvider
	logger *slog.Logger
}

// NewOutboxRepo creates an OutboxRepo.
func NewOutboxRepo(db *sql.DB, cfg OutboxRepoConfig) *OutboxRepo {
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Minute
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxRepo{
		DB:     db,
		cfg:    cfg,
		clock:  resolveClock(cfg.TimeProvider),
		logger: logger.With("component", "outbox_repo"),
	}
}

const outboxColumns = `id, topic, idempotency_key, payload, status, attempts, available_at,
  locked_by, lock_expires_at, last_error, created_at, sent_at`

// OutboxMessage is an event to enqueue. Payload is JSON-encoded unless it already is
// a json.RawMessage. A zero AvailableAt means immediately.
type OutboxMessage struct {
	Topic          string
	IdempotencyKey string
	Payload        any
	AvailableAt    time.Time
}

// Enqueue inserts the event unless (topic, idempotency_key) already exists. Pass the
// business transaction as q so the event commits atomically with the state change.
// It reports whether a new row was inserted.
func (r *OutboxRepo) Enqueue(ctx context.Context, q pgxutil.Querier, msg OutboxMessage) (bool, error) {
	if msg.Topic == "" || msg.IdempotencyKey == "" {
		return false, apperrors.Validation("outbox topic and idempotency key are required")
	}
	payload, err := encodePayload(msg.Payload)
	if err != nil {
		return false, fmt.Errorf("encode outbox payload: %w", err)
	}
	now := r.clock.Now()
	availableAt := msg.AvailableAt
	if availableAt.IsZero() {
		availableAt = now
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO outbox_events (id, topic, idempotency_key, payload, status, attempts, available_at, created_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6)
		ON CONFLICT (topic, idempotency_key) DO NOTHING`,
		uuid.NewString(), msg.Topic, msg.IdempotencyKey, payload, availableAt, now)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", msg.Topic, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue rows affected: %w", err)
	}
	return n == 1, nil
}

func encodePayload(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return []byte(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return p, nil
	default:
		return json.Marshal(v)
	}
}

const claimBatchSQL = `
  WITH cte AS (
    SELECT id FROM outbox_events
    WHERE status = 'pending'
      AND topic = ANY($1)
      AND available_at <= $2
      AND (locked_by IS NULL OR lock_expires_at < $2)
    ORDER BY available_at ASC, created_at ASC
    LIMIT $3
    FOR UPDATE SKIP LOCKED
  )
  UPDATE outbox_events o
  SET locked_by = $4, lock_expires_at = $5
  FROM cte
  WHERE o.id = cte.id
  RETURNING o.id, o.topic, o.idempotency_key, o.payload, o.status, o.attempts, o.available_at,
    o.locked_by, o.lock_expires_at, o.last_error, o.created_at, o.sent_at`

// ClaimBatch leases up to limit due events on the given topics to holder. Concurrent
// callers never receive the same event while its lease is live.
func (r *OutboxRepo) ClaimBatch(ctx context.Context, topics []string, holder string, limit int) ([]model.OutboxEvent, error) {
	if len(topics) == 0 || limit <= 0 {
		return nil, nil
	}
	if holder == "" {
		return nil, apperrors.Validation("holder is required")
	}
	now := r.clock.Now()
	rows, err := r.DB.QueryContext(ctx, claimBatchSQL, topics, now, limit, holder, now.Add(r.cfg.Lease))
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	var out []model.OutboxEvent
	for rows.Next() {
		ev, scanErr := scanOutboxEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox batch: %w", err)
	}
	return out, nil
}

// MarkSent records successful handling. Calling it again on a sent event is a no-op.
func (r *OutboxRepo) MarkSent(ctx context.Context, id, holder string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'sent', sent_at = $3, locked_by = NULL, lock_expires_at = NULL
		WHERE id = $1 AND status = 'pending' AND locked_by = $2`,
		id, holder, r.clock.Now())
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", apperrors.MapDBError(err))
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	status, err := r.status(ctx, id)
	if err != nil {
		return err
	}
	if status == model.OutboxStatusSent {
		return nil
	}
	return ErrOutboxLockLost
}

// MarkFailed records a failed attempt. The event is rescheduled with exponential backoff,
// or moved to deadletter once attempts exceed MaxAttempts or cause is a backoff.PermanentError.
// It returns the resulting status.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id, holder string, cause error) (model.OutboxStatus, error) {
	var result model.OutboxStatus
	err := pgxutil.InTx(ctx, r.DB, func(tx *sql.Tx) error {
		var (
			attempts int
			status   model.OutboxStatus
			lockedBy sql.NullString
		)
		err := tx.QueryRowContext(ctx,
			`SELECT attempts, status, locked_by FROM outbox_events WHERE id = $1 FOR UPDATE`, id).
			Scan(&attempts, &status, &lockedBy)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrOutboxEventNotFound
		}
		if err != nil {
			return fmt.Errorf("lock outbox event: %w", apperrors.MapDBError(err))
		}
		if status != model.OutboxStatusPending || lockedBy.String != holder {
			return ErrOutboxLockLost
		}

		attempts++
		now := r.clock.Now()
		result = model.OutboxStatusPending
		nextAt := now.Add(r.RetryDelay(attempts))
		var perm *backoff.PermanentError
		if attempts > r.cfg.MaxAttempts || errors.As(cause, &perm) {
			result = model.OutboxStatusDeadletter
			nextAt = now
		}

		msg := "unknown error"
		if cause != nil {
			msg = truncate(cause.Error(), 2000)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE outbox_events
			SET attempts = $2, status = $3, available_at = $4, last_error = $5,
			    locked_by = NULL, lock_expires_at = NULL
			WHERE id = $1`,
			id, attempts, result, nextAt, msg)
		if err != nil {
			return fmt.Errorf("mark outbox failed: %w", apperrors.MapDBError(err))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if result == model.OutboxStatusDeadletter {
		r.logger.WarnContext(ctx, "outbox event deadlettered", "event_id", id, "error", cause)
	}
	return result, nil
}

// RetryDelay returns the backoff before attempt number attempt+1.
func (r *OutboxRepo) RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BackoffInitial
	b.MaxInterval = r.cfg.BackoffMax
	b.Multiplier = r.cfg.BackoffMultiplier
	b.RandomizationFactor = r.cfg.BackoffJitter
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.InitialInterval
	for range max(attempt, 1) {
		d = b.NextBackOff()
	}
	return d
}

// Release drops the caller's claim without counting an attempt, making the event
// claimable again at once.
func (r *OutboxRepo) Release(ctx context.Context, id, holder string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE outbox_events SET locked_by = NULL, lock_expires_at = NULL
		WHERE id = $1 AND locked_by = $2 AND status = 'pending'`, id, holder)
	if err != nil {
		return fmt.Errorf("release outbox event: %w", apperrors.MapDBError(err))
	}
	return nil
}

// Get loads one event.
func (r *OutboxRepo) Get(ctx context.Context, id string) (*model.OutboxEvent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox_events WHERE id = $1`, id)
	ev, err := scanOutboxEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOutboxEventNotFound
	}
	return ev, err
}

// FindByKey loads the event for (topic, idempotencyKey).
func (r *OutboxRepo) FindByKey(ctx context.Context, topic, key string) (*model.OutboxEvent, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox_events WHERE topic = $1 AND idempotency_key = $2`, topic, key)
	ev, err := scanOutboxEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOutboxEventNotFound
	}
	return ev, err
}

// ListDeadletter returns deadlettered events, newest first. An empty topic lists all.
func (r *OutboxRepo) ListDeadletter(ctx context.Context, topic string, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+outboxColumns+` FROM outbox_events
		WHERE status = 'deadletter' AND ($1 = '' OR topic = $1)
		ORDER BY created_at DESC
		LIMIT $2`, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("list deadletter: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	var out []model.OutboxEvent
	for rows.Next() {
		ev, scanErr := scanOutboxEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

// Requeue moves a deadlettered event back to pending with its attempts reset.
// It reports false when the event was not in deadletter.
func (r *OutboxRepo) Requeue(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'pending', attempts = 0, available_at = $2, last_error = NULL,
		    locked_by = NULL, lock_expires_at = NULL
		WHERE id = $1 AND status = 'deadletter'`, id, r.clock.Now())
	if err != nil {
		return false, fmt.Errorf("requeue outbox event: %w", apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("requeue rows affected: %w", err)
	}
	return n == 1, nil
}

// Stats counts events per topic and status.
func (r *OutboxRepo) Stats(ctx context.Context) ([]model.OutboxStats, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT topic,
		       count(*) FILTER (WHERE status = 'pending'),
		       count(*) FILTER (WHERE status = 'sent'),
		       count(*) FILTER (WHERE status = 'deadletter')
		FROM outbox_events
		GROUP BY topic
		ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("outbox stats: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	var out []model.OutboxStats
	for rows.Next() {
		var s model.OutboxStats
		if err := rows.Scan(&s.Topic, &s.Pending, &s.Sent, &s.Deadletter); err != nil {
			return nil, fmt.Errorf("scan outbox stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *OutboxRepo) status(ctx context.Context, id string) (model.OutboxStatus, error) {
	var status model.OutboxStatus
	err := r.DB.QueryRowContext(ctx, `SELECT status FROM outbox_events WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrOutboxEventNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read outbox status: %w", apperrors.MapDBError(err))
	}
	return status, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxEvent(s rowScanner) (*model.OutboxEvent, error) {
	var (
		ev            model.OutboxEvent
		payload       []byte
		lockedBy      sql.NullString
		lockExpiresAt sql.NullTime
		lastError     sql.NullString
		sentAt        sql.NullTime
	)
	if err := s.Scan(&ev.ID, &ev.Topic, &ev.IdempotencyKey, &payload, &ev.Status, &ev.Attempts,
		&ev.AvailableAt, &lockedBy, &lockExpiresAt, &lastError, &ev.CreatedAt, &sentAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan outbox event: %w", err)
	}
	ev.Payload = json.RawMessage(payload)
	ev.LockedBy = nullStringPtr(lockedBy)
	ev.LockExpiresAt = nullTimePtr(lockExpiresAt)
	ev.LastError = nullStringPtr(lastError)
	ev.SentAt = nullTimePtr(sentAt)
	return &ev, nil
}
