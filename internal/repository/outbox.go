package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-checkout/internal/outbox"
)

const (
	insertOutboxSQL = `INSERT INTO outbox (event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`

	// SKIP LOCKED lets several relays share the table without handing out
	// the same message twice.
	claimOutboxSQL = `SELECT id, event_id::text, topic, key, payload, created_at
		FROM outbox WHERE sent_at IS NULL
		ORDER BY id LIMIT $1
		FOR UPDATE SKIP LOCKED`

	markOutboxSentSQL = `UPDATE outbox SET sent_at = now() WHERE id = ANY($1)`

	oldestPendingSQL = `SELECT COALESCE(EXTRACT(EPOCH FROM now() - min(created_at)), 0)::float8
		FROM outbox WHERE sent_at IS NULL`
)

var _ outbox.Source = (*OutboxRepository)(nil)

// OutboxRepository reads and acknowledges outbox messages.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// ProcessPending implements outbox.Source. Claimed rows stay locked while fn
// runs and are marked sent in the same transaction.
func (r *OutboxRepository) ProcessPending(
	ctx context.Context,
	limit int,
	fn func(ctx context.Context, msgs []outbox.Message) error,
) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning outbox transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	rows, err := tx.Query(ctx, claimOutboxSQL, limit)
	if err != nil {
		return 0, fmt.Errorf("claiming outbox messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, scanOutboxMessage)
	if err != nil {
		return 0, fmt.Errorf("claiming outbox messages: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := fn(ctx, msgs); err != nil {
		return 0, err
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if _, err := tx.Exec(ctx, markOutboxSentSQL, ids); err != nil {
		return 0, fmt.Errorf("marking outbox messages sent: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing outbox transaction: %w", err)
	}
	return len(msgs), nil
}

// OldestPending returns the age of the oldest unsent message, zero when the
// outbox is drained.
func (r *OutboxRepository) OldestPending(ctx context.Context) (time.Duration, error) {
	var seconds float64
	if err := r.pool.QueryRow(ctx, oldestPendingSQL).Scan(&seconds); err != nil {
		return 0, fmt.Errorf("getting oldest pending outbox message: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func enqueueOutbox(ctx context.Context, q querier, msg outbox.Message) error {
	if _, err := q.Exec(ctx, insertOutboxSQL, msg.EventID, msg.Topic, msg.Key, msg.Payload); err != nil {
		return fmt.Errorf("inserting outbox message: %w", classify(err))
	}
	return nil
}

func scanOutboxMessage(row pgx.CollectableRow) (outbox.Message, error) {
	var m outbox.Message
	err := row.Scan(&m.ID, &m.EventID, &m.Topic, &m.Key, &m.Payload, &m.CreatedAt)
	return m, err
}
