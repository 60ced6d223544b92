package agreement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
)

// OutboxHandler delivers one message. A non-nil error leaves the message
// pending until it runs out of attempts.
type OutboxHandler func(ctx context.Context, msg OutboxMessage) error

// OutboxStore hands pending outbox messages to a handler and records the
// outcome.
type OutboxStore interface {
	DrainOutbox(ctx context.Context, limit, maxAttempts int, handle OutboxHandler) (int, error)
}

// OutboxRelay periodically drains the outbox written alongside stage events.
type OutboxRelay struct {
	store       OutboxStore
	handle      OutboxHandler
	batch       int
	maxAttempts int
	interval    time.Duration
	logger      *log.Logger
}

func NewOutboxRelay(store OutboxStore, handle OutboxHandler, logger *log.Logger) *OutboxRelay {
	if logger == nil {
		logger = log.Default()
	}
	return &OutboxRelay{
		store:       store,
		handle:      handle,
		batch:       10,
		maxAttempts: 5,
		interval:    time.Second,
		logger:      logger,
	}
}

func (r *OutboxRelay) WithInterval(d time.Duration) *OutboxRelay {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *OutboxRelay) WithMaxAttempts(n int) *OutboxRelay {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// RunOnce drains at most one batch and reports how many messages it saw.
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	handle := func(ctx context.Context, msg OutboxMessage) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("agreement: outbox handler panic: %v", p)
			}
		}()
		if err := r.handle(ctx, msg); err != nil {
			r.logger.Printf("agreement: deliver outbox %s (%s, attempt %d): %v", msg.ID, msg.Topic, msg.Attempts+1, err)
			return err
		}
		return nil
	}
	return r.store.DrainOutbox(ctx, r.batch, r.maxAttempts, handle)
}

// Run drains the outbox until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Printf("agreement: drain outbox: %v", err)
		}
		if n == r.batch {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DrainOutbox claims pending rows with SKIP LOCKED so several relays can run
// side by side.
func (r *PGRepository) DrainOutbox(ctx context.Context, limit, maxAttempts int, handle OutboxHandler) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("agreement: begin outbox tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
SELECT id::text, topic, payload, status, attempts, created_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
FOR UPDATE SKIP LOCKED
LIMIT $1`, limit)
	if err != nil {
		return 0, fmt.Errorf("agreement: claim outbox: %w", err)
	}
	batch, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxMessage, error) {
		var m OutboxMessage
		err := row.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return 0, fmt.Errorf("agreement: scan outbox: %w", err)
	}

	for _, msg := range batch {
		status, attempts := settle(msg.Attempts, handle(ctx, msg) == nil, maxAttempts)
		if _, err := tx.Exec(ctx, `
UPDATE outbox SET status = $2, attempts = $3, last_attempt = now()
WHERE id::text = $1`, msg.ID, status, attempts); err != nil {
			return 0, fmt.Errorf("agreement: settle outbox %s: %w", msg.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("agreement: commit outbox tx: %w", err)
	}
	return len(batch), nil
}

// settle returns the next status and attempt count for a delivery outcome.
func settle(attempts int, delivered bool, maxAttempts int) (string, int) {
	if delivered {
		return OutboxProcessed, attempts
	}
	attempts++
	if maxAttempts > 0 && attempts >= maxAttempts {
		return OutboxDead, attempts
	}
	return OutboxPending, attempts
}
