package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tradeflow/ledger"
	"tradeflow/payload"
	"tradeflow/stage"
)

var (
	// ErrDuplicateEvent signals the (agreement, action, tx) unique guard fired.
	ErrDuplicateEvent = errors.New("agreement: duplicate stage event")
	// ErrAgreementNotFound is returned when no agreement row exists for the provided identifier.
	ErrAgreementNotFound = errors.New("agreement: not found")
	// ErrAlreadyDeployed is returned by a second deploy of the same agreement.
	ErrAlreadyDeployed = errors.New("agreement: already deployed")
	// ErrEventNotFound is returned by FindEvent when nothing matches.
	ErrEventNotFound = errors.New("agreement: stage event not found")
)

// Repository stores the agreement mirror and its append-only history.
type Repository interface {
	Get(ctx context.Context, id string) (Agreement, error)
	Deployment(ctx context.Context, id string) (payload.Deploy, error)
	FindEvent(ctx context.Context, id, action, txID string) (StageEvent, error)
	Append(ctx context.Context, params AppendParams) (StageEvent, error)
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PGRepository struct {
	pool TxBeginner
}

func NewRepository(pool TxBeginner) *PGRepository {
	return &PGRepository{pool: pool}
}

const agreementColumns = `id, primary_party, counterparty, logistics, insurance, inspector, required_amount,
    stage, primary_signed, counterparty_signed, COALESCE(deploy_tx_id, ''), created_at, updated_at`

const eventColumns = `seq, agreement_id, action, actor, COALESCE(tx_id, ''), extra, ts, confirmation`

func (r *PGRepository) Get(ctx context.Context, id string) (Agreement, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1`, id)
	a, err := scanAgreement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrAgreementNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM stage_events WHERE agreement_id = $1 ORDER BY seq`, id)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return Agreement{}, fmt.Errorf("agreement: scan event: %w", err)
		}
		a.Events = append(a.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return Agreement{}, fmt.Errorf("agreement: iterate events: %w", err)
	}
	return a, nil
}

func (r *PGRepository) Deployment(ctx context.Context, id string) (payload.Deploy, error) {
	var d payload.Deploy
	err := r.pool.QueryRow(ctx, `
SELECT primary_party, counterparty, logistics, insurance, inspector, required_amount
FROM agreements
WHERE id = $1`, id).Scan(&d.Primary, &d.Counterparty, &d.Logistics, &d.Insurance, &d.Inspector, &d.RequiredAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payload.Deploy{}, ErrAgreementNotFound
		}
		return payload.Deploy{}, fmt.Errorf("agreement: get deployment: %w", err)
	}
	return d, nil
}

func (r *PGRepository) FindEvent(ctx context.Context, id, action, txID string) (StageEvent, error) {
	row := r.pool.QueryRow(ctx, `
SELECT `+eventColumns+`
FROM stage_events
WHERE agreement_id = $1 AND action = $2 AND tx_id = $3`, id, action, txID)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StageEvent{}, ErrEventNotFound
		}
		return StageEvent{}, fmt.Errorf("agreement: find event: %w", err)
	}
	return ev, nil
}

// Append stores the event, advances the mirror and enqueues the outbox
// message in one transaction. The agreement row is locked for the duration so
// concurrent signers each see the other's flag.
func (r *PGRepository) Append(ctx context.Context, params AppendParams) (StageEvent, error) {
	ev := params.Event
	if ev.AgreementID == "" {
		return StageEvent{}, fmt.Errorf("agreement: missing agreement id")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return StageEvent{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := setActorContext(ctx, tx, ev.Actor); err != nil {
		return StageEvent{}, err
	}

	var (
		current int
		sig     stage.Signatures
	)
	if params.Deploy != nil {
		if err := r.insertAgreement(ctx, tx, ev, *params.Deploy); err != nil {
			return StageEvent{}, err
		}
	} else {
		err := tx.QueryRow(ctx, `SELECT stage, primary_signed, counterparty_signed FROM agreements WHERE id = $1 FOR UPDATE`, ev.AgreementID).
			Scan(&current, &sig.Primary, &sig.Counterparty)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return StageEvent{}, ErrAgreementNotFound
			}
			return StageEvent{}, fmt.Errorf("agreement: lock agreement: %w", err)
		}
	}

	sig.Primary = sig.Primary || params.SignPrimary
	sig.Counterparty = sig.Counterparty || params.SignCounterparty
	next := stage.Advance(stage.Ordinal(current), ev.Action, sig)

	if ev.Seq, err = r.insertEvent(ctx, tx, ev); err != nil {
		return StageEvent{}, err
	}

	if _, err := tx.Exec(ctx, `
UPDATE agreements
SET stage = $2,
    primary_signed = $3,
    counterparty_signed = $4,
    updated_at = get_tx_timestamp()
WHERE id = $1`, ev.AgreementID, int(next), sig.Primary, sig.Counterparty); err != nil {
		return StageEvent{}, fmt.Errorf("agreement: update stage: %w", err)
	}

	if err := r.enqueueOutbox(ctx, tx, ev, next); err != nil {
		return StageEvent{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return StageEvent{}, fmt.Errorf("agreement: commit tx: %w", err)
	}
	return ev, nil
}

func (r *PGRepository) insertAgreement(ctx context.Context, tx pgx.Tx, ev StageEvent, d payload.Deploy) error {
	const insertSQL = `
INSERT INTO agreements (id, primary_party, counterparty, logistics, insurance, inspector, required_amount, stage, deploy_tx_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NULLIF($8, ''))
ON CONFLICT (id) DO NOTHING
RETURNING id;
`
	var id string
	err := tx.QueryRow(ctx, insertSQL, ev.AgreementID, d.Primary, d.Counterparty, d.Logistics, d.Insurance, d.Inspector, d.RequiredAmount, ev.TxID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlreadyDeployed
		}
		return fmt.Errorf("agreement: insert agreement: %w", err)
	}
	return nil
}

func (r *PGRepository) insertEvent(ctx context.Context, tx pgx.Tx, ev StageEvent) (int64, error) {
	extra, err := payload.Marshal(ev.Extra)
	if err != nil {
		return 0, fmt.Errorf("agreement: marshal extra: %w", err)
	}
	var confirmation []byte
	if ev.Confirmation != nil {
		if confirmation, err = json.Marshal(ev.Confirmation); err != nil {
			return 0, fmt.Errorf("agreement: marshal confirmation: %w", err)
		}
	}

	const insertSQL = `
INSERT INTO stage_events (agreement_id, action, actor, tx_id, extra, ts, confirmation)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
RETURNING seq;
`
	var seq int64
	err = tx.QueryRow(ctx, insertSQL, ev.AgreementID, ev.Action, ev.Actor, ev.TxID, extra, ev.Timestamp, confirmation).Scan(&seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateEvent
		}
		return 0, fmt.Errorf("agreement: insert stage event: %w", err)
	}
	return seq, nil
}

func (r *PGRepository) enqueueOutbox(ctx context.Context, tx pgx.Tx, ev StageEvent, next stage.Ordinal) error {
	payloadBytes, err := outboxPayload(ev, next)
	if err != nil {
		return err
	}

	const insertSQL = `
INSERT INTO outbox (topic, payload)
VALUES ($1, $2);
`
	if _, err := tx.Exec(ctx, insertSQL, OutboxTopicStageRecorded, payloadBytes); err != nil {
		return fmt.Errorf("agreement: insert outbox message: %w", err)
	}
	return nil
}

func outboxPayload(ev StageEvent, next stage.Ordinal) ([]byte, error) {
	b, err := json.Marshal(map[string]any{
		"agreement_id": ev.AgreementID,
		"seq":          ev.Seq,
		"action":       ev.Action,
		"actor":        ev.Actor,
		"tx_id":        ev.TxID,
		"stage":        next.String(),
		"timestamp":    ev.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("agreement: marshal outbox payload: %w", err)
	}
	return b, nil
}

func scanAgreement(row pgx.Row) (Agreement, error) {
	var (
		a       Agreement
		ordinal int
	)
	err := row.Scan(
		&a.ID,
		&a.Roles.Primary,
		&a.Roles.Counterparty,
		&a.Roles.Logistics,
		&a.Roles.Insurance,
		&a.Roles.Inspector,
		&a.RequiredAmount,
		&ordinal,
		&a.Signatures.Primary,
		&a.Signatures.Counterparty,
		&a.DeployTxID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	a.Stage = stage.Ordinal(ordinal)
	return a, err
}

func scanEvent(row pgx.Row) (StageEvent, error) {
	var (
		ev           StageEvent
		extra        []byte
		confirmation []byte
	)
	if err := row.Scan(&ev.Seq, &ev.AgreementID, &ev.Action, &ev.Actor, &ev.TxID, &extra, &ev.Timestamp, &confirmation); err != nil {
		return StageEvent{}, err
	}
	x, err := payload.Unmarshal(extra)
	if err != nil {
		return StageEvent{}, fmt.Errorf("agreement: decode extra: %w", err)
	}
	ev.Extra = x
	if len(confirmation) > 0 {
		var c ledger.Confirmation
		if err := json.Unmarshal(confirmation, &c); err != nil {
			return StageEvent{}, fmt.Errorf("agreement: decode confirmation: %w", err)
		}
		ev.Confirmation = &c
	}
	return ev, nil
}
