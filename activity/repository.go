package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tradeflow/address"
	"tradeflow/ledger"
	"tradeflow/payload"
)

// DB is the subset of pgxpool.Pool used by PGStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore keeps entries in activity_logs. The bigserial seq column doubles as
// the insertion-order tie breaker.
type PGStore struct {
	db DB
}

func NewPGStore(db DB) *PGStore {
	return &PGStore{db: db}
}

const selectColumns = `id, seq, ts, origin, action, actor, tx_id, agreement_id, tags, extra, confirmation`

func (s *PGStore) Insert(ctx context.Context, e Entry) (Entry, error) {
	extra, err := payload.Marshal(e.Extra)
	if err != nil {
		return Entry{}, fmt.Errorf("activity: encode extra: %w", err)
	}
	var confirmation []byte
	if e.Confirmation != nil {
		if confirmation, err = json.Marshal(e.Confirmation); err != nil {
			return Entry{}, fmt.Errorf("activity: encode confirmation: %w", err)
		}
	}

	const query = `
INSERT INTO activity_logs (id, ts, origin, action, actor, actor_key, tx_id, agreement_id, agreement_key, tags, extra, confirmation)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12)
RETURNING seq;
`
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	err = s.db.QueryRow(ctx, query,
		e.ID,
		e.Timestamp,
		e.Origin,
		e.Action,
		e.Actor,
		address.Key(e.Actor),
		e.TxID,
		e.AgreementID,
		address.Key(e.AgreementID),
		tags,
		extra,
		confirmation,
	).Scan(&e.Seq)
	if err != nil {
		return Entry{}, fmt.Errorf("activity: insert entry: %w", err)
	}
	return e, nil
}

func (s *PGStore) Query(ctx context.Context, filter Filter, cursor *Cursor, limit int) ([]Entry, error) {
	limit = normalizeLimit(limit)

	where := []string{"1=1"}
	args := []any{}

	if filter.Actor != "" {
		where = append(where, fmt.Sprintf("actor_key=$%d", len(args)+1))
		args = append(args, address.Key(filter.Actor))
	}
	if filter.TxID != "" {
		where = append(where, fmt.Sprintf("tx_id=$%d", len(args)+1))
		args = append(args, strings.TrimSpace(filter.TxID))
	}
	if filter.AgreementID != "" {
		where = append(where, fmt.Sprintf("agreement_key=$%d", len(args)+1))
		args = append(args, address.Key(filter.AgreementID))
	}
	if tags := normalizeTags(filter.Tags); len(tags) > 0 {
		where = append(where, fmt.Sprintf("tags @> $%d::text[]", len(args)+1))
		args = append(args, tags)
	}
	if cursor != nil {
		if cursor.Seq == 0 {
			where = append(where, fmt.Sprintf("ts < $%d", len(args)+1))
			args = append(args, cursor.Timestamp)
		} else {
			where = append(where, fmt.Sprintf("(ts < $%d OR (ts = $%d AND seq > $%d))", len(args)+1, len(args)+1, len(args)+2))
			args = append(args, cursor.Timestamp, int64(cursor.Seq))
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM activity_logs WHERE %s ORDER BY ts DESC, seq ASC LIMIT %d`,
		selectColumns, strings.Join(where, " AND "), limit)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("activity: query entries: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity: iterate entries: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e            Entry
		seq          int64
		txID         *string
		agreementID  *string
		extra        []byte
		confirmation []byte
	)
	if err := row.Scan(&e.ID, &seq, &e.Timestamp, &e.Origin, &e.Action, &e.Actor, &txID, &agreementID, &e.Tags, &extra, &confirmation); err != nil {
		return Entry{}, fmt.Errorf("activity: scan entry: %w", err)
	}
	e.Seq = uint64(seq)
	if txID != nil {
		e.TxID = *txID
	}
	if agreementID != nil {
		e.AgreementID = *agreementID
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}

	x, err := payload.Unmarshal(extra)
	if err != nil {
		return Entry{}, fmt.Errorf("activity: decode extra: %w", err)
	}
	e.Extra = x
	if len(confirmation) > 0 {
		var c ledger.Confirmation
		if err := json.Unmarshal(confirmation, &c); err != nil {
			return Entry{}, fmt.Errorf("activity: decode confirmation: %w", err)
		}
		e.Confirmation = &c
	}
	return e, nil
}
