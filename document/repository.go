package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tradeflow/address"
	"tradeflow/ledger"
	"tradeflow/payload"
)

var (
	ErrNotFound       = errors.New("document: not found")
	ErrDuplicateToken = errors.New("document: token already minted")
	// ErrStaleStatus means the document left the expected status before the
	// transition was written.
	ErrStaleStatus = errors.New("document: status changed concurrently")
)

// Repository stores documents, their agreement links and their logs.
type Repository interface {
	Get(ctx context.Context, tokenID string) (Document, error)
	Create(ctx context.Context, doc Document, entry LogEntry) (Document, error)
	Link(ctx context.Context, tokenID, agreementID string, entry LogEntry) (Document, bool, error)
	Transition(ctx context.Context, tokenID string, from, to Status, entry LogEntry) (LogEntry, error)
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

func (r *PGRepository) Get(ctx context.Context, tokenID string) (Document, error) {
	var d Document
	err := r.pool.QueryRow(ctx, `
SELECT token_id, owner, hash, uri, doc_type, signer, status, created_at, updated_at
FROM documents
WHERE token_id = $1`, tokenID).Scan(&d.TokenID, &d.Owner, &d.Hash, &d.URI, &d.Type, &d.Signer, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("document: get: %w", err)
	}

	links, err := r.pool.Query(ctx, `SELECT agreement_id FROM document_links WHERE token_id = $1 ORDER BY position`, tokenID)
	if err != nil {
		return Document{}, fmt.Errorf("document: query links: %w", err)
	}
	d.LinkedAgreements, err = pgx.CollectRows(links, pgx.RowTo[string])
	if err != nil {
		return Document{}, fmt.Errorf("document: scan links: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
SELECT seq, token_id, action, actor, COALESCE(tx_id, ''), extra, ts, confirmation
FROM document_logs
WHERE token_id = $1
ORDER BY seq`, tokenID)
	if err != nil {
		return Document{}, fmt.Errorf("document: query logs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e            LogEntry
			extra        []byte
			confirmation []byte
		)
		if err := rows.Scan(&e.Seq, &e.TokenID, &e.Action, &e.Actor, &e.TxID, &extra, &e.Timestamp, &confirmation); err != nil {
			return Document{}, fmt.Errorf("document: scan log: %w", err)
		}
		if e.Extra, err = payload.Unmarshal(extra); err != nil {
			return Document{}, fmt.Errorf("document: decode log extra: %w", err)
		}
		if len(confirmation) > 0 {
			var c ledger.Confirmation
			if err := json.Unmarshal(confirmation, &c); err != nil {
				return Document{}, fmt.Errorf("document: decode confirmation: %w", err)
			}
			e.Confirmation = &c
		}
		d.Logs = append(d.Logs, e)
	}
	return d, rows.Err()
}

func (r *PGRepository) Create(ctx context.Context, doc Document, entry LogEntry) (Document, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
INSERT INTO documents (token_id, owner, hash, uri, doc_type, signer, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at;
`
	err = tx.QueryRow(ctx, insertSQL, doc.TokenID, doc.Owner, doc.Hash, doc.URI, doc.Type, doc.Signer, doc.Status).
		Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Document{}, ErrDuplicateToken
		}
		return Document{}, fmt.Errorf("document: insert: %w", err)
	}

	for i, agreementID := range doc.LinkedAgreements {
		if _, err := tx.Exec(ctx, `
INSERT INTO document_links (token_id, agreement_id, agreement_key, position)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING`, doc.TokenID, agreementID, address.Key(agreementID), i); err != nil {
			return Document{}, fmt.Errorf("document: insert link: %w", err)
		}
	}

	if entry.Seq, err = insertLog(ctx, tx, entry); err != nil {
		return Document{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("document: commit tx: %w", err)
	}
	doc.Logs = []LogEntry{entry}
	return doc, nil
}

// Link adds agreementID to the linked set. It reports false when the
// agreement was already linked, in which case no log entry is written.
func (r *PGRepository) Link(ctx context.Context, tokenID, agreementID string, entry LogEntry) (Document, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Document{}, false, fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var positions int
	err = tx.QueryRow(ctx, `
SELECT (SELECT COUNT(*) FROM document_links l WHERE l.token_id = d.token_id)
FROM documents d
WHERE d.token_id = $1
FOR UPDATE`, tokenID).Scan(&positions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, false, ErrNotFound
		}
		return Document{}, false, fmt.Errorf("document: lock: %w", err)
	}

	tag, err := tx.Exec(ctx, `
INSERT INTO document_links (token_id, agreement_id, agreement_key, position)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING`, tokenID, agreementID, address.Key(agreementID), positions)
	if err != nil {
		return Document{}, false, fmt.Errorf("document: insert link: %w", err)
	}
	added := tag.RowsAffected() > 0
	if added {
		if _, err := insertLog(ctx, tx, entry); err != nil {
			return Document{}, false, err
		}
		if _, err := tx.Exec(ctx, `UPDATE documents SET updated_at = get_tx_timestamp() WHERE token_id = $1`, tokenID); err != nil {
			return Document{}, false, fmt.Errorf("document: touch: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Document{}, false, fmt.Errorf("document: commit tx: %w", err)
	}

	doc, err := r.Get(ctx, tokenID)
	return doc, added, err
}

// Transition moves the document from one status to another only if it is
// still in from, and appends entry in the same transaction.
func (r *PGRepository) Transition(ctx context.Context, tokenID string, from, to Status, entry LogEntry) (LogEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return LogEntry{}, fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE documents
SET status = $3,
    updated_at = get_tx_timestamp()
WHERE token_id = $1 AND status = $2`, tokenID, from, to)
	if err != nil {
		return LogEntry{}, fmt.Errorf("document: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE token_id = $1)`, tokenID).Scan(&exists); err != nil {
			return LogEntry{}, fmt.Errorf("document: check existence: %w", err)
		}
		if !exists {
			return LogEntry{}, ErrNotFound
		}
		return LogEntry{}, ErrStaleStatus
	}

	if entry.Seq, err = insertLog(ctx, tx, entry); err != nil {
		return LogEntry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return LogEntry{}, fmt.Errorf("document: commit tx: %w", err)
	}
	return entry, nil
}

func insertLog(ctx context.Context, tx pgx.Tx, e LogEntry) (int64, error) {
	extra, err := payload.Marshal(e.Extra)
	if err != nil {
		return 0, fmt.Errorf("document: marshal log extra: %w", err)
	}
	var confirmation []byte
	if e.Confirmation != nil {
		if confirmation, err = json.Marshal(e.Confirmation); err != nil {
			return 0, fmt.Errorf("document: marshal confirmation: %w", err)
		}
	}
	var seq int64
	err = tx.QueryRow(ctx, `
INSERT INTO document_logs (token_id, action, actor, tx_id, extra, ts, confirmation)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
RETURNING seq`, e.TokenID, e.Action, e.Actor, e.TxID, extra, e.Timestamp, confirmation).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("document: insert log: %w", err)
	}
	return seq, nil
}
