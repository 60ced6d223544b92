package notification

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tradeflow/address"
	"tradeflow/payload"
)

var ErrNotFound = errors.New("notification: not found")

// Repository is the inbox store. It is also the fan-out Sink.
type Repository interface {
	Sink
	ListForRecipient(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]Notification, error)
	Get(ctx context.Context, id string) (Notification, error)
	MarkRead(ctx context.Context, id string) (Notification, error)
	Delete(ctx context.Context, id string) error
}

// DB is the subset of pgxpool.Pool used by PGRepository.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGRepository struct {
	db DB
}

func NewRepository(db DB) *PGRepository {
	return &PGRepository{db: db}
}

const columns = `id, recipient, executor, type, title, message, COALESCE(tx_id, ''), is_read, extra, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, n Notification) (Notification, error) {
	extra, err := payload.Marshal(n.Extra)
	if err != nil {
		return Notification{}, fmt.Errorf("notification: encode extra: %w", err)
	}

	query := `
INSERT INTO notifications (id, recipient, recipient_key, executor, type, title, message, tx_id, extra, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $10)
RETURNING ` + columns

	row := r.db.QueryRow(ctx, query,
		n.ID,
		n.Recipient,
		address.Key(n.Recipient),
		n.Executor,
		n.Type,
		n.Title,
		n.Message,
		n.TxID,
		extra,
		n.CreatedAt,
	)
	created, err := scanNotification(row)
	if err != nil {
		return Notification{}, fmt.Errorf("notification: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) ListForRecipient(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `SELECT ` + columns + ` FROM notifications WHERE recipient_key = $1`
	if unreadOnly {
		query += ` AND NOT is_read`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT %d`, limit)

	rows, err := r.db.Query(ctx, query, address.Key(recipient))
	if err != nil {
		return nil, fmt.Errorf("notification: query list: %w", err)
	}
	defer rows.Close()

	list := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("notification: scan: %w", err)
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

func (r *PGRepository) Get(ctx context.Context, id string) (Notification, error) {
	row := r.db.QueryRow(ctx, `SELECT `+columns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, fmt.Errorf("notification: get: %w", err)
	}
	return n, nil
}

func (r *PGRepository) MarkRead(ctx context.Context, id string) (Notification, error) {
	query := `
UPDATE notifications
SET is_read = true,
    updated_at = get_tx_timestamp()
WHERE id = $1
RETURNING ` + columns

	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, fmt.Errorf("notification: mark read: %w", err)
	}
	return n, nil
}

func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("notification: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n     Notification
		extra []byte
	)
	if err := row.Scan(&n.ID, &n.Recipient, &n.Executor, &n.Type, &n.Title, &n.Message, &n.TxID, &n.Read, &extra, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return Notification{}, err
	}
	x, err := payload.Unmarshal(extra)
	if err != nil {
		return Notification{}, err
	}
	n.Extra = x
	return n, nil
}

// MemoryRepository is the in-process inbox used when storage.driver is memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]Notification
	order []string
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]Notification), now: time.Now}
}

func (m *MemoryRepository) Create(ctx context.Context, n Notification) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[n.ID]; ok {
		return Notification{}, fmt.Errorf("notification: duplicate id %s", n.ID)
	}
	m.items[n.ID] = n
	m.order = append(m.order, n.ID)
	return n, nil
}

func (m *MemoryRepository) ListForRecipient(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := []Notification{}
	for i := len(m.order) - 1; i >= 0 && len(list) < limit; i-- {
		n, ok := m.items[m.order[i]]
		if !ok || !address.Equal(n.Recipient, recipient) {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		list = append(list, n)
	}
	return list, nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.items[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	return n, nil
}

func (m *MemoryRepository) MarkRead(ctx context.Context, id string) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	if !n.Read {
		n.Read = true
		n.UpdatedAt = m.now().UTC()
		m.items[id] = n
	}
	return n, nil
}

func (m *MemoryRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == id })
	return nil
}
