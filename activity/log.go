// Package activity is the append-only audit trail with filtered, cursor
// paginated retrieval.
package activity

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeflow/address"
	"tradeflow/apperr"
)

// Log validates and stamps entries before handing them to a Store.
type Log struct {
	store       Store
	logger      *log.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewLog(store Store, logger *log.Logger) *Log {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Log{
		store:       store,
		logger:      logger,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (l *Log) WithIDGenerator(gen func() string) *Log {
	l.idGenerator = gen
	return l
}

func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Append stores one entry. Actor and action are required.
func (l *Log) Append(ctx context.Context, in NewEntry) (entry Entry, err error) {
	defer apperr.Recover(&err)

	actor := strings.TrimSpace(in.Actor)
	action := strings.TrimSpace(in.Action)
	if actor == "" {
		return Entry{}, apperr.New(apperr.KindMissingField, "actor is required")
	}
	if action == "" {
		return Entry{}, apperr.New(apperr.KindMissingField, "action is required")
	}

	ts := in.Timestamp
	if ts == 0 {
		ts = l.now().UnixMilli()
	}
	origin := in.Origin
	if origin == "" {
		origin = OriginOffChain
		if in.TxID != "" {
			origin = OriginOnChain
		}
	}

	e := Entry{
		ID:           l.idGenerator(),
		Timestamp:    ts,
		Origin:       origin,
		Action:       action,
		Actor:        address.Checksum(actor),
		TxID:         strings.TrimSpace(in.TxID),
		Tags:         normalizeTags(in.Tags),
		Extra:        in.Extra,
		Confirmation: in.Confirmation,
	}
	if in.AgreementID != "" {
		e.AgreementID = address.Checksum(in.AgreementID)
	}

	stored, err := l.store.Insert(ctx, e)
	if err != nil {
		l.logger.Printf("activity: append %s by %s: %v", action, e.Actor, err)
		return Entry{}, apperr.Wrap(apperr.KindInternal, err, "append activity entry")
	}
	return stored, nil
}

// Query returns one page in descending timestamp order. NextCursor points at
// the last returned entry and is nil when fewer than limit entries came back.
func (l *Log) Query(ctx context.Context, filter Filter, cursor *Cursor, limit int) (page Page, err error) {
	defer apperr.Recover(&err)

	limit = normalizeLimit(limit)
	filter.Tags = normalizeTags(filter.Tags)

	items, err := l.store.Query(ctx, filter, cursor, limit)
	if err != nil {
		l.logger.Printf("activity: query %+v: %v", filter, err)
		return Page{}, apperr.Wrap(apperr.KindInternal, err, "query activity")
	}

	page = Page{Items: items}
	if len(items) == limit {
		next := CursorOf(items[len(items)-1])
		page.NextCursor = &next
	}
	return page, nil
}
