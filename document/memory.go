package document

import (
	"context"
	"slices"
	"sync"
	"time"

	"tradeflow/address"
)

// MemoryRepository is the in-process document store used when
// storage.driver is memory.
type MemoryRepository struct {
	mu   sync.Mutex
	seq  int64
	docs map[string]*Document
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string]*Document), now: time.Now}
}

func (m *MemoryRepository) Get(ctx context.Context, tokenID string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[tokenID]
	if !ok {
		return Document{}, ErrNotFound
	}
	return clone(d), nil
}

func (m *MemoryRepository) Create(ctx context.Context, doc Document, entry LogEntry) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.TokenID]; ok {
		return Document{}, ErrDuplicateToken
	}
	now := m.now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	doc.LinkedAgreements = slices.Clone(doc.LinkedAgreements)

	m.seq++
	entry.Seq = m.seq
	doc.Logs = []LogEntry{entry}
	m.docs[doc.TokenID] = &doc
	return clone(&doc), nil
}

func (m *MemoryRepository) Link(ctx context.Context, tokenID, agreementID string, entry LogEntry) (Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[tokenID]
	if !ok {
		return Document{}, false, ErrNotFound
	}
	for _, linked := range d.LinkedAgreements {
		if address.Equal(linked, agreementID) {
			return clone(d), false, nil
		}
	}
	d.LinkedAgreements = append(d.LinkedAgreements, agreementID)
	d.UpdatedAt = m.now().UTC()
	m.seq++
	entry.Seq = m.seq
	d.Logs = append(d.Logs, entry)
	return clone(d), true, nil
}

func (m *MemoryRepository) Transition(ctx context.Context, tokenID string, from, to Status, entry LogEntry) (LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[tokenID]
	if !ok {
		return LogEntry{}, ErrNotFound
	}
	if d.Status != from {
		return LogEntry{}, ErrStaleStatus
	}
	d.Status = to
	d.UpdatedAt = m.now().UTC()
	m.seq++
	entry.Seq = m.seq
	d.Logs = append(d.Logs, entry)
	return entry, nil
}

func clone(d *Document) Document {
	out := *d
	out.LinkedAgreements = slices.Clone(d.LinkedAgreements)
	out.Logs = slices.Clone(d.Logs)
	return out
}
