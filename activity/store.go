package activity

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"tradeflow/address"
)

// Store persists entries. Insert assigns Seq; Query returns at most limit
// entries matching filter, positioned after cursor, in query order.
type Store interface {
	Insert(ctx context.Context, e Entry) (Entry, error)
	Query(ctx context.Context, filter Filter, cursor *Cursor, limit int) ([]Entry, error)
}

// MemoryStore keeps a global index plus per-actor, per-transaction and
// per-agreement indexes. Each index slice is sorted in reverse query order so
// the common append (newest timestamp) lands at the tail.
type MemoryStore struct {
	mu          sync.RWMutex
	seq         uint64
	global      []*Entry
	byActor     map[string][]*Entry
	byTx        map[string][]*Entry
	byAgreement map[string][]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byActor:     make(map[string][]*Entry),
		byTx:        make(map[string][]*Entry),
		byAgreement: make(map[string][]*Entry),
	}
}

func (m *MemoryStore) Insert(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	e.Tags = slices.Clone(e.Tags)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	e.Seq = m.seq
	stored := &e

	m.global = insertSorted(m.global, stored)
	key := address.Key(e.Actor)
	m.byActor[key] = insertSorted(m.byActor[key], stored)
	if e.TxID != "" {
		m.byTx[e.TxID] = insertSorted(m.byTx[e.TxID], stored)
	}
	if e.AgreementID != "" {
		k := address.Key(e.AgreementID)
		m.byAgreement[k] = insertSorted(m.byAgreement[k], stored)
	}
	return copyEntry(stored), nil
}

func (m *MemoryStore) Query(ctx context.Context, filter Filter, cursor *Cursor, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	index := m.pickIndex(filter)
	start := len(index)
	if cursor != nil {
		c := *cursor
		start = sort.Search(len(index), func(i int) bool { return !c.after(*index[i]) })
	}

	out := make([]Entry, 0, min(limit, start))
	for i := start - 1; i >= 0 && len(out) < limit; i-- {
		if matches(index[i], filter) {
			out = append(out, copyEntry(index[i]))
		}
	}
	return out, nil
}

// pickIndex returns the smallest index that already satisfies one of the
// filter's equality terms.
func (m *MemoryStore) pickIndex(f Filter) []*Entry {
	best := m.global
	narrowed := false
	consider := func(idx []*Entry) {
		if !narrowed || len(idx) < len(best) {
			best = idx
			narrowed = true
		}
	}
	if f.Actor != "" {
		consider(m.byActor[address.Key(f.Actor)])
	}
	if f.TxID != "" {
		consider(m.byTx[strings.TrimSpace(f.TxID)])
	}
	if f.AgreementID != "" {
		consider(m.byAgreement[address.Key(f.AgreementID)])
	}
	return best
}

func matches(e *Entry, f Filter) bool {
	if f.Actor != "" && !address.Equal(e.Actor, f.Actor) {
		return false
	}
	if f.TxID != "" && e.TxID != strings.TrimSpace(f.TxID) {
		return false
	}
	if f.AgreementID != "" && !address.Equal(e.AgreementID, f.AgreementID) {
		return false
	}
	return hasTags(e.Tags, f.Tags)
}

func insertSorted(s []*Entry, e *Entry) []*Entry {
	i := sort.Search(len(s), func(i int) bool { return precedes(*s[i], *e) })
	return slices.Insert(s, i, e)
}

func copyEntry(e *Entry) Entry {
	out := *e
	out.Tags = slices.Clone(e.Tags)
	return out
}
