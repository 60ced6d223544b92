package agreement

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"tradeflow/payload"
	"tradeflow/stage"
)

type eventKey struct {
	agreementID string
	action      string
	txID        string
}

// MemoryRepository is the in-process mirror used when storage.driver is memory.
type MemoryRepository struct {
	mu         sync.Mutex
	seq        int64
	agreements map[string]*Agreement
	deploys    map[string]payload.Deploy
	byTx       map[eventKey]StageEvent
	outbox     []OutboxMessage
	now        func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		agreements: make(map[string]*Agreement),
		deploys:    make(map[string]payload.Deploy),
		byTx:       make(map[eventKey]StageEvent),
		now:        time.Now,
	}
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[id]
	if !ok {
		return Agreement{}, ErrAgreementNotFound
	}
	out := *a
	out.Events = slices.Clone(a.Events)
	return out, nil
}

func (m *MemoryRepository) Deployment(ctx context.Context, id string) (payload.Deploy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deploys[id]
	if !ok {
		return payload.Deploy{}, ErrAgreementNotFound
	}
	return d, nil
}

func (m *MemoryRepository) FindEvent(ctx context.Context, id, action, txID string) (StageEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.byTx[eventKey{id, action, txID}]
	if !ok {
		return StageEvent{}, ErrEventNotFound
	}
	return ev, nil
}

func (m *MemoryRepository) Append(ctx context.Context, params AppendParams) (StageEvent, error) {
	if err := ctx.Err(); err != nil {
		return StageEvent{}, err
	}
	ev := params.Event

	m.mu.Lock()
	defer m.mu.Unlock()

	key := eventKey{ev.AgreementID, ev.Action, ev.TxID}
	if ev.TxID != "" {
		if _, dup := m.byTx[key]; dup {
			return StageEvent{}, ErrDuplicateEvent
		}
	}

	now := m.now().UTC()
	a, ok := m.agreements[ev.AgreementID]
	switch {
	case params.Deploy != nil && ok:
		return StageEvent{}, ErrAlreadyDeployed
	case params.Deploy != nil:
		d := *params.Deploy
		a = &Agreement{
			ID: ev.AgreementID,
			Roles: Roles{
				Primary:      d.Primary,
				Counterparty: d.Counterparty,
				Logistics:    d.Logistics,
				Insurance:    d.Insurance,
				Inspector:    d.Inspector,
			},
			RequiredAmount: d.RequiredAmount,
			Stage:          stage.Deployed,
			DeployTxID:     ev.TxID,
			CreatedAt:      now,
		}
		m.agreements[ev.AgreementID] = a
		m.deploys[ev.AgreementID] = d
	case !ok:
		return StageEvent{}, ErrAgreementNotFound
	}

	a.Signatures.Primary = a.Signatures.Primary || params.SignPrimary
	a.Signatures.Counterparty = a.Signatures.Counterparty || params.SignCounterparty
	a.Stage = stage.Advance(a.Stage, ev.Action, a.Signatures)
	a.UpdatedAt = now

	m.seq++
	ev.Seq = m.seq
	a.Events = append(a.Events, ev)
	if ev.TxID != "" {
		m.byTx[key] = ev
	}
	body, err := outboxPayload(ev, a.Stage)
	if err != nil {
		return StageEvent{}, err
	}
	m.outbox = append(m.outbox, OutboxMessage{
		ID:        fmt.Sprintf("%s:%d", ev.AgreementID, ev.Seq),
		Topic:     OutboxTopicStageRecorded,
		Payload:   body,
		Status:    OutboxPending,
		CreatedAt: now,
	})
	return ev, nil
}

// Outbox returns the messages enqueued so far.
func (m *MemoryRepository) Outbox() []OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.outbox)
}

// DrainOutbox hands pending messages to handle outside the lock, then
// settles each one.
func (m *MemoryRepository) DrainOutbox(ctx context.Context, limit, maxAttempts int, handle OutboxHandler) (int, error) {
	m.mu.Lock()
	var batch []OutboxMessage
	for _, msg := range m.outbox {
		if len(batch) == limit {
			break
		}
		if msg.Status == OutboxPending {
			batch = append(batch, msg)
		}
	}
	m.mu.Unlock()

	for _, msg := range batch {
		delivered := handle(ctx, msg) == nil
		m.mu.Lock()
		for i := range m.outbox {
			if m.outbox[i].ID == msg.ID {
				m.outbox[i].Status, m.outbox[i].Attempts = settle(m.outbox[i].Attempts, delivered, maxAttempts)
			}
		}
		m.mu.Unlock()
	}
	return len(batch), nil
}
