package agreement

import (
	"time"

	"tradeflow/ledger"
	"tradeflow/payload"
	"tradeflow/stage"
)

// Roles are the party addresses fixed at deployment. Absent roles are empty
// strings.
type Roles struct {
	Primary      string `json:"primary"`
	Counterparty string `json:"counterparty"`
	Logistics    string `json:"logistics"`
	Insurance    string `json:"insurance"`
	Inspector    string `json:"inspector"`
}

// Parties lists the non-empty roles in a fixed order.
func (r Roles) Parties() []string {
	out := make([]string, 0, 5)
	for _, a := range []string{r.Primary, r.Counterparty, r.Logistics, r.Insurance, r.Inspector} {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Agreement is the off-ledger mirror of one deployed contract.
type Agreement struct {
	ID             string           `json:"id"`
	Roles          Roles            `json:"roles"`
	RequiredAmount string           `json:"requiredAmount,omitempty"`
	Stage          stage.Ordinal    `json:"stage"`
	Signatures     stage.Signatures `json:"signatures"`
	DeployTxID     string           `json:"deployTxId,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	Events         []StageEvent     `json:"events,omitempty"`
}

// StageEvent is an immutable entry in an agreement's history.
type StageEvent struct {
	Seq          int64                `json:"seq"`
	AgreementID  string               `json:"agreementId"`
	Action       string               `json:"action"`
	Actor        string               `json:"actor"`
	TxID         string               `json:"txId,omitempty"`
	Extra        payload.Extra        `json:"extra,omitempty"`
	Timestamp    int64                `json:"timestamp"`
	Confirmation *ledger.Confirmation `json:"confirmation,omitempty"`
}

// RecordParams is the input of Service.RecordStageEvent. A zero Timestamp
// means now.
type RecordParams struct {
	AgreementID string
	Action      string
	Actor       string
	TxID        string
	Extra       payload.Extra
	Timestamp   int64
}

// AppendParams enumerates the writes a repository performs for one event.
// Deploy is set only for the deploy action; the Sign flags mark which party
// the event signs for.
type AppendParams struct {
	Event            StageEvent
	Deploy           *payload.Deploy
	SignPrimary      bool
	SignCounterparty bool
}

// OutboxMessage represents a transactional outbox entry.
type OutboxMessage struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

const (
	// OutboxTopicStageRecorded is published for every stored stage event.
	OutboxTopicStageRecorded = "agreement.stage_recorded"
)

// Outbox message states.
const (
	OutboxPending   = "pending"
	OutboxProcessed = "processed"
	OutboxDead      = "dead"
)

// StatusSource names who answered a status read.
type StatusSource string

const (
	SourceLedger StatusSource = "ledger"
	SourceMirror StatusSource = "mirror"
)

// StatusView is the derived status of an agreement plus its provenance.
type StatusView struct {
	AgreementID string       `json:"agreementId"`
	Source      StatusSource `json:"source"`
	Stage       string       `json:"stage"`
	Status      stage.Status `json:"status"`
	Height      uint64       `json:"height,omitempty"`
}
