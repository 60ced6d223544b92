package document

import (
	"time"

	"tradeflow/ledger"
	"tradeflow/payload"
)

type Type string

const (
	TypeInvoice             Type = "invoice"
	TypeBillOfLading        Type = "bill_of_lading"
	TypeCertificateOfOrigin Type = "certificate_of_origin"
	TypePackingList         Type = "packing_list"
	TypeOther               Type = "other"
)

// ParseType returns the document type named by s, or TypeOther.
func ParseType(s string) Type {
	switch t := Type(s); t {
	case TypeInvoice, TypeBillOfLading, TypeCertificateOfOrigin, TypePackingList, TypeOther:
		return t
	default:
		return TypeOther
	}
}

type Status string

const (
	StatusDraft    Status = "draft"
	StatusReviewed Status = "reviewed"
	StatusSigned   Status = "signed"
	StatusRevoked  Status = "revoked"
)

// Document actions.
const (
	ActionMint   = "mint"
	ActionLink   = "link"
	ActionReview = "review"
	ActionSign   = "sign"
	ActionRevoke = "revoke"
)

// LogEntry is one immutable entry in a document's history.
type LogEntry struct {
	Seq          int64                `json:"seq"`
	TokenID      string               `json:"tokenId"`
	Action       string               `json:"action"`
	Actor        string               `json:"actor"`
	TxID         string               `json:"txId,omitempty"`
	Extra        payload.Extra        `json:"extra,omitempty"`
	Timestamp    int64                `json:"timestamp"`
	Confirmation *ledger.Confirmation `json:"confirmation,omitempty"`
}

// Document is a ledger-minted trade document linked to one or more agreements.
type Document struct {
	TokenID          string     `json:"tokenId"`
	Owner            string     `json:"owner"`
	Hash             string     `json:"hash"`
	URI              string     `json:"uri"`
	Type             Type       `json:"docType"`
	LinkedAgreements []string   `json:"linkedAgreements"`
	Signer           string     `json:"signer"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Logs             []LogEntry `json:"logs,omitempty"`
}

// MintParams describes a freshly minted document. Owner defaults to Actor.
type MintParams struct {
	TokenID          string
	Owner            string
	Hash             string
	URI              string
	Type             Type
	LinkedAgreements []string
	Signer           string
	Actor            string
	TxID             string
}
