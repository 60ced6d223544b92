package notification

import (
	"time"

	"tradeflow/payload"
)

type Type string

const (
	TypeContract Type = "contract"
	TypeDocument Type = "document"
	TypePayment  Type = "payment"
	TypeShipping Type = "shipping"
	TypeSystem   Type = "system"
)

// SystemExecutor is recorded when a notification has no acting account.
const SystemExecutor = "system"

// ParseType returns the known type named by s, or TypeSystem.
func ParseType(s string) Type {
	switch t := Type(s); t {
	case TypeContract, TypeDocument, TypePayment, TypeShipping, TypeSystem:
		return t
	default:
		return TypeSystem
	}
}

// Notification is one inbox item. Read is the only field that changes after creation.
type Notification struct {
	ID        string        `json:"id"`
	Recipient string        `json:"recipient"`
	Executor  string        `json:"executor"`
	Type      Type          `json:"type"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	TxID      string        `json:"txId,omitempty"`
	Read      bool          `json:"read"`
	Extra     payload.Extra `json:"extra,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Message is what a fan-out sends to every recipient.
type Message struct {
	Type    Type
	Title   string
	Message string
	TxID    string
	Extra   payload.Extra
}
