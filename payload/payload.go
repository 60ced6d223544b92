// Package payload holds the typed extra data attached to stage events,
// document log entries and activity entries.
//
// Each known action family has its own variant; anything else travels as a
// Generic map so new ledger actions can still be logged before a typed variant
// exists.
package payload

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the Extra variants on the wire.
type Kind string

const (
	KindDeploy   Kind = "deploy"
	KindSign     Kind = "sign"
	KindDeposit  Kind = "deposit"
	KindShipping Kind = "shipping"
	KindCancel   Kind = "cancel"
	KindDocument Kind = "document"
	KindGeneric  Kind = "generic"
)

// Extra is implemented by every payload variant.
type Extra interface {
	Kind() Kind
}

// Deploy carries the party addresses fixed at deployment time.
type Deploy struct {
	Primary        string `json:"primary"`
	Counterparty   string `json:"counterparty"`
	Logistics      string `json:"logistics"`
	Insurance      string `json:"insurance,omitempty"`
	Inspector      string `json:"inspector,omitempty"`
	RequiredAmount string `json:"requiredAmount,omitempty"`
}

// Sign records which role signed.
type Sign struct {
	Role string `json:"role,omitempty"`
}

// Deposit records the escrowed amount.
type Deposit struct {
	Amount string `json:"amount"`
	Token  string `json:"token,omitempty"`
}

// Shipping describes one shipping sub-phase update.
type Shipping struct {
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Reference string `json:"reference,omitempty"`
	Note      string `json:"note,omitempty"`
}

// Cancel records why an agreement was cancelled.
type Cancel struct {
	Reason string `json:"reason,omitempty"`
}

// Document mirrors a document lifecycle change.
type Document struct {
	TokenID string `json:"tokenId"`
	DocType string `json:"docType,omitempty"`
	Hash    string `json:"hash,omitempty"`
	URI     string `json:"uri,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
}

// Generic is the catch-all variant.
type Generic map[string]any

func (Deploy) Kind() Kind   { return KindDeploy }
func (Sign) Kind() Kind     { return KindSign }
func (Deposit) Kind() Kind  { return KindDeposit }
func (Shipping) Kind() Kind { return KindShipping }
func (Cancel) Kind() Kind   { return KindCancel }
func (Document) Kind() Kind { return KindDocument }
func (Generic) Kind() Kind  { return KindGeneric }

type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Marshal encodes e with its kind discriminator. A nil Extra encodes to nil.
func Marshal(e Extra) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("payload: marshal %s: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{Kind: e.Kind(), Data: data})
}

// Unmarshal decodes bytes produced by Marshal. Empty input and JSON null
// decode to a nil Extra; unknown kinds decode as Generic.
func Unmarshal(b []byte) (Extra, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("payload: decode envelope: %w", err)
	}
	return decode(env.Kind, env.Data)
}

// ForAction builds the variant that belongs to a ledger action from raw JSON
// supplied by a caller. Unknown actions produce a Generic payload.
func ForAction(action string, raw json.RawMessage) (Extra, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return decode(KindForAction(action), raw)
}

// KindForAction maps an action name to its payload kind.
func KindForAction(action string) Kind {
	switch action {
	case "deploy":
		return KindDeploy
	case "sign":
		return KindSign
	case "deposit":
		return KindDeposit
	case "startShipping", "markInTransit", "confirmArrival", "customsClearance", "confirmDelivery":
		return KindShipping
	case "cancel":
		return KindCancel
	case "mint", "link", "review", "signDocument", "revoke":
		return KindDocument
	default:
		return KindGeneric
	}
}

func decode(kind Kind, data json.RawMessage) (Extra, error) {
	var (
		out Extra
		err error
	)
	switch kind {
	case KindDeploy:
		var v Deploy
		err = json.Unmarshal(data, &v)
		out = v
	case KindSign:
		var v Sign
		err = json.Unmarshal(data, &v)
		out = v
	case KindDeposit:
		var v Deposit
		err = json.Unmarshal(data, &v)
		out = v
	case KindShipping:
		var v Shipping
		err = json.Unmarshal(data, &v)
		out = v
	case KindCancel:
		var v Cancel
		err = json.Unmarshal(data, &v)
		out = v
	case KindDocument:
		var v Document
		err = json.Unmarshal(data, &v)
		out = v
	default:
		var v Generic
		err = json.Unmarshal(data, &v)
		out = v
	}
	if err != nil {
		return nil, fmt.Errorf("payload: decode %s: %w", kind, err)
	}
	return out, nil
}
