// Package stage maps the ledger's raw stage ordinal to a structured status.
//
// Derive is a pure function: the same ordinal and signature flags always give
// the same Status. Signature flags are read from the ledger (or the mirror's
// sign events); they are not implied by the ordinal.
package stage

// Ordinal is the ledger-reported stage position.
type Ordinal int

const (
	Deployed Ordinal = iota
	SignedByPrimary
	SignedByCounterparty
	FullySigned
	Deposited
	ShippingInitiated
	InTransit
	ArrivedAtPort
	CustomsCleared
	Delivered
	Completed
	Cancelled
)

// Unknown marks an agreement whose ordinal could not be determined.
const Unknown Ordinal = -1

// Ledger action names.
const (
	ActionDeploy           = "deploy"
	ActionSign             = "sign"
	ActionDeposit          = "deposit"
	ActionStartShipping    = "startShipping"
	ActionMarkInTransit    = "markInTransit"
	ActionConfirmArrival   = "confirmArrival"
	ActionCustomsClearance = "customsClearance"
	ActionConfirmDelivery  = "confirmDelivery"
	ActionComplete         = "complete"
	ActionCancel           = "cancel"
)

var names = [...]string{
	"deployed",
	"signed_by_primary",
	"signed_by_counterparty",
	"fully_signed",
	"deposited",
	"shipping_initiated",
	"in_transit",
	"arrived_at_port",
	"customs_cleared",
	"delivered",
	"completed",
	"cancelled",
}

// Valid reports whether o is within 0–11.
func (o Ordinal) Valid() bool { return o >= Deployed && o <= Cancelled }

func (o Ordinal) String() string {
	if !o.Valid() {
		return "unknown"
	}
	return names[o]
}

// Signatures are the per-party signing flags read from the ledger.
type Signatures struct {
	Primary      bool
	Counterparty bool
}

// Shipping holds the five ordered shipping sub-phases.
type Shipping struct {
	Initiated      bool
	InTransit      bool
	ArrivedAtPort  bool
	CustomsCleared bool
	Delivered      bool
}

// Status is the derived view of an agreement's progress.
type Status struct {
	Ordinal              Ordinal
	Known                bool
	Deployed             bool
	SignedByPrimary      bool
	SignedByCounterparty bool
	Deposited            bool
	Shipping             Shipping
	Completed            bool
	Cancelled            bool
}

// Derive computes the status for ordinal o. Every flag is a fixed threshold
// on the ordinal, so Cancelled (11) also reads as deposited and fully shipped.
// Ordinals outside 0-11 yield a status with every flag false and Known unset.
func Derive(o Ordinal, sig Signatures) Status {
	if !o.Valid() {
		return Status{Ordinal: o}
	}

	st := Status{
		Ordinal:              o,
		Known:                true,
		Deployed:             true,
		SignedByPrimary:      sig.Primary,
		SignedByCounterparty: sig.Counterparty,
	}
	st.Deposited = o >= Deposited
	st.Shipping = Shipping{
		Initiated:      o >= ShippingInitiated,
		InTransit:      o >= InTransit,
		ArrivedAtPort:  o >= ArrivedAtPort,
		CustomsCleared: o >= CustomsCleared,
		Delivered:      o >= Delivered,
	}
	st.Completed = o == Completed
	st.Cancelled = o == Cancelled
	return st
}

// OrdinalFor returns the ordinal a ledger action moves an agreement to. Sign
// is not listed because its ordinal depends on who has signed; see SignedOrdinal.
func OrdinalFor(action string) (Ordinal, bool) {
	switch action {
	case ActionDeploy:
		return Deployed, true
	case ActionDeposit:
		return Deposited, true
	case ActionStartShipping:
		return ShippingInitiated, true
	case ActionMarkInTransit:
		return InTransit, true
	case ActionConfirmArrival:
		return ArrivedAtPort, true
	case ActionCustomsClearance:
		return CustomsCleared, true
	case ActionConfirmDelivery:
		return Delivered, true
	case ActionComplete:
		return Completed, true
	case ActionCancel:
		return Cancelled, true
	default:
		return Unknown, false
	}
}

// SignedOrdinal is the pre-deposit ordinal implied by the signature flags.
func SignedOrdinal(sig Signatures) Ordinal {
	switch {
	case sig.Primary && sig.Counterparty:
		return FullySigned
	case sig.Counterparty:
		return SignedByCounterparty
	case sig.Primary:
		return SignedByPrimary
	default:
		return Deployed
	}
}

// IsLedgerAction reports whether action belongs to the agreement vocabulary.
func IsLedgerAction(action string) bool {
	if action == ActionSign {
		return true
	}
	_, ok := OrdinalFor(action)
	return ok
}

// Advance returns the mirror ordinal after applying action. The mirror never
// moves backwards: a delayed event for an earlier stage leaves the ordinal
// where it is. Terminal ordinals are sticky, except that cancel always wins
// over a non-terminal stage.
func Advance(current Ordinal, action string, sig Signatures) Ordinal {
	if current == Completed || current == Cancelled {
		return current
	}
	var next Ordinal
	switch action {
	case ActionSign:
		next = SignedOrdinal(sig)
	case ActionCancel:
		return Cancelled
	default:
		o, ok := OrdinalFor(action)
		if !ok {
			return current
		}
		next = o
	}
	if next > current {
		return next
	}
	return current
}
