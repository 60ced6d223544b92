package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"tradeflow/apperr"
)

// ConfirmationStatus is the mined outcome of a transaction.
type ConfirmationStatus string

const (
	StatusSuccess ConfirmationStatus = "success"
	StatusFailed  ConfirmationStatus = "failed"
)

// Confirmation is the attestation attached to events and activity entries.
type Confirmation struct {
	Status        ConfirmationStatus `json:"status"`
	BlockNumber   uint64             `json:"blockNumber"`
	Confirmations uint64             `json:"confirmations"`
}

// State classifies a verification attempt.
type State string

const (
	StateConfirmed   State = "confirmed"
	StateUnconfirmed State = "unconfirmed"
	StateUnavailable State = "unavailable"
)

// Verification is the verifier's answer. Confirmation is set only when State
// is StateConfirmed; Err is set only when State is StateUnavailable.
type Verification struct {
	TxID         string
	State        State
	Confirmation *Confirmation
	Err          error
}

// DefaultTimeout bounds a single verification when none is configured.
const DefaultTimeout = 5 * time.Second

// Verifier attests transaction finality. It never fails the enclosing write:
// ledger errors come back as StateUnavailable and timeouts as StateUnconfirmed.
type Verifier struct {
	client  Client
	timeout time.Duration
	logger  *log.Logger
}

func NewVerifier(client Client, timeout time.Duration, logger *log.Logger) *Verifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Verifier{client: client, timeout: timeout, logger: logger}
}

// Verify looks up the receipt for txID and computes its confirmation count.
func (v *Verifier) Verify(ctx context.Context, txID string) Verification {
	res := Verification{TxID: txID, State: StateUnconfirmed}
	if txID == "" {
		return res
	}
	if v == nil || v.client == nil {
		res.State = StateUnavailable
		res.Err = apperr.New(apperr.KindVerificationUnavailable, "no ledger client configured")
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	receipt, err := v.client.Receipt(callCtx, txID)
	if err != nil {
		return v.degrade(ctx, res, err, "receipt")
	}
	if receipt == nil {
		return res
	}

	height, err := v.client.Height(callCtx)
	if err != nil {
		return v.degrade(ctx, res, err, "height")
	}

	conf := &Confirmation{
		Status:        StatusFailed,
		BlockNumber:   receipt.BlockNumber,
		Confirmations: 1,
	}
	if receipt.Success {
		conf.Status = StatusSuccess
	}
	if height >= receipt.BlockNumber {
		conf.Confirmations = height - receipt.BlockNumber + 1
	}

	res.State = StateConfirmed
	res.Confirmation = conf
	return res
}

func (v *Verifier) degrade(parent context.Context, res Verification, err error, step string) Verification {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		v.logger.Printf("ledger: verify %s: %s timed out after %s", res.TxID, step, v.timeout)
		return res
	}
	v.logger.Printf("ledger: verify %s: %s: %v", res.TxID, step, err)
	res.State = StateUnavailable
	res.Err = apperr.Wrap(apperr.KindVerificationUnavailable, err, "%s lookup failed", step)
	return res
}
