// Package ledger talks to the external ledger: receipts, chain height,
// deployment parties and stage snapshots, plus the confirmation verifier
// built on top of them.
package ledger

import (
	"context"
	"errors"

	"tradeflow/stage"
)

// ErrNotDeployed is returned when the ledger has no contract at an address.
var ErrNotDeployed = errors.New("ledger: contract not deployed")

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxID        string
	BlockNumber uint64
	Success     bool
}

// Client is the minimal ledger surface the verifier needs. Receipt returns
// (nil, nil) while the transaction is not mined yet.
type Client interface {
	Receipt(ctx context.Context, txID string) (*Receipt, error)
	Height(ctx context.Context) (uint64, error)
}

// Parties are the role addresses fixed in a deployed agreement contract.
type Parties struct {
	Primary      string
	Counterparty string
	Logistics    string
}

// DeploymentReader reads the parties straight from a deployed contract.
type DeploymentReader interface {
	Deployment(ctx context.Context, contract string) (Parties, error)
}

// Snapshot is the authoritative stage state read from a contract.
type Snapshot struct {
	Ordinal    stage.Ordinal
	Signatures stage.Signatures
	Height     uint64
}

// StageReader reads the raw stage ordinal and signature flags.
type StageReader interface {
	Stage(ctx context.Context, contract string) (Snapshot, error)
}
