package ledger

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/rpcbackend"

	"tradeflow/stage"
)

func getter(name, outputType string) *abi.Entry {
	return &abi.Entry{
		Type:    abi.Function,
		Name:    name,
		Inputs:  abi.ParameterArray{},
		Outputs: abi.ParameterArray{{Name: name, Type: outputType}},
	}
}

// Contract getters read by the RPC client.
var (
	getterPrimary            = getter("primary", "address")
	getterCounterparty       = getter("counterparty", "address")
	getterLogistics          = getter("logistics", "address")
	getterStage              = getter("stage", "uint8")
	getterPrimarySigned      = getter("primarySigned", "bool")
	getterCounterpartySigned = getter("counterpartySigned", "bool")
)

// RPCClient implements Client, DeploymentReader and StageReader over a
// JSON-RPC 2.0 HTTP endpoint.
type RPCClient struct {
	backend rpcbackend.Backend
}

func NewRPCClient(url string, httpClient *http.Client) *RPCClient {
	var rc *resty.Client
	if httpClient == nil {
		rc = resty.New().SetTimeout(10 * time.Second)
	} else {
		rc = resty.NewWithClient(httpClient)
	}
	rc.SetBaseURL(url).SetHeader("content-type", "application/json")
	return &RPCClient{backend: rpcbackend.NewRPCClient(rc)}
}

func (c *RPCClient) call(ctx context.Context, out any, method string, params ...any) error {
	if rpcErr := c.backend.CallRPC(ctx, out, method, params...); rpcErr != nil {
		return fmt.Errorf("ledger: %s: rpc error %d: %s", method, rpcErr.Code, rpcErr.Message)
	}
	return nil
}

type rpcReceipt struct {
	BlockNumber *ethtypes.HexUint64 `json:"blockNumber"`
	Status      *ethtypes.HexUint64 `json:"status"`
}

// Receipt implements Client.
func (c *RPCClient) Receipt(ctx context.Context, txID string) (*Receipt, error) {
	var raw *rpcReceipt
	if err := c.call(ctx, &raw, "eth_getTransactionReceipt", txID); err != nil {
		return nil, err
	}
	if raw == nil || raw.BlockNumber == nil {
		return nil, nil
	}
	return &Receipt{
		TxID:        txID,
		BlockNumber: raw.BlockNumber.Uint64(),
		Success:     raw.Status != nil && raw.Status.Uint64() == 1,
	}, nil
}

// Height implements Client.
func (c *RPCClient) Height(ctx context.Context) (uint64, error) {
	var h ethtypes.HexUint64
	if err := c.call(ctx, &h, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return h.Uint64(), nil
}

// Deployment implements DeploymentReader.
func (c *RPCClient) Deployment(ctx context.Context, contract string) (Parties, error) {
	var parties [3]string
	for i, fn := range []*abi.Entry{getterPrimary, getterCounterparty, getterLogistics} {
		v, err := c.read(ctx, contract, fn)
		if err != nil {
			return Parties{}, err
		}
		if parties[i], err = toAddress(fn, v); err != nil {
			return Parties{}, err
		}
	}
	if parties[0] == "" {
		return Parties{}, ErrNotDeployed
	}
	return Parties{Primary: parties[0], Counterparty: parties[1], Logistics: parties[2]}, nil
}

// Stage implements StageReader.
func (c *RPCClient) Stage(ctx context.Context, contract string) (Snapshot, error) {
	raw, err := c.read(ctx, contract, getterStage)
	if err != nil {
		return Snapshot{}, err
	}
	n, err := toInt(getterStage, raw)
	if err != nil {
		return Snapshot{}, err
	}
	ordinal := stage.Unknown
	if n.IsInt64() && n.Int64() <= int64(stage.Cancelled) {
		ordinal = stage.Ordinal(n.Int64())
	}

	var signed [2]bool
	for i, fn := range []*abi.Entry{getterPrimarySigned, getterCounterpartySigned} {
		v, err := c.read(ctx, contract, fn)
		if err != nil {
			return Snapshot{}, err
		}
		if signed[i], err = toBool(fn, v); err != nil {
			return Snapshot{}, err
		}
	}
	height, err := c.Height(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Ordinal:    ordinal,
		Signatures: stage.Signatures{Primary: signed[0], Counterparty: signed[1]},
		Height:     height,
	}, nil
}

type callRequest struct {
	To   *ethtypes.Address0xHex     `json:"to"`
	Data ethtypes.HexBytes0xPrefix `json:"data"`
}

// read performs eth_call for a no-argument getter and returns its single
// decoded output value.
func (c *RPCClient) read(ctx context.Context, contract string, fn *abi.Entry) (any, error) {
	to, err := ethtypes.NewAddress(contract)
	if err != nil {
		return nil, fmt.Errorf("ledger: contract address %q: %w", contract, err)
	}
	data, err := fn.EncodeCallDataValues([]any{})
	if err != nil {
		return nil, fmt.Errorf("ledger: encode %s: %w", fn.Name, err)
	}

	var out ethtypes.HexBytes0xPrefix
	if err := c.call(ctx, &out, "eth_call", &callRequest{To: to, Data: data}, "latest"); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotDeployed
	}
	cv, err := fn.Outputs.DecodeABIData(out, 0)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode %s: %w", fn.Name, err)
	}
	if len(cv.Children) != 1 {
		return nil, fmt.Errorf("ledger: %s returned %d values", fn.Name, len(cv.Children))
	}
	return cv.Children[0].Value, nil
}

func toInt(fn *abi.Entry, v any) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("ledger: %s: unexpected value %T", fn.Name, v)
	}
	return n, nil
}

func toBool(fn *abi.Entry, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case *big.Int:
		return b.Sign() != 0, nil
	default:
		return false, fmt.Errorf("ledger: %s: unexpected value %T", fn.Name, v)
	}
}

// toAddress renders a decoded address in checksum form. The zero address
// means the role is unset.
func toAddress(fn *abi.Entry, v any) (string, error) {
	n, err := toInt(fn, v)
	if err != nil {
		return "", err
	}
	if n.Sign() == 0 {
		return "", nil
	}
	var a ethtypes.AddressWithChecksum
	n.FillBytes(a[:])
	return a.String(), nil
}
