package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperledger/firefly-signer/pkg/abi"

	"tradeflow/address"
	"tradeflow/stage"
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcHandler struct {
	receipt  any
	height   string
	calls    map[string]string
	failWith *rpcError
}

// selector is the calldata of a no-argument getter.
func selector(fn *abi.Entry) string {
	return fn.FunctionSelectorBytes().String()
}

func (h *rpcHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch {
	case h.failWith != nil:
		resp["error"] = h.failWith
	case req.Method == "eth_getTransactionReceipt":
		resp["result"] = h.receipt
	case req.Method == "eth_blockNumber":
		resp["result"] = h.height
	case req.Method == "eth_call":
		var call struct {
			Data string `json:"data"`
		}
		_ = json.Unmarshal(req.Params[0], &call)
		resp["result"] = h.calls[strings.ToLower(call.Data)]
	default:
		resp["error"] = rpcError{Code: -32601, Message: "method not found"}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func word(hexTail string) string {
	return "0x" + strings.Repeat("0", 64-len(hexTail)) + hexTail
}

func TestRPCReceiptAndHeight(t *testing.T) {
	h := &rpcHandler{
		receipt: map[string]string{"blockNumber": "0x64", "status": "0x1"},
		height:  "0x6a",
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := NewRPCClient(srv.URL, srv.Client())
	r, err := c.Receipt(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if r == nil || r.BlockNumber != 100 || !r.Success {
		t.Fatalf("unexpected receipt %+v", r)
	}

	height, err := c.Height(context.Background())
	if err != nil {
		t.Fatalf("height: %v", err)
	}
	if height != 106 {
		t.Fatalf("height = %d, want 106", height)
	}

	v := NewVerifier(c, 0, quietLogger())
	res := v.Verify(context.Background(), "0xabc")
	if res.State != StateConfirmed || res.Confirmation.Confirmations != 7 {
		t.Fatalf("unexpected verification %+v", res)
	}
}

func TestRPCReceiptPending(t *testing.T) {
	srv := httptest.NewServer(&rpcHandler{receipt: nil})
	defer srv.Close()

	r, err := NewRPCClient(srv.URL, nil).Receipt(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if r != nil {
		t.Fatalf("expected nil receipt while pending, got %+v", r)
	}
}

func TestRPCError(t *testing.T) {
	srv := httptest.NewServer(&rpcHandler{failWith: &rpcError{Code: -32000, Message: "header not found"}})
	defer srv.Close()

	_, err := NewRPCClient(srv.URL, nil).Height(context.Background())
	if err == nil || !strings.Contains(err.Error(), "header not found") {
		t.Fatalf("expected rpc error, got %v", err)
	}
}

func TestRPCDeployment(t *testing.T) {
	primary := "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	counterparty := "fb6916095ca1df60bb79ce92ce3ea74c37c5d359"
	h := &rpcHandler{calls: map[string]string{
		selector(getterPrimary):      word(primary),
		selector(getterCounterparty): word(counterparty),
		selector(getterLogistics):    word(""),
	}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	parties, err := NewRPCClient(srv.URL, nil).Deployment(context.Background(), "0x00000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("deployment: %v", err)
	}
	if parties.Primary != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Errorf("primary = %s", parties.Primary)
	}
	if !address.Equal(parties.Counterparty, "0x"+counterparty) {
		t.Errorf("counterparty = %s", parties.Counterparty)
	}
	if parties.Logistics != "" {
		t.Errorf("zero address must read as an unset role, got %s", parties.Logistics)
	}
}

func TestGetterSelectors(t *testing.T) {
	transfer := &abi.Entry{
		Type:   abi.Function,
		Name:   "transfer",
		Inputs: abi.ParameterArray{{Type: "address"}, {Type: "uint256"}},
	}
	if got := selector(transfer); got != "0xa9059cbb" {
		t.Fatalf("transfer selector = %s", got)
	}
	if got := getterStage.String(); got != "stage()" {
		t.Fatalf("stage signature = %s", got)
	}
}

func TestRPCDeploymentMissingContract(t *testing.T) {
	h := &rpcHandler{calls: map[string]string{selector(getterPrimary): "0x"}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	_, err := NewRPCClient(srv.URL, nil).Deployment(context.Background(), "0x00000000000000000000000000000000000000aa")
	if !errors.Is(err, ErrNotDeployed) {
		t.Fatalf("expected ErrNotDeployed, got %v", err)
	}
}

func TestRPCStage(t *testing.T) {
	h := &rpcHandler{
		height: "0x10",
		calls: map[string]string{
			selector(getterStage):              word("5"),
			selector(getterPrimarySigned):      word("1"),
			selector(getterCounterpartySigned): word("1"),
		},
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	snap, err := NewRPCClient(srv.URL, nil).Stage(context.Background(), "0x00000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if snap.Ordinal != stage.ShippingInitiated {
		t.Errorf("ordinal = %s", snap.Ordinal)
	}
	if !snap.Signatures.Primary || !snap.Signatures.Counterparty {
		t.Errorf("signatures = %+v", snap.Signatures)
	}
	if snap.Height != 16 {
		t.Errorf("height = %d", snap.Height)
	}
}

func TestRPCStageOutOfRange(t *testing.T) {
	h := &rpcHandler{
		height: "0x1",
		calls: map[string]string{
			selector(getterStage):              word("ff"),
			selector(getterPrimarySigned):      word("0"),
			selector(getterCounterpartySigned): word("0"),
		},
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	snap, err := NewRPCClient(srv.URL, nil).Stage(context.Background(), "0x00000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if snap.Ordinal != stage.Unknown {
		t.Fatalf("expected unknown ordinal, got %d", snap.Ordinal)
	}
}
