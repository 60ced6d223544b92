package ledger

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"tradeflow/apperr"
)

type fakeClient struct {
	receipt    *Receipt
	receiptErr error
	height     uint64
	heightErr  error
	block      bool
}

func (f *fakeClient) Receipt(ctx context.Context, txID string) (*Receipt, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.receipt, f.receiptErr
}

func (f *fakeClient) Height(ctx context.Context) (uint64, error) {
	return f.height, f.heightErr
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestVerifyUnminedIsUnconfirmed(t *testing.T) {
	v := NewVerifier(&fakeClient{}, time.Second, quietLogger())

	res := v.Verify(context.Background(), "0xabc")
	if res.State != StateUnconfirmed {
		t.Fatalf("expected unconfirmed, got %s", res.State)
	}
	if res.Confirmation != nil || res.Err != nil {
		t.Fatalf("unexpected confirmation or error: %+v", res)
	}
}

func TestVerifyEmptyTxID(t *testing.T) {
	v := NewVerifier(&fakeClient{}, time.Second, quietLogger())
	if res := v.Verify(context.Background(), ""); res.State != StateUnconfirmed {
		t.Fatalf("expected unconfirmed for empty tx id, got %s", res.State)
	}
}

func TestVerifyConfirmed(t *testing.T) {
	cases := []struct {
		name    string
		receipt Receipt
		height  uint64
		status  ConfirmationStatus
		confs   uint64
	}{
		{"success", Receipt{BlockNumber: 100, Success: true}, 104, StatusSuccess, 5},
		{"failed", Receipt{BlockNumber: 100}, 100, StatusFailed, 1},
		{"height behind block", Receipt{BlockNumber: 100, Success: true}, 90, StatusSuccess, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := tc.receipt
			v := NewVerifier(&fakeClient{receipt: &r, height: tc.height}, time.Second, quietLogger())

			res := v.Verify(context.Background(), "0xabc")
			if res.State != StateConfirmed || res.Confirmation == nil {
				t.Fatalf("expected confirmed, got %+v", res)
			}
			if res.Confirmation.Status != tc.status {
				t.Errorf("status = %s, want %s", res.Confirmation.Status, tc.status)
			}
			if res.Confirmation.Confirmations != tc.confs {
				t.Errorf("confirmations = %d, want %d", res.Confirmation.Confirmations, tc.confs)
			}
			if res.Confirmation.BlockNumber != 100 {
				t.Errorf("block number = %d", res.Confirmation.BlockNumber)
			}
		})
	}
}

func TestVerifyLedgerErrorIsUnavailable(t *testing.T) {
	v := NewVerifier(&fakeClient{receiptErr: errors.New("connection refused")}, time.Second, quietLogger())

	res := v.Verify(context.Background(), "0xabc")
	if res.State != StateUnavailable {
		t.Fatalf("expected unavailable, got %s", res.State)
	}
	if !errors.Is(res.Err, apperr.ErrVerificationUnavailable) {
		t.Fatalf("expected verification unavailable error, got %v", res.Err)
	}
}

func TestVerifyHeightErrorIsUnavailable(t *testing.T) {
	client := &fakeClient{receipt: &Receipt{BlockNumber: 7, Success: true}, heightErr: errors.New("boom")}
	v := NewVerifier(client, time.Second, quietLogger())

	if res := v.Verify(context.Background(), "0xabc"); res.State != StateUnavailable {
		t.Fatalf("expected unavailable, got %s", res.State)
	}
}

func TestVerifyTimeoutDegradesToUnconfirmed(t *testing.T) {
	v := NewVerifier(&fakeClient{block: true}, 20*time.Millisecond, quietLogger())

	res := v.Verify(context.Background(), "0xabc")
	if res.State != StateUnconfirmed {
		t.Fatalf("expected unconfirmed after timeout, got %s (%v)", res.State, res.Err)
	}
}

func TestVerifyWithoutClient(t *testing.T) {
	v := NewVerifier(nil, 0, quietLogger())

	res := v.Verify(context.Background(), "0xabc")
	if res.State != StateUnavailable {
		t.Fatalf("expected unavailable without a client, got %s", res.State)
	}
}
