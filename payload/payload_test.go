package payload

import (
	"encoding/json"
	"testing"
)

func TestDeployRoundTripKeepsVariant(t *testing.T) {
	in := Deploy{Primary: "0x1", Counterparty: "0x2", Logistics: "0x3", RequiredAmount: "1500"}
	b, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	out, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, ok := out.(Deploy)
	if !ok {
		t.Fatalf("expected Deploy variant, got %T", out)
	}
	if got != in {
		t.Fatalf("expected %+v got %+v", in, got)
	}
}

func TestForActionFallsBackToGeneric(t *testing.T) {
	extra, err := ForAction("rebalanceEscrow", json.RawMessage(`{"ratio":0.5}`))
	if err != nil {
		t.Fatalf("for action: %v", err)
	}
	g, ok := extra.(Generic)
	if !ok {
		t.Fatalf("expected Generic, got %T", extra)
	}
	if g["ratio"] != 0.5 {
		t.Fatalf("unexpected generic payload %+v", g)
	}
}

func TestForActionShippingPhases(t *testing.T) {
	for _, action := range []string{"startShipping", "markInTransit", "confirmArrival", "customsClearance", "confirmDelivery"} {
		extra, err := ForAction(action, json.RawMessage(`{"location":"Rotterdam"}`))
		if err != nil {
			t.Fatalf("%s: %v", action, err)
		}
		s, ok := extra.(Shipping)
		if !ok || s.Location != "Rotterdam" {
			t.Fatalf("%s: expected shipping payload, got %#v", action, extra)
		}
	}
}

func TestNilAndNullDecodeToNil(t *testing.T) {
	b, err := Marshal(nil)
	if err != nil || b != nil {
		t.Fatalf("expected nil bytes, got %q err=%v", b, err)
	}
	for _, in := range [][]byte{nil, []byte("null")} {
		extra, err := Unmarshal(in)
		if err != nil || extra != nil {
			t.Fatalf("expected nil extra for %q, got %#v err=%v", in, extra, err)
		}
	}
	if _, err := ForAction("deploy", json.RawMessage(`[1,2]`)); err == nil {
		t.Fatalf("expected decode error for malformed deploy payload")
	}
}
