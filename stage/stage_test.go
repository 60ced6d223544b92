package stage

import (
	"testing"
	"testing/quick"
)

func TestDeriveIsPure(t *testing.T) {
	f := func(raw uint8, primary, counterparty bool) bool {
		o := Ordinal(raw % 12)
		sig := Signatures{Primary: primary, Counterparty: counterparty}
		return Derive(o, sig) == Derive(o, sig)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatalf("derive not pure: %v", err)
	}
}

func TestDeriveOutOfRangeIsAllFalse(t *testing.T) {
	f := func(raw int16) bool {
		o := Ordinal(raw)
		if o.Valid() {
			o = Ordinal(int(raw)%1000 + 12)
		}
		st := Derive(o, Signatures{Primary: true, Counterparty: true})
		return st == Status{Ordinal: o}
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatalf("out of range ordinal leaked flags: %v", err)
	}

	for _, o := range []Ordinal{-1, 12, 99} {
		st := Derive(o, Signatures{})
		if st.Known || st.Deployed || st.Cancelled || st.Completed {
			t.Fatalf("ordinal %d: expected unknown status, got %+v", o, st)
		}
		if o.String() != "unknown" {
			t.Fatalf("ordinal %d: expected unknown name, got %s", o, o.String())
		}
	}
}

func TestDeriveThresholds(t *testing.T) {
	cases := []struct {
		ordinal   Ordinal
		deposited bool
		shipping  Shipping
		completed bool
		cancelled bool
	}{
		{Deployed, false, Shipping{}, false, false},
		{FullySigned, false, Shipping{}, false, false},
		{Deposited, true, Shipping{}, false, false},
		{ShippingInitiated, true, Shipping{Initiated: true}, false, false},
		{InTransit, true, Shipping{Initiated: true, InTransit: true}, false, false},
		{ArrivedAtPort, true, Shipping{Initiated: true, InTransit: true, ArrivedAtPort: true}, false, false},
		{CustomsCleared, true, Shipping{true, true, true, true, false}, false, false},
		{Delivered, true, Shipping{true, true, true, true, true}, false, false},
		{Completed, true, Shipping{true, true, true, true, true}, true, false},
		{Cancelled, true, Shipping{true, true, true, true, true}, false, true},
	}
	for _, tc := range cases {
		st := Derive(tc.ordinal, Signatures{})
		if !st.Known || !st.Deployed {
			t.Fatalf("%s: expected known deployed status", tc.ordinal)
		}
		if st.Deposited != tc.deposited || st.Shipping != tc.shipping || st.Completed != tc.completed || st.Cancelled != tc.cancelled {
			t.Fatalf("%s: unexpected status %+v", tc.ordinal, st)
		}
	}
}

func TestDeriveCancelledKeepsThresholds(t *testing.T) {
	st := Derive(Cancelled, Signatures{})
	if !st.Deposited || st.Shipping != (Shipping{true, true, true, true, true}) {
		t.Fatalf("ordinal 11 is past the deposit and shipping thresholds, got %+v", st)
	}
	if st.Completed || !st.Cancelled {
		t.Fatalf("cancelled must not read as completed, got %+v", st)
	}
}

func TestDeriveSignaturesComeFromLedger(t *testing.T) {
	st := Derive(Deposited, Signatures{Primary: true})
	if !st.SignedByPrimary || st.SignedByCounterparty {
		t.Fatalf("signature flags must mirror input, got %+v", st)
	}
	st = Derive(Deployed, Signatures{Primary: true, Counterparty: true})
	if !st.SignedByPrimary || !st.SignedByCounterparty {
		t.Fatalf("signature flags must not depend on ordinal, got %+v", st)
	}
}

func TestAdvance(t *testing.T) {
	cases := []struct {
		name    string
		current Ordinal
		action  string
		sig     Signatures
		want    Ordinal
	}{
		{"primary signs", Deployed, ActionSign, Signatures{Primary: true}, SignedByPrimary},
		{"second signer", SignedByPrimary, ActionSign, Signatures{Primary: true, Counterparty: true}, FullySigned},
		{"deposit", FullySigned, ActionDeposit, Signatures{}, Deposited},
		{"delayed sign after deposit", Deposited, ActionSign, Signatures{Primary: true, Counterparty: true}, Deposited},
		{"delayed shipping event", CustomsCleared, ActionMarkInTransit, Signatures{}, CustomsCleared},
		{"cancel mid shipping", InTransit, ActionCancel, Signatures{}, Cancelled},
		{"completed is terminal", Completed, ActionCancel, Signatures{}, Completed},
		{"cancelled is terminal", Cancelled, ActionComplete, Signatures{}, Cancelled},
		{"unknown action", Deposited, "review", Signatures{}, Deposited},
	}
	for _, tc := range cases {
		if got := Advance(tc.current, tc.action, tc.sig); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestIsLedgerAction(t *testing.T) {
	for _, a := range []string{ActionDeploy, ActionSign, ActionDeposit, ActionConfirmDelivery, ActionCancel} {
		if !IsLedgerAction(a) {
			t.Errorf("expected %s to be a ledger action", a)
		}
	}
	if IsLedgerAction("review") {
		t.Errorf("document actions are not ledger stage actions")
	}
}
