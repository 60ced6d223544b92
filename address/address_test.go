package address

import "testing"

func TestChecksumEIP55Vectors(t *testing.T) {
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, want := range vectors {
		if got := Checksum(Key(want)); got != want {
			t.Errorf("checksum(%s): got %s", want, got)
		}
	}
}

func TestChecksumShortAndNonHex(t *testing.T) {
	cases := map[string]string{
		"0xAbC":    "0xabc",
		" 0X1 ":    "0x1",
		"system":   "system",
		"":         "",
		"0xZZ":     "0xzz",
		"Treasury": "treasury",
	}
	for in, want := range cases {
		if got := Checksum(in); got != want {
			t.Errorf("Checksum(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValid(t *testing.T) {
	valid := []string{"0xAA", "0x1", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"}
	for _, s := range valid {
		if !Valid(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	invalid := []string{"", "0x", "AA", "0xGG", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed00"}
	for _, s := range invalid {
		if Valid(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestEqualIgnoresCase(t *testing.T) {
	if !Equal("0xAbc", "0xABC") {
		t.Fatalf("expected case-insensitive equality")
	}
	if Equal("", "") {
		t.Fatalf("empty addresses never match")
	}
	if Equal("0x1", "0x2") {
		t.Fatalf("distinct addresses must not match")
	}
}

func TestSetDedupesCaseInsensitively(t *testing.T) {
	s := NewSet("0xAbc", "0xabc", "", "0xABC", " 0x1 ")
	if s.Len() != 2 {
		t.Fatalf("expected 2 members, got %v", s.List())
	}
	if got := s.List(); got[0] != "0xabc" || got[1] != "0x1" {
		t.Fatalf("unexpected members %v", got)
	}
	if !s.Contains("0XaBc") || s.Contains("") || s.Contains("0x2") {
		t.Fatalf("contains mismatch")
	}

	var empty *Set
	if empty.Contains("0x1") || empty.Len() != 0 {
		t.Fatalf("nil set should be empty")
	}
}
