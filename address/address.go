// Package address canonicalizes ledger account addresses.
//
// Addresses compare case-insensitively. Full 20-byte addresses are rendered in
// their EIP-55 mixed-case checksum form; shorter hex forms (fixtures, test
// accounts) are rendered lowercase.
package address

import (
	"strings"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// HexLength is the number of hex digits in a full address.
const HexLength = 40

// Valid reports whether s is a 0x-prefixed hex string of 1 to 40 digits.
func Valid(s string) bool {
	digits, ok := stripPrefix(strings.TrimSpace(s))
	if !ok || len(digits) == 0 || len(digits) > HexLength {
		return false
	}
	for i := 0; i < len(digits); i++ {
		if !isHexDigit(digits[i]) {
			return false
		}
	}
	return true
}

// Key returns the case-folded form used for map keys and equality.
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Equal reports whether a and b name the same non-empty account.
func Equal(a, b string) bool {
	ka, kb := Key(a), Key(b)
	return ka != "" && ka == kb
}

// Checksum returns the canonical display form of s. Non-address strings are
// only trimmed and lowercased.
func Checksum(s string) string {
	s = strings.TrimSpace(s)
	if !Valid(s) {
		return strings.ToLower(s)
	}
	digits, _ := stripPrefix(strings.ToLower(s))
	if len(digits) != HexLength {
		return "0x" + digits
	}
	a, err := ethtypes.NewAddress("0x" + digits)
	if err != nil {
		return "0x" + digits
	}
	return ethtypes.AddressWithChecksum(*a).String()
}

func stripPrefix(s string) (string, bool) {
	if len(s) < 2 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return "", false
	}
	return s[2:], true
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
