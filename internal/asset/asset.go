// Package asset handles asset identifier parsing and validation for the
// token distributor: hex account/token addresses and the pseudo-identifier
// for the native currency the swap-back routes through.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Native is the pseudo-identifier for the chain's native currency, the
// intermediate leg of every swap-back.
const Native = "NATIVE"

// addressRegex matches a 20-byte hex address: 0x followed by 40 hex chars.
var addressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var (
	ErrInvalidAddress = errors.New("asset: invalid address format")
	ErrInvalidAsset   = errors.New("asset: invalid asset identifier")
)

// ParseAddress validates an account or token address and returns it in
// canonical (lowercase) form. Canonicalization means a value written by an
// admin setter compares equal to the value read back, regardless of the
// hex casing the caller used.
func ParseAddress(s string) (string, error) {
	if !addressRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q (expected 0x + 40 hex chars)", ErrInvalidAddress, s)
	}
	return strings.ToLower(s), nil
}

// ParseAsset validates an asset identifier: either Native or a token
// address.
func ParseAsset(s string) (string, error) {
	if strings.EqualFold(s, Native) {
		return Native, nil
	}
	addr, err := ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, s)
	}
	return addr, nil
}

// MustAddress is ParseAddress for hardcoded values (genesis, tests).
// Panics on invalid input.
func MustAddress(s string) string {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}
