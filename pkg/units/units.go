// Package units converts between human amounts ("1.5") and the smallest-unit
// integers the ledger stores.
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// EtherDecimals is the scale of the native asset and of the devnet token
const EtherDecimals = 18

var (
	ErrNegative  = errors.New("units: negative amount")
	ErrPrecision = errors.New("units: more fractional digits than the asset supports")
	ErrTooLarge  = errors.New("units: amount does not fit in 256 bits")
)

// Parse scales a decimal string by 10^decimals
// Example: Parse("1.5", 18) -> 1500000000000000000
func Parse(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("units: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegative, s)
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s with %d decimals", ErrPrecision, s, decimals)
	}

	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, s)
	}
	return out, nil
}

// Ether parses an amount of the native asset
func Ether(s string) (*uint256.Int, error) {
	return Parse(s, EtherDecimals)
}

// MustEther is Ether for constants and tests
func MustEther(s string) *uint256.Int {
	v, err := Ether(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders a smallest-unit amount with trailing zeros trimmed
// Example: Format(1500000000000000000, 18) -> "1.5"
func Format(v *uint256.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -decimals).String()
}

// ParseAmount accepts either a plain integer in smallest units ("1000") or a
// unit-suffixed human amount ("1.5ether", "2 tokens"). The suffixed forms use
// decimals as the scale.
func ParseAmount(s string, decimals int32) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	for _, suffix := range []string{"ether", "tokens", "token", "eth"} {
		if strings.HasSuffix(s, suffix) {
			return Parse(strings.TrimSuffix(s, suffix), decimals)
		}
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("units: parse %q: %w", s, err)
	}
	return v, nil
}
