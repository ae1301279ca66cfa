// Package amount converts between human-readable token quantities and base
// units. All ledger amounts are unsigned 256-bit integers with an implied
// 18-decimal fixed-point scale.
package amount

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point scale of every ledger amount.
const Decimals = 18

// Zero returns a fresh zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Units returns n whole tokens in base units (n × 10^18).
func Units(n uint64) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))
	return new(uint256.Int).Mul(uint256.NewInt(n), scale)
}

// Parse converts a decimal quantity such as "98.9" into base units.
// Negative values, more than 18 fractional digits and values that do not fit
// in 256 bits are rejected.
func Parse(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse amount %q: negative", s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("parse amount %q: more than %d decimals", s, Decimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("parse amount %q: overflows 256 bits", s)
	}
	return v, nil
}

// MustParse is Parse for constants and tests. It panics on malformed input.
func MustParse(s string) *uint256.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders base units as a decimal quantity. Whole values keep one
// fractional digit, so 10^18 formats as "1.0".
func Format(x *uint256.Int) string {
	if x == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(x.ToBig(), -Decimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParseBase parses an integer base-unit amount, decimal or 0x-prefixed hex.
func ParseBase(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := uint256.FromHex(s)
		if err != nil {
			return nil, fmt.Errorf("parse base amount %q: %w", s, err)
		}
		return v, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse base amount %q: %w", s, err)
	}
	return v, nil
}

// Percent returns x × pct / 100, truncated toward zero. The intermediate
// product is computed at 512 bits so it never wraps.
func Percent(x *uint256.Int, pct uint64) *uint256.Int {
	v, _ := new(uint256.Int).MulDivOverflow(x, uint256.NewInt(pct), uint256.NewInt(100))
	return v
}
