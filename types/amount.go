package types

import (
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// ErrAmountOverflow is returned when an Amount computation leaves the
// unsigned 64-bit range.
var ErrAmountOverflow = errors.New("amount: overflow")

// Amount is a quantity of an asset in its smallest unit.
// All arithmetic is integer-only and overflow-checked.
//
// Examples with a 6-decimal stable coin:
//   - Amount(1_500_000) = 1.5 tokens
//   - Amount(1) = 0.000001 tokens
type Amount uint64

// ParseAmount converts a decimal string in major units ("12.5") to base
// units for an asset with the given number of decimals. Fractions finer
// than the asset's precision are rejected rather than rounded.
func ParseAmount(s string, decimals uint8) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount: parse %q: negative", s)
	}

	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount: parse %q: more than %d decimal places", s, decimals)
	}

	n := shifted.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("amount: parse %q: %w", s, ErrAmountOverflow)
	}
	return Amount(n.Uint64()), nil
}

// Format renders the amount in major units with exactly decimals places.
func (a Amount) Format(decimals uint8) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -int32(decimals))
	return d.StringFixed(int32(decimals))
}

// Add returns a+b or ErrAmountOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return Amount(sum), nil
}

// Mul returns a*n or ErrAmountOverflow.
func (a Amount) Mul(n uint64) (Amount, error) {
	hi, lo := bits.Mul64(uint64(a), n)
	if hi != 0 {
		return 0, ErrAmountOverflow
	}
	return Amount(lo), nil
}

// Sub returns a-b, saturating at zero.
func (a Amount) Sub(b Amount) Amount {
	if b >= a {
		return 0
	}
	return a - b
}

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }
