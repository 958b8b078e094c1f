package stream

import (
	"errors"
	"fmt"

	"github.com/xraph/escrow/types"
)

// ErrInvalidTerms is returned when terms would produce a zero rate or cap.
var ErrInvalidTerms = errors.New("stream: invalid terms")

// Terms are the pricing inputs of a new stream.
type Terms struct {
	RatePerSecond uint64 `json:"rate_per_second"`
	MaxAmount     uint64 `json:"max_amount"`
}

// PerMinute builds Terms from a per-minute price and a maximum session
// length in minutes. The per-second rate is the price divided by 60,
// truncated; the cap is price times minutes. Whatever the truncated rate
// cannot reach is refunded at close.
func PerMinute(pricePerMinute types.Amount, maxMinutes uint64) (Terms, error) {
	rate := uint64(pricePerMinute) / 60
	if rate == 0 {
		return Terms{}, fmt.Errorf("%w: price %d per minute is below one unit per second", ErrInvalidTerms, pricePerMinute)
	}
	if maxMinutes == 0 {
		return Terms{}, fmt.Errorf("%w: zero minutes", ErrInvalidTerms)
	}
	capAmount, err := pricePerMinute.Mul(maxMinutes)
	if err != nil {
		return Terms{}, fmt.Errorf("%w: %w", ErrInvalidTerms, err)
	}
	return Terms{RatePerSecond: rate, MaxAmount: uint64(capAmount)}, nil
}
