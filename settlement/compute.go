package settlement

import (
	"errors"
	"math/bits"
)

var ErrMathOverflow = errors.New("escrow: math overflow")

// Breakdown is the split of a stream's deposit at a point in time.
type Breakdown struct {
	Elapsed uint64 `json:"elapsed"`
	Earned  uint64 `json:"earned"`
	Payout  uint64 `json:"payout"`
	Refund  uint64 `json:"refund"`
}

// Compute splits deposit between payee and payer for a stream that started
// at start and accrues rate units per second, observed at now.
//
// A clock at or before start yields zero elapsed time. Earnings are capped
// at the deposit; Payout+Refund always equals deposit. An elapsed*rate
// product beyond 64 bits is an error rather than a saturated cap.
func Compute(start, now int64, rate, deposit uint64) (Breakdown, error) {
	var elapsed uint64
	if now > start {
		elapsed = uint64(now) - uint64(start)
	}

	hi, earned := bits.Mul64(elapsed, rate)
	if hi != 0 {
		return Breakdown{}, ErrMathOverflow
	}

	payout := min(earned, deposit)
	return Breakdown{
		Elapsed: elapsed,
		Earned:  earned,
		Payout:  payout,
		Refund:  deposit - payout,
	}, nil
}
