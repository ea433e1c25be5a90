package math

import (
	"errors"
	stdmath "math"

	sdkmath "cosmossdk.io/math"
)

// RewardPrecisionExp is the scaling exponent for the per-share reward
// accumulator. Pending rewards are computed as (shares * accumulator -
// reward_debt) / 10^12, truncated toward zero.
const RewardPrecisionExp = 12

// MaxFeeBps is the full basis-point range. Fees above this are rejected
// at configuration time.
const MaxFeeBps = 10_000

// RewardPrecision returns the accumulator scale (10^12).
func RewardPrecision() sdkmath.Int {
	return sdkmath.NewInt(1_000_000_000_000)
}

var (
	// ErrOverflow signals a result that does not fit the target width.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrDivideByZero signals a zero denominator.
	ErrDivideByZero = errors.New("divide by zero")

	// ErrNegativeResult signals a subtraction that went below zero.
	ErrNegativeResult = errors.New("negative result")
)

// MulDivFloor computes floor(a * b / den) with a wide intermediate.
// The intermediate product never overflows; only the final narrowing
// back to uint64 can fail.
func MulDivFloor(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivideByZero
	}

	result := sdkmath.NewIntFromUint64(a).
		Mul(sdkmath.NewIntFromUint64(b)).
		Quo(sdkmath.NewIntFromUint64(den))

	if !result.IsUint64() {
		return 0, ErrOverflow
	}
	return result.Uint64(), nil
}

// ApplyFeeBps returns amount minus floor(amount * bps / 10000).
// A zero fee returns the amount unchanged; 10000 bps consumes it entirely.
func ApplyFeeBps(amount uint64, bps uint16) (uint64, error) {
	if bps > MaxFeeBps {
		return 0, ErrOverflow
	}
	fee, err := MulDivFloor(amount, uint64(bps), MaxFeeBps)
	if err != nil {
		return 0, err
	}
	return amount - fee, nil
}

// AccumulatorIncrement computes floor(amount * 10^12 / totalShares),
// the per-share accumulator delta for a recorded profit.
func AccumulatorIncrement(amount uint64, totalShares sdkmath.Int) (sdkmath.Int, error) {
	if totalShares.IsZero() || totalShares.IsNegative() {
		return sdkmath.ZeroInt(), ErrDivideByZero
	}
	inc := sdkmath.NewIntFromUint64(amount).
		Mul(RewardPrecision()).
		Quo(totalShares)
	return inc, nil
}

// RewardDebt computes shares * accumulator (still scaled by 10^12).
func RewardDebt(shares uint64, accumulator sdkmath.Int) sdkmath.Int {
	return sdkmath.NewIntFromUint64(shares).Mul(accumulator)
}

// PendingDelta computes floor((shares * accumulator - debt) / 10^12),
// the rewards earned since the debt checkpoint. A negative delta means
// the accumulator state is corrupt.
func PendingDelta(shares uint64, accumulator, debt sdkmath.Int) (sdkmath.Int, error) {
	scaled := RewardDebt(shares, accumulator).Sub(debt)
	if scaled.IsNegative() {
		return sdkmath.ZeroInt(), ErrNegativeResult
	}
	return scaled.Quo(RewardPrecision()), nil
}

// AddUint64 returns a + b, failing on wraparound.
func AddUint64(a, b uint64) (uint64, error) {
	if a > stdmath.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SubUint64 returns a - b, failing when b > a.
func SubUint64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrNegativeResult
	}
	return a - b, nil
}

// ToInt64 narrows a uint64 to the int64 range used by ledger journals.
func ToInt64(v uint64) (int64, error) {
	if v > stdmath.MaxInt64 {
		return 0, ErrOverflow
	}
	return int64(v), nil
}

// Uint64FromInt narrows an sdkmath.Int into uint64.
func Uint64FromInt(v sdkmath.Int) (uint64, error) {
	if v.IsNegative() || !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}
