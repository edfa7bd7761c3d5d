/**
 * @description
 * Saturating integer arithmetic and the fixed-point ratio used for
 * asset-to-throughput conversion. All quota math must fail closed on
 * overflow: values saturate instead of wrapping, and conversions that leave
 * the representable range are rejected outright.
 */
package domain

import (
	"math"
	"math/bits"
)

// SatAdd64 adds two unsigned values, saturating at the maximum.
func SatAdd64(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// SatMul64 multiplies two unsigned values, saturating at the maximum.
func SatMul64(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// Ratio is an explicit rational used to convert a locked asset amount into
// an accrual rate in uTPS. Division floors; the rounding direction is
// load-bearing for the lock/unlock conservation property.
type Ratio struct {
	Num uint64 `json:"num"`
	Den uint64 `json:"den"`
}

// MulFloor computes floor(amount * Num / Den) and returns it as a uTPS rate.
// It fails with ErrInvalidAmount when the product overflows, the result does
// not fit the rate range, or the result is zero.
func (r Ratio) MulFloor(amount uint64) (uint32, error) {
	if r.Den == 0 || amount == 0 {
		return 0, ErrInvalidAmount
	}
	hi, lo := bits.Mul64(amount, r.Num)
	if hi != 0 {
		return 0, ErrInvalidAmount
	}
	v := lo / r.Den
	if v == 0 || v > math.MaxUint32 {
		return 0, ErrInvalidAmount
	}
	return uint32(v), nil
}
