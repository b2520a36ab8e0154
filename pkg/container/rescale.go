package container

import (
	"math"
	"math/bits"
)

// Rescale returns a*b/c rounded to the nearest integer, halfway cases away from zero.
// math.MinInt64 is returned when c <= 0, b < 0 or the result doesn't fit.
func Rescale(a, b, c int64) int64 {
	if c <= 0 || b < 0 {
		return math.MinInt64
	}
	if a == math.MinInt64 {
		return math.MinInt64
	}
	if a < 0 {
		r := Rescale(-a, b, c)
		if r == math.MinInt64 {
			return r
		}
		return -r
	}

	hi, lo := bits.Mul64(uint64(a), uint64(b))
	lo, carry := bits.Add64(lo, uint64(c)/2, 0)
	hi += carry
	if hi >= uint64(c) {
		return math.MinInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(c))
	if q > math.MaxInt64 {
		return math.MinInt64
	}
	return int64(q)
}

// RescaleQ converts a from time base bq to time base cq
func RescaleQ(a int64, bq, cq Rational) int64 {
	return Rescale(a, int64(bq.Num)*int64(cq.Den), int64(cq.Num)*int64(bq.Den))
}
