package fixedpoint

import (
	"errors"
	"math/big"
	"sync"
)

// All monetary values and prices carry 7 decimal places.
// Example: 1.0000000 USDC = 10_000_000 units.
const (
	DecimalPrecision       = 7
	Precision        int64 = 10_000_000 // 10^7
	BasisPoints      int64 = 10_000     // 1 bp = 0.01%
)

var (
	ErrOverflow       = errors.New("fixedpoint: value out of int64 range")
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
)

// int128Pool holds big.Ints for intermediate products so that the hot
// path does not allocate per calculation.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MulInt128 returns a * b as a pooled big.Int. The caller must release
// it with PutInt128 when done.
func MulInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// PutInt128 returns a big.Int obtained from MulInt128 to the pool.
func PutInt128(v *big.Int) {
	putInt128(v)
}

// DivInt128 divides numerator by denominator, truncating toward zero,
// and checks that the quotient fits in int64.
func DivInt128(numerator *big.Int, denominator int64) (int64, error) {
	if denominator == 0 {
		return 0, ErrDivisionByZero
	}

	quotient := getInt128()
	defer putInt128(quotient)

	// Quo truncates toward zero for signed operands, matching the
	// engine's rounding convention everywhere.
	quotient.Quo(numerator, big.NewInt(denominator))

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	return quotient.Int64(), nil
}

// Mul returns a * b, rejecting results outside the int64 range.
func Mul(a, b int64) (int64, error) {
	product := MulInt128(a, b)
	defer putInt128(product)

	if !product.IsInt64() {
		return 0, ErrOverflow
	}
	return product.Int64(), nil
}

// MulDiv returns (a * b) / denom with a 128-bit intermediate product
// and truncating division.
func MulDiv(a, b, denom int64) (int64, error) {
	product := MulInt128(a, b)
	defer putInt128(product)
	return DivInt128(product, denom)
}

// Add returns a + b, rejecting overflow.
func Add(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a - b, rejecting overflow.
func Sub(a, b int64) (int64, error) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, ErrOverflow
	}
	return diff, nil
}

// ApplyBps returns amount scaled by a basis-point fraction,
// truncating toward zero.
func ApplyBps(amount, bps int64) (int64, error) {
	return MulDiv(amount, bps, BasisPoints)
}

// FromUnits converts a whole-unit amount to 7-decimal fixed point.
func FromUnits(n int64) (int64, error) {
	return Mul(n, Precision)
}

// MustFromUnits is FromUnits for compile-time constants and tests,
// panicking on overflow.
func MustFromUnits(n int64) int64 {
	v, err := FromUnits(n)
	if err != nil {
		panic(err)
	}
	return v
}
