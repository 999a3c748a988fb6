package domain

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// BPSDenominator es el 100% en basis points.
const BPSDenominator = 10_000

// CheckedAdd devuelve a+b o ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// CheckedSub devuelve a-b, o ErrInsufficientFunds si b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrInsufficientFunds
	}
	return a - b, nil
}

// MulDiv devuelve floor(a*b/c). El producto se calcula en 256 bits y no puede
// desbordar; un cociente que no cabe en 64 bits es ErrOverflow.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivisionByZero
	}
	prod := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	q := prod.Div(prod, uint256.NewInt(c))
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// SplitBPS separa amount en la parte de bps (truncada hacia cero) y el resto.
func SplitBPS(amount uint64, bps uint32) (cut, rest uint64, err error) {
	if bps > BPSDenominator {
		return 0, 0, fmt.Errorf("basis points %d exceed %d", bps, BPSDenominator)
	}
	cut, err = MulDiv(amount, uint64(bps), BPSDenominator)
	if err != nil {
		return 0, 0, err
	}
	return cut, amount - cut, nil
}
