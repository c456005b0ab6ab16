package value

import "errors"

// ErrDivideByZero is returned by Arith for a zero divisor.
var ErrDivideByZero = errors.New("integer divide by zero")

// ArithOp is an integer operator shared by the VM and the constant folder.
type ArithOp uint8

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
)

// Arith applies op with 32-bit wrap-around, the width scripts were written for.
func Arith(op ArithOp, a, b int64) (int64, error) {
	x, y := int32(a), int32(b)
	switch op {
	case OpAdd:
		return int64(x + y), nil
	case OpSub:
		return int64(x - y), nil
	case OpMul:
		return int64(x * y), nil
	case OpDiv, OpMod:
		if y == 0 {
			return 0, ErrDivideByZero
		}
		if op == OpDiv {
			return int64(x / y), nil
		}
		return int64(x % y), nil
	}
	return 0, errors.New("unknown arithmetic operator")
}

// Negate returns -n with 32-bit wrap-around.
func Negate(n int64) int64 { return int64(-int32(n)) }
