package value

import (
	"fmt"
	"math"
)

// Op names a binary arithmetic operation.
type Op int

const (
	OpAdd Op = iota
	OpSubtract
	OpMultiply
	OpDivide
	OpModulo
)

var opSymbols = [...]string{
	OpAdd:      "+",
	OpSubtract: "-",
	OpMultiply: "*",
	OpDivide:   "/",
	OpModulo:   "%",
}

func (op Op) String() string {
	if int(op) >= 0 && int(op) < len(opSymbols) {
		return opSymbols[op]
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

func (v Value) Add(o Value) (Value, error)      { return v.Apply(OpAdd, o) }
func (v Value) Subtract(o Value) (Value, error) { return v.Apply(OpSubtract, o) }
func (v Value) Multiply(o Value) (Value, error) { return v.Apply(OpMultiply, o) }
func (v Value) Divide(o Value) (Value, error)   { return v.Apply(OpDivide, o) }
func (v Value) Modulo(o Value) (Value, error)   { return v.Apply(OpModulo, o) }

// Apply performs v op o. Both operands are promoted to the wider of their types
// and the result carries that type. Pointer arithmetic scales the integral
// operand by the pointee size.
func (v Value) Apply(op Op, o Value) (Value, error) {
	if v.typ.IsPointer() || o.typ.IsPointer() {
		return pointerArith(op, v, o)
	}
	if !v.typ.IsNumeric() || !o.typ.IsNumeric() {
		return Value{}, fmt.Errorf("%w: %s %s %s", ErrBadScalar, v.typ, op, o.typ)
	}

	t := Wider(v.typ, o.typ)
	a, _ := v.CastTo(t)
	b, _ := o.CastTo(t)

	if t.IsFloating() {
		r, err := floatOp(op, a.f, b.f)
		if err != nil {
			return Value{}, err
		}
		if t == Float {
			return NewFloat(float32(r)), nil
		}
		return NewDouble(r), nil
	}

	r, err := intOp(op, a.i, b.i)
	if err != nil {
		return Value{}, err
	}
	return fromIntegral(t, r), nil
}

// fromIntegral narrows r to the width of integral type t.
func fromIntegral(t Type, r int64) Value {
	switch t {
	case Char:
		return NewChar(int8(r))
	case Boolean:
		return NewBoolean(r != 0)
	case Int:
		return NewInt(int32(r))
	}
	return NewLong(r)
}

func intOp(op Op, a, b int64) (int64, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSubtract:
		return a - b, nil
	case OpMultiply:
		return a * b, nil
	case OpDivide:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a / b, nil
	case OpModulo:
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a % b, nil
	}
	return 0, fmt.Errorf("%w: unknown operator %s", ErrBadScalar, op)
}

func floatOp(op Op, a, b float64) (float64, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSubtract:
		return a - b, nil
	case OpMultiply:
		return a * b, nil
	case OpDivide:
		return a / b, nil
	case OpModulo:
		return math.Mod(a, b), nil
	}
	return 0, fmt.Errorf("%w: unknown operator %s", ErrBadScalar, op)
}

func pointerArith(op Op, v, o Value) (Value, error) {
	switch {
	case v.typ.IsPointer() && o.typ.IsPointer():
		if op != OpSubtract {
			break
		}
		size := SizeOf(v.typ.Base())
		if size == 0 {
			size = 1
		}
		return NewLong((v.i - o.i) / size), nil

	case v.typ.IsPointer() && o.typ.IsIntegral():
		step := o.i * SizeOf(v.typ.Base())
		switch op {
		case OpAdd:
			return Value{typ: v.typ, i: v.i + step}, nil
		case OpSubtract:
			return Value{typ: v.typ, i: v.i - step}, nil
		}

	case v.typ.IsIntegral() && o.typ.IsPointer():
		if op == OpAdd {
			return Value{typ: o.typ, i: o.i + v.i*SizeOf(o.typ.Base())}, nil
		}
	}
	return Value{}, fmt.Errorf("%w: %s %s %s", ErrBadScalar, v.typ, op, o.typ)
}

// Negate returns the arithmetic negation of v.
func (v Value) Negate() (Value, error) {
	switch {
	case v.typ.IsFloating():
		if v.typ == Float {
			return NewFloat(float32(-v.f)), nil
		}
		return NewDouble(-v.f), nil
	case v.typ == Boolean:
		return NewInt(int32(-v.i)), nil
	case v.typ.IsIntegral():
		return fromIntegral(v.typ, -v.i), nil
	}
	return Value{}, fmt.Errorf("%w: -%s", ErrBadScalar, v.typ)
}

// BooleanNot returns the logical negation of v as a boolean.
func (v Value) BooleanNot() (Value, error) {
	t, err := v.IsTrue()
	if err != nil {
		return Value{}, err
	}
	return NewBoolean(!t), nil
}
