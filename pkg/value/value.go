// Package value implements the tagged scalar and pointer values computed by the
// TinyC runtime, together with C-style promotion, arithmetic and casts.
//
// A Value is immutable: every operation returns a new Value.
package value

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrBadScalar is returned when a value cannot take part in a scalar operation.
	ErrBadScalar = errors.New("non-scalar value in scalar context")
	// ErrDivideByZero is returned for integral division or modulo by zero.
	ErrDivideByZero = errors.New("integer division by zero")
)

// Value is a discriminated union over the TinyC scalar types and typed pointers.
// Exactly one storage slot is meaningful for a given tag: integral types and
// pointer addresses use i, float and double use f, string uses s.
type Value struct {
	typ Type
	i   int64
	f   float64
	s   string
}

func NewChar(c int8) Value      { return Value{typ: Char, i: int64(c)} }
func NewInt(n int32) Value      { return Value{typ: Int, i: int64(n)} }
func NewLong(n int64) Value     { return Value{typ: Long, i: n} }
func NewFloat(f float32) Value  { return Value{typ: Float, f: float64(f)} }
func NewDouble(f float64) Value { return Value{typ: Double, f: f} }
func NewString(s string) Value  { return Value{typ: String, s: s} }
func NewBoolean(b bool) Value   { return Value{typ: Boolean, i: boolToInt(b)} }

// NewPointer builds a pointer to base (a non-pointer type) at address.
func NewPointer(base Type, address int64) Value {
	return Value{typ: base.PointerTo(), i: address}
}

// Zero returns the zero value of type t.
func Zero(t Type) Value { return Value{typ: t} }

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Type returns the value's tag.
func (v Value) Type() Type { return v.typ }

// TypeName renders the C spelling of the value's type for diagnostics.
func (v Value) TypeName() string { return v.typ.String() }

// IsPointer reports whether v holds an address.
func (v Value) IsPointer() bool { return v.typ.IsPointer() }

// Address returns the address held by a pointer, or the integral payload otherwise.
func (v Value) Address() int64 { return v.Long() }

// Long returns the value as a 64-bit integer, truncating floating values.
func (v Value) Long() int64 {
	switch {
	case v.typ.IsFloating():
		return int64(v.f)
	case v.typ == String:
		n, _ := strconv.ParseInt(strings.TrimSpace(v.s), 0, 64)
		return n
	}
	return v.i
}

// Int returns the value truncated to 32 bits.
func (v Value) Int() int32 { return int32(v.Long()) }

// Char returns the value truncated to a signed byte.
func (v Value) Char() int8 { return int8(v.Long()) }

// Double returns the value as a float64.
func (v Value) Double() float64 {
	switch {
	case v.typ.IsFloating():
		return v.f
	case v.typ == String:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		return f
	}
	return float64(v.i)
}

// Text returns the string payload, or the stringified value for other types.
func (v Value) Text() string {
	if v.typ == String {
		return v.s
	}
	s, err := v.CastTo(String)
	if err != nil {
		return ""
	}
	return s.s
}

// String renders the value for diagnostics and the REPL.
func (v Value) String() string {
	switch {
	case v.typ == Undefined:
		return "<undefined>"
	case v.typ == Char:
		return strconv.QuoteRune(rune(uint8(v.i)))
	case v.typ == String:
		return strconv.Quote(v.s)
	}
	return v.Text()
}

// IsTrue compares v against the zero value of its own type.
func (v Value) IsTrue() (bool, error) {
	switch {
	case v.typ.IsPointer(), v.typ.IsIntegral():
		return v.i != 0, nil
	case v.typ.IsFloating():
		return v.f != 0, nil
	}
	return false, fmt.Errorf("%w: truth value of %s", ErrBadScalar, v.typ)
}

// MakePointer wraps an integral value as a pointer to base. Used by address-of.
func (v Value) MakePointer(base Type) (Value, error) {
	if !v.typ.IsIntegral() && !v.typ.IsPointer() {
		return Value{}, fmt.Errorf("%w: cannot use %s as an address", ErrBadScalar, v.typ)
	}
	return NewPointer(base.Base(), v.i), nil
}

// CastTo converts v to type t.
func (v Value) CastTo(t Type) (Value, error) {
	if v.typ == t {
		return v, nil
	}
	if v.typ == Undefined {
		return Value{}, fmt.Errorf("%w: cast of undefined value to %s", ErrBadScalar, t)
	}

	if t.IsPointer() {
		switch {
		case v.typ.IsPointer(), v.typ.IsIntegral():
			return Value{typ: t, i: v.i}, nil
		}
		return Value{}, fmt.Errorf("%w: cannot cast %s to %s", ErrBadScalar, v.typ, t)
	}

	if t == String {
		return NewString(v.stringify()), nil
	}

	src := v
	if v.typ == String {
		parsed, err := parseNumber(v.s)
		if err != nil {
			return Value{}, err
		}
		src = parsed
	}

	switch t {
	case Char:
		return NewChar(int8(src.integral())), nil
	case Boolean:
		if src.typ.IsFloating() {
			return NewBoolean(src.f != 0), nil
		}
		return NewBoolean(src.i != 0), nil
	case Int:
		return NewInt(int32(src.integral())), nil
	case Long:
		return NewLong(src.integral()), nil
	case Float:
		return NewFloat(float32(src.floating())), nil
	case Double:
		return NewDouble(src.floating()), nil
	}
	return Value{}, fmt.Errorf("%w: cannot cast %s to %s", ErrBadScalar, v.typ, t)
}

func (v Value) integral() int64 {
	if v.typ.IsFloating() {
		return int64(v.f)
	}
	return v.i
}

func (v Value) floating() float64 {
	if v.typ.IsFloating() {
		return v.f
	}
	return float64(v.i)
}

func (v Value) stringify() string {
	switch {
	case v.typ.IsPointer():
		return fmt.Sprintf("%#x", v.i)
	case v.typ == Char:
		return string(rune(uint8(v.i)))
	case v.typ == Boolean:
		return strconv.FormatBool(v.i != 0)
	case v.typ.IsIntegral():
		return strconv.FormatInt(v.i, 10)
	case v.typ == Float:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case v.typ == Double:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	}
	return v.s
}

func parseNumber(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return NewLong(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return NewDouble(f), nil
	}
	return Value{}, fmt.Errorf("%w: %q is not a number", ErrBadScalar, s)
}

// CompareTo returns -1, 0 or 1 after promoting both operands to their wider type.
// Pointers compare by address. Strings compare only with strings.
func (v Value) CompareTo(o Value) (int, error) {
	switch {
	case v.typ == String && o.typ == String:
		return strings.Compare(v.s, o.s), nil
	case v.typ.IsPointer() || o.typ.IsPointer():
		if !isAddressLike(v) || !isAddressLike(o) {
			return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrBadScalar, v.typ, o.typ)
		}
		return compareInts(v.i, o.i), nil
	}
	if !v.typ.IsNumeric() || !o.typ.IsNumeric() {
		return 0, fmt.Errorf("%w: cannot compare %s with %s", ErrBadScalar, v.typ, o.typ)
	}

	t := Wider(v.typ, o.typ)
	a, _ := v.CastTo(t)
	b, _ := o.CastTo(t)
	if t.IsFloating() {
		switch {
		case a.f < b.f:
			return -1, nil
		case a.f == b.f:
			return 0, nil
		}
		// Unordered (NaN) operands compare as unequal.
		return 1, nil
	}
	return compareInts(a.i, b.i), nil
}

func isAddressLike(v Value) bool { return v.typ.IsPointer() || v.typ.IsIntegral() }

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
