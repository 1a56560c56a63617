package value

import (
	"errors"
	"math"
	"testing"
)

func numericSamples() []Value {
	return []Value{
		NewBoolean(true),
		NewChar(7),
		NewChar(-3),
		NewInt(12),
		NewInt(-40000),
		NewLong(1 << 40),
		NewFloat(2.5),
		NewDouble(-0.125),
	}
}

func TestAddCommutesAndWidens(t *testing.T) {
	for _, a := range numericSamples() {
		for _, b := range numericSamples() {
			ab, err := a.Add(b)
			if err != nil {
				t.Fatalf("%v + %v: %v", a, b, err)
			}
			ba, err := b.Add(a)
			if err != nil {
				t.Fatalf("%v + %v: %v", b, a, err)
			}
			if c, _ := ab.CompareTo(ba); c != 0 || ab.Type() != ba.Type() {
				t.Errorf("%v + %v = %v, reversed %v", a, b, ab, ba)
			}
			if want := Wider(a.Type(), b.Type()); ab.Type() != want {
				t.Errorf("%v + %v: type %s, want %s", a, b, ab.Type(), want)
			}
		}
	}
}

func TestCastIdempotent(t *testing.T) {
	targets := []Type{Char, Boolean, Int, Long, Float, Double, String, Int.PointerTo()}
	for _, v := range numericSamples() {
		for _, target := range targets {
			if target.IsPointer() && v.Type().IsFloating() {
				continue
			}
			once, err := v.CastTo(target)
			if err != nil {
				t.Fatalf("cast %v to %s: %v", v, target, err)
			}
			twice, err := once.CastTo(target)
			if err != nil {
				t.Fatalf("recast %v to %s: %v", once, target, err)
			}
			if once != twice {
				t.Errorf("cast %v to %s twice: %#v then %#v", v, target, once, twice)
			}
		}
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		a, b Value
		want Value
	}{
		{"int add", OpAdd, NewInt(2), NewInt(3), NewInt(5)},
		{"int wraps", OpAdd, NewInt(math.MaxInt32), NewInt(1), NewInt(math.MinInt32)},
		{"char widens to int", OpMultiply, NewChar(100), NewInt(3), NewInt(300)},
		{"int widens to double", OpDivide, NewInt(7), NewDouble(2), NewDouble(3.5)},
		{"truncating division", OpDivide, NewInt(-7), NewInt(2), NewInt(-3)},
		{"modulo", OpModulo, NewLong(17), NewInt(5), NewLong(2)},
		{"float modulo", OpModulo, NewDouble(7.5), NewDouble(2), NewDouble(1.5)},
		{"subtract", OpSubtract, NewFloat(1.5), NewInt(2), NewFloat(-0.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Apply(tt.op, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDivideByZero(t *testing.T) {
	if _, err := NewInt(1).Divide(NewInt(0)); !errors.Is(err, ErrDivideByZero) {
		t.Errorf("int / 0: got %v", err)
	}
	if _, err := NewLong(1).Modulo(NewChar(0)); !errors.Is(err, ErrDivideByZero) {
		t.Errorf("long %% 0: got %v", err)
	}
	got, err := NewDouble(1).Divide(NewInt(0))
	if err != nil {
		t.Fatalf("double / 0: %v", err)
	}
	if !math.IsInf(got.Double(), 1) {
		t.Errorf("double / 0 = %v, want +Inf", got)
	}
}

func TestPointerArithmetic(t *testing.T) {
	p := NewPointer(Int, 0x100)

	next, err := p.Add(NewInt(3))
	if err != nil {
		t.Fatal(err)
	}
	if next.Address() != 0x10c || next.Type() != Int.PointerTo() {
		t.Errorf("p+3 = %#v", next)
	}

	back, err := NewInt(3).Add(p)
	if err != nil {
		t.Fatal(err)
	}
	if back != next {
		t.Errorf("3+p = %#v, want %#v", back, next)
	}

	dist, err := next.Subtract(p)
	if err != nil {
		t.Fatal(err)
	}
	if dist != NewLong(3) {
		t.Errorf("distance = %#v, want 3", dist)
	}

	if _, err := p.Multiply(NewInt(2)); !errors.Is(err, ErrBadScalar) {
		t.Errorf("pointer multiply: got %v", err)
	}
}

func TestStringsAreNotArithmetic(t *testing.T) {
	if _, err := NewString("a").Add(NewInt(1)); !errors.Is(err, ErrBadScalar) {
		t.Errorf("got %v, want ErrBadScalar", err)
	}
	if _, err := NewString("abc").CastTo(Int); !errors.Is(err, ErrBadScalar) {
		t.Errorf("cast of non-numeric string: got %v", err)
	}
	n, err := NewString(" 42 ").CastTo(Int)
	if err != nil || n != NewInt(42) {
		t.Errorf("cast of numeric string = %#v, %v", n, err)
	}
}

func TestCompareAndTruth(t *testing.T) {
	if c, _ := NewInt(2).CompareTo(NewDouble(2.5)); c != -1 {
		t.Errorf("2 vs 2.5 = %d", c)
	}
	if c, _ := NewChar(5).CompareTo(NewLong(5)); c != 0 {
		t.Errorf("5 vs 5L = %d", c)
	}
	if c, _ := NewPointer(Char, 16).CompareTo(NewPointer(Char, 8)); c != 1 {
		t.Errorf("pointer compare = %d", c)
	}
	if ok, _ := NewDouble(0).IsTrue(); ok {
		t.Error("0.0 should be false")
	}
	if ok, _ := NewPointer(Int, 8).IsTrue(); !ok {
		t.Error("non-null pointer should be true")
	}
	not, _ := NewInt(0).BooleanNot()
	if not != NewBoolean(true) {
		t.Errorf("!0 = %#v", not)
	}
	neg, _ := NewChar(-128).Negate()
	if neg != NewChar(-128) {
		t.Errorf("-(-128) as char = %#v", neg)
	}
}

func TestTypeNames(t *testing.T) {
	tests := map[Type]string{
		Double:           "double",
		Int.PointerTo():  "int *",
		Char.PointerTo(): "char *",
	}
	for typ, want := range tests {
		if got := Zero(typ).TypeName(); got != want {
			t.Errorf("TypeName(%d) = %q, want %q", int(typ), got, want)
		}
	}
	if SizeOf(Double.PointerTo()) != PointerSize || SizeOf(Char) != 1 || SizeOf(Float) != 4 {
		t.Error("unexpected sizes")
	}
}
