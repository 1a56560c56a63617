package value

import "fmt"

// Type tags a Value. Pointer tags are PointerBase plus the pointee's base type.
type Type int

const (
	Undefined Type = iota
	Char
	Boolean
	Int
	Long
	Float
	Double
	String
)

// PointerBase is added to a base type to form the matching pointer tag.
const PointerBase Type = 16384

// PointerSize is the width of an address in simulated storage.
const PointerSize = 8

var typeNames = [...]string{
	Undefined: "undefined",
	Char:      "char",
	Boolean:   "boolean",
	Int:       "int",
	Long:      "long",
	Float:     "float",
	Double:    "double",
	String:    "string",
}

// IsPointer reports whether t is a pointer tag.
func (t Type) IsPointer() bool { return t >= PointerBase }

// Base strips the pointer offset, returning the pointee type for pointers.
func (t Type) Base() Type {
	if t.IsPointer() {
		return t - PointerBase
	}
	return t
}

// PointerTo returns the pointer tag whose pointee is t's base type.
func (t Type) PointerTo() Type { return t.Base() + PointerBase }

// IsIntegral reports whether t is stored in the integer slot (pointers excluded).
func (t Type) IsIntegral() bool {
	switch t {
	case Char, Boolean, Int, Long:
		return true
	}
	return false
}

// IsFloating reports whether t is float or double.
func (t Type) IsFloating() bool { return t == Float || t == Double }

// IsNumeric reports whether t takes part in arithmetic promotion.
func (t Type) IsNumeric() bool { return t.IsIntegral() || t.IsFloating() }

// String renders a C-style spelling such as "double" or "int *".
func (t Type) String() string {
	if t.IsPointer() {
		return t.Base().String() + " *"
	}
	if int(t) >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// SizeOf returns the number of bytes a value of type t occupies in storage.
func SizeOf(t Type) int64 {
	if t.IsPointer() {
		return PointerSize
	}
	switch t {
	case Char, Boolean:
		return 1
	case Int, Float:
		return 4
	case Long, Double:
		return 8
	case String:
		return PointerSize
	}
	return 0
}

// rank orders the numeric types for promotion. Boolean ranks below char so
// ties resolve the same way regardless of operand order.
func rank(t Type) int {
	switch t {
	case Boolean:
		return 0
	case Char:
		return 1
	case Int:
		return 2
	case Long:
		return 3
	case Float:
		return 4
	case Double:
		return 5
	}
	return -1
}

// Wider returns the wider of two numeric types under the promotion order
// boolean/char < int < long < float < double.
func Wider(a, b Type) Type {
	if rank(b) > rank(a) {
		return b
	}
	return a
}
