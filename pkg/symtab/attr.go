package symtab

import (
	"strings"

	"tinyc/pkg/value"
)

// Attr is a type-attribute bitmask. The low byte holds the base value.Type;
// modifier bits live above it and never overlap the base.
type Attr uint32

const (
	BaseMask Attr = 0xFF

	Pointer Attr = 0x100
	Array   Attr = 0x200
	Struct  Attr = 0x400
	Offset  Attr = 0x800
	Static  Attr = 0x1000
	Auto    Attr = 0x2000
	Enum    Attr = 0x4000

	ModifierMask = Pointer | Array | Struct | Offset | Static | Auto | Enum
)

// Void is the attribute of a function that returns nothing.
const Void Attr = 0

// MakeAttr combines a base type with modifier bits.
func MakeAttr(base value.Type, mods Attr) Attr {
	return Attr(base.Base())&BaseMask | mods&ModifierMask
}

// Base returns the base type stored in the low byte.
func (a Attr) Base() value.Type { return value.Type(a & BaseMask) }

// Has reports whether every bit of m is set.
func (a Attr) Has(m Attr) bool { return a&m == m }

// With returns a with the modifier bits m added.
func (a Attr) With(m Attr) Attr { return a | m&ModifierMask }

// Without returns a with the modifier bits m cleared.
func (a Attr) Without(m Attr) Attr { return a &^ (m & ModifierMask) }

// IsVoid reports whether a names no value at all.
func (a Attr) IsVoid() bool { return a.Base() == value.Undefined && !a.Has(Pointer) }

// ValueType returns the type of a value stored under these attributes.
// Array elements report their element type.
func (a Attr) ValueType() value.Type {
	if a.Has(Pointer) {
		return a.Base().PointerTo()
	}
	return a.Base()
}

// ElementSize is the size in bytes of one element.
func (a Attr) ElementSize() int64 {
	return value.SizeOf(a.ValueType())
}

// String renders a C-style spelling such as "static int *" or "char[]".
func (a Attr) String() string {
	var sb strings.Builder
	if a.Has(Static) {
		sb.WriteString("static ")
	}
	if a.IsVoid() {
		sb.WriteString("void")
	} else {
		sb.WriteString(a.ValueType().String())
	}
	if a.Has(Array) {
		sb.WriteString("[]")
	}
	return sb.String()
}
