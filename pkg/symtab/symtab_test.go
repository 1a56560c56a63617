package symtab

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tinyc/pkg/value"
)

func TestAttrBits(t *testing.T) {
	a := MakeAttr(value.Double, Pointer|Static)
	if a.Base() != value.Double {
		t.Errorf("base = %s", a.Base())
	}
	if !a.Has(Pointer) || !a.Has(Static) || a.Has(Array) {
		t.Errorf("modifiers of %#x", uint32(a))
	}
	if a.ValueType() != value.Double.PointerTo() {
		t.Errorf("value type = %s", a.ValueType())
	}
	if a.ElementSize() != value.PointerSize {
		t.Errorf("element size = %d", a.ElementSize())
	}
	if got := a.String(); got != "static double *" {
		t.Errorf("String() = %q", got)
	}
	// Modifier bits never bleed into the base byte.
	for _, m := range []Attr{Pointer, Array, Struct, Offset, Static, Auto, Enum} {
		if m&BaseMask != 0 {
			t.Errorf("modifier %#x overlaps the base mask", uint32(m))
		}
	}
	if !Void.IsVoid() || MakeAttr(value.Int, 0).IsVoid() {
		t.Error("void detection")
	}
}

func TestAddAndFind(t *testing.T) {
	global := New(nil)
	fn := New(global)
	block := New(fn)

	mustAdd := func(tab *Table, name string, attr Attr) *Symbol {
		t.Helper()
		s := &Symbol{Name: name, Attr: attr, Size: attr.ElementSize()}
		if err := tab.AddSymbol(s); err != nil {
			t.Fatalf("AddSymbol(%s): %v", name, err)
		}
		return s
	}

	gx := mustAdd(global, "x", MakeAttr(value.Int, Static))
	gy := mustAdd(global, "y", MakeAttr(value.Long, Static))
	px := mustAdd(fn, "x", MakeAttr(value.Char, Auto))
	bz := mustAdd(block, "z", MakeAttr(value.Double, Auto))

	tests := []struct {
		name  string
		table *Table
		want  *Symbol
	}{
		{"shadowed by param", block, px},
		{"global through chain", block, gy},
		{"local", block, bz},
		{"global from global", global, gx},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := tt.want.Name
			got, ok := tt.table.FindSymbol(key)
			if !ok || got != tt.want {
				t.Errorf("FindSymbol(%s) = %v, %v", key, got, ok)
			}
		})
	}

	if _, ok := block.FindSymbol("nope"); ok {
		t.Error("found undeclared name")
	}
	if _, ok := block.FindLocal("x"); ok {
		t.Error("FindLocal walked outward")
	}
	if block.Depth != 2 {
		t.Errorf("depth = %d", block.Depth)
	}
}

func TestDuplicateLeavesTableUnchanged(t *testing.T) {
	tab := New(nil)
	first := &Symbol{Name: "a", Attr: MakeAttr(value.Int, 0)}
	if err := tab.AddSymbol(first); err != nil {
		t.Fatal(err)
	}
	err := tab.AddSymbol(&Symbol{Name: "a", Attr: MakeAttr(value.Double, 0)})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("got %v, want ErrDuplicate", err)
	}
	got, _ := tab.FindLocal("a")
	if got != first || tab.Len() != 1 {
		t.Errorf("table changed after duplicate: %v", got)
	}
}

func TestMemberString(t *testing.T) {
	point := &Symbol{Name: "pt", Attr: MakeAttr(value.Undefined, Struct|Static), Size: 8, Address: 0x20, Allocated: true}
	y := &Symbol{Name: "y", Attr: MakeAttr(value.Int, Offset), Address: 4, Size: 4, Parent: point}
	if got, want := y.String(), "int pt.y unallocated (size 4)"; got != want {
		t.Errorf("String() = %q; want %q", got, want)
	}
}

func TestRemove(t *testing.T) {
	outer := New(nil)
	inner := New(outer)
	for _, tab := range []*Table{outer, inner} {
		if err := tab.AddSymbol(&Symbol{Name: "v", Attr: MakeAttr(value.Int, 0)}); err != nil {
			t.Fatal(err)
		}
	}
	inner.Remove("v")
	inner.Remove("missing")
	if _, ok := inner.FindLocal("v"); ok {
		t.Error("v still in inner table")
	}
	if s, ok := inner.FindSymbol("v"); !ok || s != outer.symbols["v"] {
		t.Error("lookup should fall through to the outer v")
	}
	if err := inner.AddSymbol(&Symbol{Name: "v"}); err != nil {
		t.Errorf("redeclare after Remove: %v", err)
	}
}

func TestSymbolsSortedAndDump(t *testing.T) {
	tab := New(nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_ = tab.AddSymbol(&Symbol{Name: name, Attr: MakeAttr(value.Int, Static), Size: 4, Address: 8, Allocated: true})
	}
	var names []string
	for _, s := range tab.Symbols() {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, names); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	dump := tab.String()
	if !strings.HasPrefix(dump, "Globals:\n") || !strings.Contains(dump, "static int alpha @0x8 (size 4)") {
		t.Errorf("unexpected dump:\n%s", dump)
	}
}
