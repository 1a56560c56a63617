// Package symtab maps names to typed storage locations.
//
// A Table holds the symbols of one lexical scope and links to the enclosing
// scope. Lookups walk outward through the chain, so an inner declaration
// shadows an outer one with the same name.
package symtab

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDuplicate is returned when a name is declared twice in one scope.
var ErrDuplicate = errors.New("duplicate declaration")

// Symbol is a named storage location.
type Symbol struct {
	Name    string
	Attr    Attr
	Address int64 // meaningful once Allocated is true
	Size    int64 // total bytes, Count elements for arrays
	Count   int64 // array element count, 0 for scalars
	// Parent is the containing symbol of a struct or union member. The
	// language has no aggregate declarations yet, so only hosts set it.
	Parent *Symbol
	// Allocated is set once Address refers to storage.
	Allocated bool
}

func (s *Symbol) String() string {
	where := "unallocated"
	if s.Allocated {
		where = fmt.Sprintf("@%#x", s.Address)
	}
	name := s.Name
	if s.Parent != nil {
		name = s.Parent.Name + "." + name
	}
	if s.Count > 0 {
		return fmt.Sprintf("%s %s[%d] %s (size %d)", s.Attr.Without(Array), name, s.Count, where, s.Size)
	}
	return fmt.Sprintf("%s %s %s (size %d)", s.Attr, name, where, s.Size)
}

// Table is the symbol set of one scope.
type Table struct {
	symbols map[string]*Symbol

	Parent      *Table
	Depth       int
	BaseAddress int64 // 0 for the global table, the frame base otherwise
}

// New creates a table nested in parent, which may be nil for the global scope.
func New(parent *Table) *Table {
	t := &Table{symbols: make(map[string]*Symbol), Parent: parent}
	if parent != nil {
		t.Depth = parent.Depth + 1
	}
	return t
}

// AddSymbol inserts s. It fails without modifying the table when this table
// already has a symbol with the same name.
func (t *Table) AddSymbol(s *Symbol) error {
	if _, ok := t.symbols[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, s.Name)
	}
	t.symbols[s.Name] = s
	return nil
}

// Remove deletes name from this table, if present.
func (t *Table) Remove(name string) {
	delete(t.symbols, name)
}

// FindLocal looks name up in this table only.
func (t *Table) FindLocal(name string) (*Symbol, bool) {
	s, ok := t.symbols[name]
	return s, ok
}

// FindSymbol looks name up in this table and then each enclosing table.
func (t *Table) FindSymbol(name string) (*Symbol, bool) {
	for cur := t; cur != nil; cur = cur.Parent {
		if s, ok := cur.symbols[name]; ok {
			return s, true
		}
	}
	return nil, false
}

// Len returns the number of symbols declared in this table.
func (t *Table) Len() int { return len(t.symbols) }

// Symbols returns this table's symbols sorted by name.
func (t *Table) Symbols() []*Symbol {
	names := make([]string, 0, len(t.symbols))
	for name := range t.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Symbol, len(names))
	for i, name := range names {
		out[i] = t.symbols[name]
	}
	return out
}

// String returns a deterministically ordered dump of the table and its parents.
func (t *Table) String() string {
	var sb strings.Builder
	for cur := t; cur != nil; cur = cur.Parent {
		if cur.Depth == 0 {
			sb.WriteString("Globals:")
		} else {
			fmt.Fprintf(&sb, "Scope %d (base %#x):", cur.Depth, cur.BaseAddress)
		}
		if cur.Len() == 0 {
			sb.WriteString(" (empty)\n")
			continue
		}
		sb.WriteString("\n")
		for _, s := range cur.Symbols() {
			fmt.Fprintf(&sb, "  %-20s  %s\n", s.Name, s)
		}
	}
	return sb.String()
}
