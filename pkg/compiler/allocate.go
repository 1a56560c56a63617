package compiler

import (
	"fmt"
	"math"

	"tinyc/pkg/storage"
	"tinyc/pkg/symtab"
)

// DuplicateError reports a name declared twice in one scope.
type DuplicateError struct {
	Name string
	Pos  Pos
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("line %d: duplicate declaration of %s", e.Pos.Line, e.Name)
}

func (e *DuplicateError) Unwrap() error { return symtab.ErrDuplicate }

// Layout is the result of the allocation pass.
type Layout struct {
	// Globals holds every top-level variable, allocated at frame 0.
	Globals *symtab.Table
	// Functions maps entry point names to their definitions.
	Functions map[string]*Node
	// Strings maps interned literal text to its address.
	Strings map[string]int64
	// Unresolved lists references to names not declared before use.
	Unresolved []*Node
	// Calls lists every call site, for checking against Functions and builtins.
	Calls []*Node

	frames map[*Node]*Frame
}

// Frame is the local storage template of a function, block or for loop.
// Symbols carry the Offset modifier and an Address relative to the start of
// the frame; Size is the number of bytes the frame reserves on entry.
type Frame struct {
	Symbols *symtab.Table
	Size    int64
}

// Frame returns the template for a function, block or for loop node.
func (l *Layout) Frame(n *Node) (*Frame, bool) {
	f, ok := l.frames[n]
	return f, ok
}

// Allocate walks a module tree, assigns static storage to globals and interns
// string literals. Passing an existing globals table extends it, which lets a
// REPL declare globals across several inputs. On error the globals added for
// tree are removed again; the static bytes they took are not reclaimed.
func Allocate(tree *Node, mem *storage.Manager, globals *symtab.Table) (*Layout, error) {
	if globals == nil {
		globals = symtab.New(nil)
	}
	a := &allocator{
		mem: mem,
		layout: &Layout{
			Globals:   globals,
			Functions: make(map[string]*Node),
			Strings:   make(map[string]int64),
			frames:    make(map[*Node]*Frame),
		},
	}
	if mem.FrameCount() != 0 {
		return nil, fmt.Errorf("allocate globals: %d frames still active", mem.FrameCount())
	}

	for _, n := range tree.Children {
		var err error
		switch n.Kind {
		case KindEntryPoint:
			err = a.function(n)
		case KindDeclare:
			err = a.globals(n)
		default:
			err = a.resolve(n, globals, &offsets{})
		}
		if err != nil {
			for _, name := range a.added {
				globals.Remove(name)
			}
			return nil, err
		}
	}
	return a.layout, nil
}

type allocator struct {
	mem    *storage.Manager
	layout *Layout
	added  []string // globals declared by this tree
}

// offsets tracks the next frame-relative offset within one template scope.
type offsets struct{ next int64 }

// place returns the offset for a local of size bytes. A frame too large to
// represent saturates at math.MaxInt64 so that reserving it fails at run time.
func (f *offsets) place(size int64) int64 {
	addr := f.next
	if size >= math.MaxInt64-storage.Alignment-f.next {
		f.next = math.MaxInt64
		return addr
	}
	f.next += storage.Align(size)
	return addr
}

func (a *allocator) globals(n *Node) error {
	tab := a.layout.Globals
	for _, name := range n.Children {
		if _, dup := a.layout.Functions[name.Spelling]; dup {
			return &DuplicateError{Name: name.Spelling, Pos: name.Pos}
		}
		d := name.Decl()
		sym := &symtab.Symbol{
			Name:  name.Spelling,
			Attr:  d.Attr.With(symtab.Static),
			Size:  d.Size(),
			Count: d.Count,
		}
		if err := tab.AddSymbol(sym); err != nil {
			return &DuplicateError{Name: name.Spelling, Pos: name.Pos}
		}
		a.added = append(a.added, name.Spelling)
		addr, err := a.mem.AllocateAuto(sym.Size)
		if err != nil {
			return fmt.Errorf("line %d: global %s: %w", name.Pos.Line, name.Spelling, err)
		}
		sym.Address = addr
		sym.Allocated = true

		if init := name.Child(0); init != nil {
			if err := a.resolve(init, tab, &offsets{}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *allocator) function(fn *Node) error {
	if _, dup := a.layout.Functions[fn.Spelling]; dup {
		return &DuplicateError{Name: fn.Spelling, Pos: fn.Pos}
	}
	if _, dup := a.layout.Globals.FindLocal(fn.Spelling); dup {
		return &DuplicateError{Name: fn.Spelling, Pos: fn.Pos}
	}
	a.layout.Functions[fn.Spelling] = fn

	// Parameters and the outermost locals share one scope and one frame.
	params := symtab.New(a.layout.Globals)
	f := &offsets{}
	for _, p := range fn.Params() {
		if err := a.declare(params, p, f); err != nil {
			return err
		}
	}
	for _, stmt := range fn.Body().Children {
		if err := a.resolve(stmt, params, f); err != nil {
			return err
		}
	}
	a.layout.frames[fn] = &Frame{Symbols: params, Size: f.next}
	return nil
}

// declare records a local in a template table.
func (a *allocator) declare(tab *symtab.Table, n *Node, f *offsets) error {
	d := n.Decl()
	sym := &symtab.Symbol{
		Name:  n.Spelling,
		Attr:  d.Attr.With(symtab.Auto | symtab.Offset),
		Size:  d.Size(),
		Count: d.Count,
	}
	if err := tab.AddSymbol(sym); err != nil {
		return &DuplicateError{Name: n.Spelling, Pos: n.Pos}
	}
	sym.Address = f.place(sym.Size)
	return nil
}

// resolve walks a statement or expression inside scope.
func (a *allocator) resolve(n *Node, scope *symtab.Table, f *offsets) error {
	switch n.Kind {
	case KindBlock, KindFor:
		inner := symtab.New(scope)
		sub := &offsets{}
		for _, c := range n.Children {
			if err := a.resolve(c, inner, sub); err != nil {
				return err
			}
		}
		a.layout.frames[n] = &Frame{Symbols: inner, Size: sub.next}
		return nil

	case KindDeclare:
		for _, name := range n.Children {
			if err := a.declare(scope, name, f); err != nil {
				return err
			}
			if init := name.Child(0); init != nil {
				if err := a.resolve(init, scope, f); err != nil {
					return err
				}
			}
		}
		return nil

	case KindReference:
		if _, ok := scope.FindSymbol(n.Spelling); !ok {
			a.layout.Unresolved = append(a.layout.Unresolved, n)
		}
		return nil

	case KindCall:
		a.layout.Calls = append(a.layout.Calls, n)

	case KindStringConstant:
		s, _ := n.Argument.(string)
		v, err := a.mem.AllocateString(s)
		if err != nil {
			return fmt.Errorf("line %d: string literal: %w", n.Pos.Line, err)
		}
		a.layout.Strings[s] = v.Address()
		return nil
	}

	for _, c := range n.Children {
		if err := a.resolve(c, scope, f); err != nil {
			return err
		}
	}
	return nil
}
