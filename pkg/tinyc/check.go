package tinyc

import (
	"fmt"
	"slices"
	"strings"

	"tinyc/pkg/compiler"
)

// Problem is a static finding reported by Check.
type Problem struct {
	File    string
	Pos     compiler.Pos
	Name    string
	Message string
}

func (p Problem) String() string {
	var sb strings.Builder
	if p.File != "" {
		sb.WriteString(p.File)
		sb.WriteString(": ")
	}
	fmt.Fprintf(&sb, "line %d: %s %s", p.Pos.Line, p.Message, p.Name)
	return sb.String()
}

// Check reports names that no compiled unit declares and calls whose target
// or argument count is wrong. It does not run anything.
func (s *Session) Check() []Problem {
	var problems []Problem
	for _, u := range s.units {
		for _, ref := range u.layout.Unresolved {
			// Globals declared further down still resolve at run time.
			if _, ok := s.globals.FindSymbol(ref.Spelling); ok {
				continue
			}
			problems = append(problems, Problem{File: u.name, Pos: ref.Pos, Name: ref.Spelling, Message: "undeclared identifier"})
		}
		for _, call := range u.layout.Calls {
			if p, ok := s.checkCall(call); !ok {
				p.File = u.name
				problems = append(problems, p)
			}
		}
	}
	slices.SortStableFunc(problems, func(a, b Problem) int {
		if c := strings.Compare(a.File, b.File); c != 0 {
			return c
		}
		if a.Pos.Line != b.Pos.Line {
			return a.Pos.Line - b.Pos.Line
		}
		return a.Pos.Col - b.Pos.Col
	})
	return problems
}

func (s *Session) checkCall(call *compiler.Node) (Problem, bool) {
	got := len(call.Children)
	bad := func(msg string) (Problem, bool) {
		return Problem{Pos: call.Pos, Name: call.Spelling, Message: msg}, false
	}
	if fn := s.exec.FindEntryPoint(call.Spelling); fn != nil {
		if want := len(fn.Params()); want != got {
			return bad(fmt.Sprintf("want %d arguments, got %d, in call to", want, got))
		}
		return Problem{}, true
	}
	b, ok := s.exec.FindBuiltin(call.Spelling)
	if !ok {
		return bad("undefined function")
	}
	if got < len(b.Params) || (!b.Variadic && got != len(b.Params)) {
		return bad(fmt.Sprintf("want %d arguments, got %d, in call to", len(b.Params), got))
	}
	return Problem{}, true
}
