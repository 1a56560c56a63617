package compiler

import (
	"fmt"
	"strings"

	"tinyc/pkg/symtab"
	"tinyc/pkg/value"
)

// Kind tags a syntax Node.
type Kind int

const (
	KindModule       Kind = iota // Children: declarations, functions and top-level statements
	KindEntryPoint               // Spelling: name; Argument: return Attr; Children: params..., body
	KindReferenceArg             // Spelling: name; Argument: Decl
	KindBlock                    // Children: statements
	KindDeclare                  // Children: KindName
	KindName                     // Spelling: name; Argument: Decl; Children: optional initializer
	KindAssignment               // Action: "=", "+=", ...; Children: lvalue, expression
	KindIf                       // Children: condition, then, optional else
	KindWhile                    // Children: condition, body
	KindFor                      // Children: init, condition, post, body (KindEmpty when omitted)
	KindBreak
	KindContinue
	KindReturn // Children: optional expression
	KindEmpty
	KindIntegerConstant // Argument: value.Value
	KindDoubleConstant  // Argument: value.Value
	KindStringConstant  // Argument: string
	KindReference       // Spelling: name
	KindAddress         // Children: lvalue
	KindDereference     // Children: pointer expression
	KindIndex           // Children: array or pointer, index
	KindDiadic          // Action: "+", "-", "*", "/", "%"; Children: left, right
	KindMonadic         // Action: "-", "!"; Children: operand
	KindRelation        // Action: "==", "!=", "<", "<=", ">", ">="; Children: left, right
	KindLogical         // Action: "&&", "||"; Children: left, right
	KindIncrement       // Action: "++", "--"; Argument: true when postfix; Children: lvalue
	KindCall            // Spelling: callee; Children: arguments
	KindCast            // Argument: target Attr; Children: operand
	KindSizeOf          // Argument: Attr, or Children: expression
)

var kindNames = [...]string{
	KindModule:          "Module",
	KindEntryPoint:      "EntryPoint",
	KindReferenceArg:    "ReferenceArg",
	KindBlock:           "Block",
	KindDeclare:         "Declare",
	KindName:            "Name",
	KindAssignment:      "Assignment",
	KindIf:              "If",
	KindWhile:           "While",
	KindFor:             "For",
	KindBreak:           "Break",
	KindContinue:        "Continue",
	KindReturn:          "Return",
	KindEmpty:           "Empty",
	KindIntegerConstant: "IntegerConstant",
	KindDoubleConstant:  "DoubleConstant",
	KindStringConstant:  "StringConstant",
	KindReference:       "Reference",
	KindAddress:         "Address",
	KindDereference:     "Dereference",
	KindIndex:           "Index",
	KindDiadic:          "Diadic",
	KindMonadic:         "Monadic",
	KindRelation:        "Relation",
	KindLogical:         "Logical",
	KindIncrement:       "Increment",
	KindCall:            "Call",
	KindCast:            "Cast",
	KindSizeOf:          "SizeOf",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Pos is a 1-based source position.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

// Decl describes one declared name: its type attributes and, for arrays, the
// element count.
type Decl struct {
	Attr  symtab.Attr
	Count int64
}

// Size returns the storage the declaration needs.
func (d Decl) Size() int64 {
	if d.Count > 0 {
		return d.Attr.ElementSize() * d.Count
	}
	return d.Attr.ElementSize()
}

func (d Decl) String() string {
	if d.Count > 0 {
		return fmt.Sprintf("%s[%d]", d.Attr.Base().String(), d.Count)
	}
	return d.Attr.String()
}

// Node is one vertex of the syntax tree. The interpreter only reads it.
type Node struct {
	Kind     Kind
	Spelling string
	Action   string
	Argument any
	Children []*Node
	Pos      Pos
}

// Child returns the i'th child or nil.
func (n *Node) Child(i int) *Node {
	if n == nil || i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i]
}

// Decl returns the declaration payload of a Name or ReferenceArg node.
func (n *Node) Decl() Decl {
	d, _ := n.Argument.(Decl)
	return d
}

// Attr returns the type payload of an EntryPoint, Cast or SizeOf node.
func (n *Node) Attr() symtab.Attr {
	a, _ := n.Argument.(symtab.Attr)
	return a
}

// Constant returns the literal payload of a numeric constant.
func (n *Node) Constant() value.Value {
	v, _ := n.Argument.(value.Value)
	return v
}

// Params returns the parameter nodes of an EntryPoint.
func (n *Node) Params() []*Node {
	if n.Kind != KindEntryPoint || len(n.Children) == 0 {
		return nil
	}
	return n.Children[:len(n.Children)-1]
}

// Body returns the block of an EntryPoint.
func (n *Node) Body() *Node {
	if n.Kind != KindEntryPoint || len(n.Children) == 0 {
		return nil
	}
	return n.Children[len(n.Children)-1]
}

// Walk calls fn for n and every descendant in depth-first order. Returning
// false from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// String renders the node as a one-line s-expression.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	var sb strings.Builder
	n.format(&sb)
	return sb.String()
}

func (n *Node) format(sb *strings.Builder) {
	sb.WriteString("(")
	sb.WriteString(n.Kind.String())
	if label := n.label(); label != "" {
		sb.WriteString(" ")
		sb.WriteString(label)
	}
	for _, c := range n.Children {
		sb.WriteString(" ")
		c.format(sb)
	}
	sb.WriteString(")")
}

func (n *Node) label() string {
	var parts []string
	if n.Spelling != "" {
		parts = append(parts, n.Spelling)
	}
	if n.Action != "" {
		parts = append(parts, n.Action)
	}
	switch arg := n.Argument.(type) {
	case nil:
	case value.Value:
		parts = append(parts, arg.String())
	case string:
		parts = append(parts, fmt.Sprintf("%q", arg))
	case bool:
		if arg {
			parts = append(parts, "postfix")
		}
	case fmt.Stringer:
		parts = append(parts, arg.String())
	}
	return strings.Join(parts, " ")
}

// Dump renders the tree with one node per line, indented by depth.
func (n *Node) Dump() string {
	var sb strings.Builder
	var walk func(*Node, int)
	walk = func(n *Node, depth int) {
		fmt.Fprintf(&sb, "%s%s", strings.Repeat("  ", depth), n.Kind)
		if label := n.label(); label != "" {
			fmt.Fprintf(&sb, " %s", label)
		}
		fmt.Fprintf(&sb, "  @%s\n", n.Pos)
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(n, 0)
	return sb.String()
}
