// Package exec runs a TinyC syntax tree.
//
// A Context is one activation of the tree walker: the module itself, a
// function call or a nested block. Each carries the symbol table that is
// active while it runs and a link to the context that created it. All
// contexts of one run share the storage.Manager, the loaded modules, the
// builtin set and the output writer.
package exec

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"tinyc/pkg/compiler"
	"tinyc/pkg/storage"
	"tinyc/pkg/symtab"
	"tinyc/pkg/value"
)

// Context is the interpreter state for one module, call or block.
type Context struct {
	// Node is the module, entry point or block being executed.
	Node *compiler.Node
	// BlockPosition is the index of the statement currently running in Node.
	BlockPosition int
	// Symbols is the innermost active scope.
	Symbols *symtab.Table
	// Parent is the context that created this one: the caller for a function
	// call, the enclosing context for a block.
	Parent *Context
	// Err is the last error or signal raised while running Node.
	Err error
	// Args are the values bound to the parameters of a call.
	Args []value.Value
	// ReturnInfo is the value of the last return executed in this call.
	ReturnInfo value.Value

	// call is the context of the enclosing function call, or the root.
	call *Context
	fn   *compiler.Node
	// template holds the frame offsets of Symbols' locals, or nil when the
	// tree did not go through the allocation pass.
	template *symtab.Table

	run *session
}

// session is the state shared by every context of one run.
type session struct {
	mem      *storage.Manager
	globals  *symtab.Table
	modules  []*compiler.Node
	layouts  []*compiler.Layout
	builtins map[string]*Builtin

	out          io.Writer
	logger       *slog.Logger
	rng          *rand.Rand
	fatalAsserts bool
	trace        bool
	aborted      bool
}

// Option configures a root Context.
type Option func(*session)

// WithOutput sets where printf, puts and putchar write. The default is stdout.
func WithOutput(w io.Writer) Option {
	return func(r *session) {
		if w != nil {
			r.out = w
		}
	}
}

// WithLogger sets the logger used for the execution trace and warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *session) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSeed makes rand deterministic.
func WithSeed(seed uint64) Option {
	return func(r *session) { r.rng = newRand(seed) }
}

// WithFatalAsserts makes a failed assert abort the run instead of logging a warning.
func WithFatalAsserts(on bool) Option {
	return func(r *session) { r.fatalAsserts = on }
}

// WithTrace logs every executed statement at debug level.
func WithTrace(on bool) Option {
	return func(r *session) { r.trace = on }
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// New creates a root context over mem. globals holds the symbols laid out by
// compiler.Allocate; nil starts with an empty global scope.
func New(mem *storage.Manager, globals *symtab.Table, opts ...Option) *Context {
	if globals == nil {
		globals = symtab.New(nil)
	}
	r := &session{
		mem:      mem,
		globals:  globals,
		builtins: builtins(),
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	if r.rng == nil {
		r.rng = newRand(uint64(time.Now().UnixNano()))
	}
	c := &Context{Symbols: globals, run: r}
	c.call = c
	return c
}

// Storage returns the shared storage manager.
func (c *Context) Storage() *storage.Manager { return c.run.mem }

// Globals returns the module scope.
func (c *Context) Globals() *symtab.Table { return c.run.globals }

// Aborted reports whether a fatal assert has stopped the run.
func (c *Context) Aborted() bool { return c.run.aborted }

// Load registers the entry points of a module without running it. layout,
// when not nil, is the result of compiler.Allocate for tree; its frame
// templates then place the locals of tree's functions and blocks.
func (c *Context) Load(tree *compiler.Node, layout *compiler.Layout) {
	if layout != nil && !slices.Contains(c.run.layouts, layout) {
		c.run.layouts = append(c.run.layouts, layout)
	}
	if tree == nil || tree.Kind != compiler.KindModule {
		return
	}
	if !slices.Contains(c.run.modules, tree) {
		c.run.modules = append(c.run.modules, tree)
	}
}

// frame returns the allocation template for a function, block or for loop.
func (c *Context) frame(n *compiler.Node) *compiler.Frame {
	for _, l := range c.run.layouts {
		if f, ok := l.Frame(n); ok {
			return f
		}
	}
	return nil
}

// Execute runs tree. A module runs its top-level declarations and statements
// in order; any other node is evaluated in the global scope. The result is the
// value of the last statement, or the value of a top-level return.
func (c *Context) Execute(ctx context.Context, tree *compiler.Node) (value.Value, error) {
	return c.ExecuteWithSymbols(ctx, tree, c.Symbols)
}

// ExecuteWithSymbols is Execute with symbols as the innermost scope.
func (c *Context) ExecuteWithSymbols(ctx context.Context, tree *compiler.Node, symbols *symtab.Table) (value.Value, error) {
	if tree == nil {
		return value.Value{}, newError(CodeUnknownStatement, nil, "")
	}
	child := c.child(tree, symbols)

	var (
		v   value.Value
		err error
	)
	if tree.Kind == compiler.KindModule {
		c.Load(tree, nil)
		v, err = child.runStatements(ctx, tree.Children)
	} else {
		v, err = child.exec(ctx, tree)
	}
	return c.finish(child, v, err)
}

// ExecuteEntryPoint loads tree, when given, and calls the function name with
// args.
func (c *Context) ExecuteEntryPoint(ctx context.Context, tree *compiler.Node, name string, args []value.Value) (value.Value, error) {
	c.Load(tree, nil)
	fn := c.FindEntryPoint(name)
	if fn == nil {
		return value.Value{}, newError(CodeUnknownEntryPoint, tree, name)
	}
	v, err := c.invoke(ctx, fn, fn, args)
	return c.finish(c, v, err)
}

// finish turns a signal that escaped to the top into its final meaning.
func (c *Context) finish(child *Context, v value.Value, err error) (value.Value, error) {
	switch CodeOf(err) {
	case CodeNone:
		return v, nil
	case CodeReturn:
		return child.call.ReturnInfo, nil
	}
	c.Err = err
	return value.Value{}, err
}

// FindEntryPoint returns the function named name from the loaded modules, or
// nil. Later modules shadow earlier ones.
func (c *Context) FindEntryPoint(name string) *compiler.Node {
	for i := len(c.run.modules) - 1; i >= 0; i-- {
		for _, n := range c.run.modules[i].Children {
			if n.Kind == compiler.KindEntryPoint && n.Spelling == name {
				return n
			}
		}
	}
	return nil
}

// FindBuiltin returns the builtin function named name.
func (c *Context) FindBuiltin(name string) (*Builtin, bool) {
	b, ok := c.run.builtins[name]
	return b, ok
}

// HasUnresolvedNames reports whether n refers to a name that is neither
// visible from c nor declared inside n.
func (c *Context) HasUnresolvedNames(n *compiler.Node) bool {
	return len(c.UnresolvedNames(n)) > 0
}

// UnresolvedNames lists, in order of appearance, the references in n that do
// not resolve. Calls are checked against entry points and builtins.
func (c *Context) UnresolvedNames(n *compiler.Node) []string {
	declared := make(map[string]bool)
	n.Walk(func(x *compiler.Node) bool {
		switch x.Kind {
		case compiler.KindName, compiler.KindReferenceArg, compiler.KindEntryPoint:
			declared[x.Spelling] = true
		}
		return true
	})

	var missing []string
	seen := make(map[string]bool)
	n.Walk(func(x *compiler.Node) bool {
		var ok bool
		switch x.Kind {
		case compiler.KindReference:
			_, ok = c.Symbols.FindSymbol(x.Spelling)
		case compiler.KindCall:
			_, ok = c.FindBuiltin(x.Spelling)
			ok = ok || c.FindEntryPoint(x.Spelling) != nil
		default:
			return true
		}
		if !ok && !declared[x.Spelling] && !seen[x.Spelling] {
			seen[x.Spelling] = true
			missing = append(missing, x.Spelling)
		}
		return true
	})
	return missing
}

// child creates the context for a nested block running in scope.
func (c *Context) child(n *compiler.Node, scope *symtab.Table) *Context {
	return &Context{
		Node:    n,
		Symbols: scope,
		Parent:  c,
		call:    c.call,
		fn:      c.fn,
		run:     c.run,
	}
}

// functionName is the enclosing function, for log records.
func (c *Context) functionName() string {
	if c.fn == nil {
		return "<module>"
	}
	return c.fn.Spelling
}
