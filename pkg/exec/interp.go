package exec

import (
	"context"
	"fmt"
	"log/slog"

	"tinyc/pkg/compiler"
	"tinyc/pkg/storage"
	"tinyc/pkg/symtab"
	"tinyc/pkg/value"
)

var diadicOps = map[string]value.Op{
	"+": value.OpAdd,
	"-": value.OpSubtract,
	"*": value.OpMultiply,
	"/": value.OpDivide,
	"%": value.OpModulo,
}

// compoundOps maps a compound assignment to its arithmetic operator.
var compoundOps = map[string]value.Op{
	"+=": value.OpAdd,
	"-=": value.OpSubtract,
	"*=": value.OpMultiply,
	"/=": value.OpDivide,
	"%=": value.OpModulo,
}

// runStatements executes list in order and stops at the first error or signal.
func (c *Context) runStatements(ctx context.Context, list []*compiler.Node) (value.Value, error) {
	var last value.Value
	for i, stmt := range list {
		c.BlockPosition = i
		if err := ctx.Err(); err != nil {
			return value.Value{}, &Error{Code: CodeFatal, Pos: stmt.Pos, Err: err}
		}
		if c.run.trace {
			c.logc(ctx, slog.LevelDebug, "exec", slog.String("kind", stmt.Kind.String()), slog.String("pos", stmt.Pos.String()))
		}
		v, err := c.exec(ctx, stmt)
		if err != nil {
			c.Err = err
			return value.Value{}, err
		}
		last = v
	}
	return last, nil
}

// exec evaluates one node.
func (c *Context) exec(ctx context.Context, n *compiler.Node) (value.Value, error) {
	switch n.Kind {
	case compiler.KindEntryPoint, compiler.KindEmpty:
		return value.Value{}, nil

	case compiler.KindBlock:
		return c.execBlock(ctx, n)

	case compiler.KindDeclare:
		return value.Value{}, c.execDeclare(ctx, n)

	case compiler.KindIf:
		return c.execIf(ctx, n)

	case compiler.KindWhile:
		return c.execWhile(ctx, n)

	case compiler.KindFor:
		return c.execFor(ctx, n)

	case compiler.KindBreak:
		return value.Value{}, signal(CodeBreak, n)

	case compiler.KindContinue:
		return value.Value{}, signal(CodeContinue, n)

	case compiler.KindReturn:
		return c.execReturn(ctx, n)

	case compiler.KindAssignment:
		return c.evalAssignment(ctx, n)

	case compiler.KindIntegerConstant, compiler.KindDoubleConstant:
		return n.Constant(), nil

	case compiler.KindStringConstant:
		s, _ := n.Argument.(string)
		v, err := c.run.mem.AllocateString(s)
		return v, wrap(err, n)

	case compiler.KindReference:
		return c.evalReference(n)

	case compiler.KindAddress:
		return c.evalAddress(ctx, n)

	case compiler.KindDereference, compiler.KindIndex:
		addr, t, err := c.lvalue(ctx, n)
		if err != nil {
			return value.Value{}, err
		}
		return c.load(n, addr, t)

	case compiler.KindDiadic:
		return c.evalDiadic(ctx, n)

	case compiler.KindMonadic:
		return c.evalMonadic(ctx, n)

	case compiler.KindRelation:
		return c.evalRelation(ctx, n)

	case compiler.KindLogical:
		return c.evalLogical(ctx, n)

	case compiler.KindIncrement:
		return c.evalIncrement(ctx, n)

	case compiler.KindCall:
		return c.evalCall(ctx, n)

	case compiler.KindCast:
		return c.evalCast(ctx, n)

	case compiler.KindSizeOf:
		return c.evalSizeOf(ctx, n)
	}
	return value.Value{}, newError(CodeUnimplementedNode, n, n.Kind.String())
}

// execBlock runs a block in a child scope backed by a new storage frame.
func (c *Context) execBlock(ctx context.Context, n *compiler.Node) (value.Value, error) {
	return c.scoped(ctx, n, func(inner *Context) (value.Value, error) {
		return inner.runStatements(ctx, n.Children)
	})
}

// scoped pushes a storage frame and a child symbol table around fn. The frame
// is popped on every exit path.
func (c *Context) scoped(ctx context.Context, n *compiler.Node, fn func(*Context) (value.Value, error)) (v value.Value, err error) {
	mem := c.run.mem
	if err := mem.PushStorage(); err != nil {
		return value.Value{}, wrap(err, n)
	}
	defer func() {
		if perr := mem.PopStorage(); perr != nil && err == nil {
			err = wrap(perr, n)
		}
	}()
	inner := c.child(n, symtab.New(c.Symbols))
	if err := inner.enterFrame(n, n); err != nil {
		return value.Value{}, err
	}
	return fn(inner)
}

// enterFrame reserves the locals of key in one piece when the allocation pass
// left a template for it. Without one, each local is allocated as it is
// declared.
func (c *Context) enterFrame(key, at *compiler.Node) error {
	mem := c.run.mem
	f := c.frame(key)
	if f == nil {
		c.Symbols.BaseAddress = mem.Current()
		return nil
	}
	base, err := mem.AllocateAuto(f.Size)
	if err != nil {
		return wrap(err, at)
	}
	c.Symbols.BaseAddress = base
	c.template = f.Symbols
	return nil
}

func (c *Context) execDeclare(ctx context.Context, n *compiler.Node) error {
	global := c.Symbols == c.run.globals
	for _, name := range n.Children {
		sym, err := c.declare(name, global)
		if err != nil {
			return err
		}
		init := name.Child(0)
		if init == nil {
			continue
		}
		v, err := c.exec(ctx, init)
		if err != nil {
			return err
		}
		if _, err := c.store(init, sym.Address, sym.Attr.ValueType(), v); err != nil {
			return err
		}
	}
	return nil
}

// declare binds a name in the active scope. A global already laid out by the
// allocation pass keeps its static address.
func (c *Context) declare(n *compiler.Node, global bool) (*symtab.Symbol, error) {
	if sym, ok := c.Symbols.FindLocal(n.Spelling); ok && global && sym.Allocated && sym.Attr.Has(symtab.Static) {
		return sym, nil
	}

	d := n.Decl()
	mod := symtab.Auto
	if global {
		mod = symtab.Static
	}
	sym := &symtab.Symbol{
		Name:  n.Spelling,
		Attr:  d.Attr.With(mod),
		Size:  d.Size(),
		Count: d.Count,
	}
	if err := c.Symbols.AddSymbol(sym); err != nil {
		return nil, &Error{Code: CodeExpectedDeclaration, Pos: n.Pos, Arg: n.Spelling, Err: err}
	}
	if t, ok := c.templateSymbol(n.Spelling); ok && !global {
		sym.Address = c.Symbols.BaseAddress + t.Address
	} else {
		addr, err := c.run.mem.AllocateAuto(sym.Size)
		if err != nil {
			return nil, wrap(err, n)
		}
		sym.Address = addr
	}
	sym.Allocated = true
	return sym, nil
}

func (c *Context) templateSymbol(name string) (*symtab.Symbol, bool) {
	if c.template == nil {
		return nil, false
	}
	t, ok := c.template.FindLocal(name)
	if !ok || !t.Attr.Has(symtab.Offset) {
		return nil, false
	}
	return t, true
}

func (c *Context) truth(ctx context.Context, n *compiler.Node) (bool, error) {
	v, err := c.exec(ctx, n)
	if err != nil {
		return false, err
	}
	ok, err := v.IsTrue()
	return ok, wrap(err, n)
}

func (c *Context) execIf(ctx context.Context, n *compiler.Node) (value.Value, error) {
	ok, err := c.truth(ctx, n.Child(0))
	if err != nil {
		return value.Value{}, err
	}
	if ok {
		return c.exec(ctx, n.Child(1))
	}
	if otherwise := n.Child(2); otherwise != nil {
		return c.exec(ctx, otherwise)
	}
	return value.Value{}, nil
}

// loopSignal consumes break and continue. It reports whether the loop stops.
func loopSignal(err error) (stop bool, out error) {
	switch CodeOf(err) {
	case CodeNone, CodeContinue:
		return false, nil
	case CodeBreak:
		return true, nil
	}
	return true, err
}

func (c *Context) execWhile(ctx context.Context, n *compiler.Node) (value.Value, error) {
	for {
		ok, err := c.truth(ctx, n.Child(0))
		if err != nil {
			return value.Value{}, err
		}
		if !ok {
			return value.Value{}, nil
		}
		if err := ctx.Err(); err != nil {
			return value.Value{}, &Error{Code: CodeFatal, Pos: n.Pos, Err: err}
		}
		_, err = c.exec(ctx, n.Child(1))
		if stop, err := loopSignal(err); stop {
			return value.Value{}, err
		}
	}
}

// execFor runs init in its own scope so that a declared loop variable is
// local to the loop.
func (c *Context) execFor(ctx context.Context, n *compiler.Node) (value.Value, error) {
	init, cond, post, body := n.Child(0), n.Child(1), n.Child(2), n.Child(3)
	return c.scoped(ctx, n, func(loop *Context) (value.Value, error) {
		if _, err := loop.exec(ctx, init); err != nil {
			return value.Value{}, err
		}
		for {
			if cond.Kind != compiler.KindEmpty {
				ok, err := loop.truth(ctx, cond)
				if err != nil {
					return value.Value{}, err
				}
				if !ok {
					return value.Value{}, nil
				}
			}
			if err := ctx.Err(); err != nil {
				return value.Value{}, &Error{Code: CodeFatal, Pos: n.Pos, Err: err}
			}
			_, err := loop.exec(ctx, body)
			if stop, err := loopSignal(err); stop {
				return value.Value{}, err
			}
			if _, err := loop.exec(ctx, post); err != nil {
				return value.Value{}, err
			}
		}
	})
}

func (c *Context) execReturn(ctx context.Context, n *compiler.Node) (value.Value, error) {
	expr := n.Child(0)
	var v value.Value
	if expr != nil {
		var err error
		if v, err = c.exec(ctx, expr); err != nil {
			return value.Value{}, err
		}
	}

	if c.fn != nil {
		ret := c.fn.Attr()
		switch {
		case ret.IsVoid() && expr != nil:
			return value.Value{}, newError(CodeVoidReturn, n, c.fn.Spelling)
		case !ret.IsVoid() && expr == nil:
			return value.Value{}, newError(CodeReturnValue, n, c.fn.Spelling)
		case !ret.IsVoid():
			cast, err := v.CastTo(ret.ValueType())
			if err != nil {
				return value.Value{}, wrap(err, n)
			}
			v = cast
		}
	}
	c.call.ReturnInfo = v
	return value.Value{}, signal(CodeReturn, n)
}

func (c *Context) lookup(n *compiler.Node) (*symtab.Symbol, error) {
	sym, ok := c.Symbols.FindSymbol(n.Spelling)
	if !ok || !sym.Allocated {
		return nil, newError(CodeUnknownIdentifier, n, n.Spelling)
	}
	return sym, nil
}

// evalReference reads a variable. An array evaluates to a pointer to its
// first element.
func (c *Context) evalReference(n *compiler.Node) (value.Value, error) {
	sym, err := c.lookup(n)
	if err != nil {
		return value.Value{}, err
	}
	if sym.Attr.Has(symtab.Array) {
		return value.NewPointer(sym.Attr.Base(), sym.Address), nil
	}
	return c.load(n, sym.Address, sym.Attr.ValueType())
}

func (c *Context) evalAddress(ctx context.Context, n *compiler.Node) (value.Value, error) {
	target := n.Child(0)
	if target.Kind == compiler.KindReference {
		sym, err := c.lookup(target)
		if err != nil {
			return value.Value{}, err
		}
		if sym.Attr.Has(symtab.Array) {
			return value.NewPointer(sym.Attr.Base(), sym.Address), nil
		}
	}
	addr, t, err := c.lvalue(ctx, target)
	if err != nil {
		return value.Value{}, err
	}
	if t.IsPointer() {
		return value.Value{}, newError(CodeBadScalar, n, "address of a pointer")
	}
	return value.NewLong(addr).MakePointer(t)
}

// lvalue resolves an assignable expression to an address and the type stored there.
func (c *Context) lvalue(ctx context.Context, n *compiler.Node) (int64, value.Type, error) {
	switch n.Kind {
	case compiler.KindReference:
		sym, err := c.lookup(n)
		if err != nil {
			return 0, 0, err
		}
		if sym.Attr.Has(symtab.Array) {
			return 0, 0, newError(CodeInvalidLvalue, n, n.Spelling)
		}
		return sym.Address, sym.Attr.ValueType(), nil

	case compiler.KindDereference:
		p, err := c.exec(ctx, n.Child(0))
		if err != nil {
			return 0, 0, err
		}
		if !p.IsPointer() {
			return 0, 0, newError(CodeBadScalar, n, "dereference of "+p.TypeName())
		}
		return c.checkAddress(n, p.Address(), p.Type().Base())

	case compiler.KindIndex:
		base, err := c.exec(ctx, n.Child(0))
		if err != nil {
			return 0, 0, err
		}
		index, err := c.exec(ctx, n.Child(1))
		if err != nil {
			return 0, 0, err
		}
		if !base.IsPointer() {
			return 0, 0, newError(CodeBadScalar, n, "index of "+base.TypeName())
		}
		if !index.Type().IsIntegral() {
			return 0, 0, newError(CodeBadScalar, n, "index of type "+index.TypeName())
		}
		elem := base.Type().Base()
		return c.checkAddress(n, base.Address()+index.Long()*value.SizeOf(elem), elem)
	}
	return 0, 0, newError(CodeInvalidLvalue, n, n.Kind.String())
}

func (c *Context) checkAddress(n *compiler.Node, addr int64, t value.Type) (int64, value.Type, error) {
	if c.run.mem.IsFault(addr) {
		return 0, 0, &Error{Code: CodeFault, Pos: n.Pos, Err: fmt.Errorf("%w: address %#x", storage.ErrFault, addr)}
	}
	return addr, t, nil
}

func (c *Context) load(n *compiler.Node, addr int64, t value.Type) (value.Value, error) {
	v, err := c.run.mem.GetValue(addr, t)
	return v, wrap(err, n)
}

// store casts v to t and writes it. It returns the stored value.
func (c *Context) store(n *compiler.Node, addr int64, t value.Type, v value.Value) (value.Value, error) {
	cast, err := v.CastTo(t)
	if err != nil {
		return value.Value{}, wrap(err, n)
	}
	if err := c.run.mem.SetValue(addr, cast); err != nil {
		return value.Value{}, wrap(err, n)
	}
	return cast, nil
}

// evalAssignment evaluates the right side first, then resolves the target.
func (c *Context) evalAssignment(ctx context.Context, n *compiler.Node) (value.Value, error) {
	v, err := c.exec(ctx, n.Child(1))
	if err != nil {
		return value.Value{}, err
	}
	addr, t, err := c.lvalue(ctx, n.Child(0))
	if err != nil {
		return value.Value{}, err
	}
	if n.Action != "=" {
		op, ok := compoundOps[n.Action]
		if !ok {
			return value.Value{}, newError(CodeUnimplementedDiadic, n, n.Action)
		}
		cur, err := c.load(n, addr, t)
		if err != nil {
			return value.Value{}, err
		}
		if v, err = cur.Apply(op, v); err != nil {
			return value.Value{}, wrap(err, n)
		}
	}
	return c.store(n, addr, t, v)
}

func (c *Context) operands(ctx context.Context, n *compiler.Node) (value.Value, value.Value, error) {
	left, err := c.exec(ctx, n.Child(0))
	if err != nil {
		return value.Value{}, value.Value{}, err
	}
	right, err := c.exec(ctx, n.Child(1))
	if err != nil {
		return value.Value{}, value.Value{}, err
	}
	return left, right, nil
}

func (c *Context) evalDiadic(ctx context.Context, n *compiler.Node) (value.Value, error) {
	op, ok := diadicOps[n.Action]
	if !ok {
		return value.Value{}, newError(CodeUnimplementedDiadic, n, n.Action)
	}
	left, right, err := c.operands(ctx, n)
	if err != nil {
		return value.Value{}, err
	}
	v, err := left.Apply(op, right)
	return v, wrap(err, n)
}

func (c *Context) evalMonadic(ctx context.Context, n *compiler.Node) (value.Value, error) {
	operand, err := c.exec(ctx, n.Child(0))
	if err != nil {
		return value.Value{}, err
	}
	var v value.Value
	switch n.Action {
	case "-":
		v, err = operand.Negate()
	case "!":
		v, err = operand.BooleanNot()
	default:
		return value.Value{}, newError(CodeUnimplementedMonadic, n, n.Action)
	}
	return v, wrap(err, n)
}

func (c *Context) evalRelation(ctx context.Context, n *compiler.Node) (value.Value, error) {
	var test func(int) bool
	switch n.Action {
	case "==":
		test = func(r int) bool { return r == 0 }
	case "!=":
		test = func(r int) bool { return r != 0 }
	case "<":
		test = func(r int) bool { return r < 0 }
	case "<=":
		test = func(r int) bool { return r <= 0 }
	case ">":
		test = func(r int) bool { return r > 0 }
	case ">=":
		test = func(r int) bool { return r >= 0 }
	default:
		return value.Value{}, newError(CodeUnimplementedRelation, n, n.Action)
	}
	left, right, err := c.operands(ctx, n)
	if err != nil {
		return value.Value{}, err
	}
	r, err := left.CompareTo(right)
	if err != nil {
		return value.Value{}, wrap(err, n)
	}
	return value.NewBoolean(test(r)), nil
}

// evalLogical short-circuits: the right operand runs only when it decides the result.
func (c *Context) evalLogical(ctx context.Context, n *compiler.Node) (value.Value, error) {
	left, err := c.truth(ctx, n.Child(0))
	if err != nil {
		return value.Value{}, err
	}
	switch n.Action {
	case "&&":
		if !left {
			return value.NewBoolean(false), nil
		}
	case "||":
		if left {
			return value.NewBoolean(true), nil
		}
	default:
		return value.Value{}, newError(CodeUnimplementedRelation, n, n.Action)
	}
	right, err := c.truth(ctx, n.Child(1))
	if err != nil {
		return value.Value{}, err
	}
	return value.NewBoolean(right), nil
}

func (c *Context) evalIncrement(ctx context.Context, n *compiler.Node) (value.Value, error) {
	addr, t, err := c.lvalue(ctx, n.Child(0))
	if err != nil {
		return value.Value{}, err
	}
	cur, err := c.load(n, addr, t)
	if err != nil {
		return value.Value{}, err
	}
	op := value.OpAdd
	if n.Action == "--" {
		op = value.OpSubtract
	}
	next, err := cur.Apply(op, value.NewInt(1))
	if err != nil {
		return value.Value{}, wrap(err, n)
	}
	stored, err := c.store(n, addr, t, next)
	if err != nil {
		return value.Value{}, err
	}
	if postfix, _ := n.Argument.(bool); postfix {
		return cur, nil
	}
	return stored, nil
}

func (c *Context) evalCast(ctx context.Context, n *compiler.Node) (value.Value, error) {
	v, err := c.exec(ctx, n.Child(0))
	if err != nil {
		return value.Value{}, err
	}
	attr := n.Attr()
	if attr.IsVoid() {
		return value.Value{}, nil
	}
	cast, err := v.CastTo(attr.ValueType())
	return cast, wrap(err, n)
}

// evalSizeOf yields the storage size of a type, a variable or an expression's value.
func (c *Context) evalSizeOf(ctx context.Context, n *compiler.Node) (value.Value, error) {
	operand := n.Child(0)
	switch {
	case operand == nil:
		return value.NewLong(n.Attr().ElementSize()), nil
	case operand.Kind == compiler.KindReference:
		sym, err := c.lookup(operand)
		if err != nil {
			return value.Value{}, err
		}
		return value.NewLong(sym.Size), nil
	case operand.Kind == compiler.KindStringConstant:
		s, _ := operand.Argument.(string)
		return value.NewLong(int64(len(s)) + 1), nil
	}
	v, err := c.exec(ctx, operand)
	if err != nil {
		return value.Value{}, err
	}
	return value.NewLong(value.SizeOf(v.Type())), nil
}

// evalCall evaluates the arguments left to right and invokes a user entry
// point, or a builtin when no entry point has the name.
func (c *Context) evalCall(ctx context.Context, n *compiler.Node) (value.Value, error) {
	args := make([]value.Value, 0, len(n.Children))
	for _, a := range n.Children {
		v, err := c.exec(ctx, a)
		if err != nil {
			return value.Value{}, err
		}
		args = append(args, v)
	}

	if fn := c.FindEntryPoint(n.Spelling); fn != nil {
		return c.invoke(ctx, fn, n, args)
	}
	if b, ok := c.FindBuiltin(n.Spelling); ok {
		return c.callBuiltin(ctx, b, n, args)
	}
	return value.Value{}, newError(CodeUnknownEntryPoint, n, n.Spelling)
}

// invoke calls a user function: it pushes a frame, binds the arguments into a
// fresh scope whose parent is the global table, runs the body and pops the
// frame on every exit path.
func (c *Context) invoke(ctx context.Context, fn, site *compiler.Node, args []value.Value) (v value.Value, err error) {
	params := fn.Params()
	if len(args) != len(params) {
		return value.Value{}, newError(CodeArgMismatch, site,
			fmt.Sprintf("%s: want %d arguments, got %d", fn.Spelling, len(params), len(args)))
	}

	mem := c.run.mem
	if err := mem.PushStorage(); err != nil {
		return value.Value{}, wrap(err, site)
	}
	defer func() {
		if perr := mem.PopStorage(); perr != nil && err == nil {
			err = wrap(perr, site)
		}
	}()

	call := &Context{
		Node:    fn,
		Symbols: symtab.New(c.run.globals),
		Parent:  c,
		Args:    args,
		fn:      fn,
		run:     c.run,
	}
	call.call = call
	if err := call.enterFrame(fn, site); err != nil {
		return value.Value{}, err
	}

	for i, p := range params {
		sym, err := call.declare(p, false)
		if err != nil {
			return value.Value{}, err
		}
		if _, err := call.store(p, sym.Address, sym.Attr.ValueType(), args[i]); err != nil {
			return value.Value{}, newError(CodeArgMismatch, site,
				fmt.Sprintf("%s: argument %d (%s) cannot be %s", fn.Spelling, i+1, p.Spelling, sym.Attr.ValueType()))
		}
	}

	_, err = call.runStatements(ctx, fn.Body().Children)
	switch CodeOf(err) {
	case CodeNone:
		if ret := fn.Attr(); !ret.IsVoid() {
			return value.Zero(ret.ValueType()), nil
		}
		return value.Value{}, nil
	case CodeReturn:
		return call.ReturnInfo, nil
	}
	return value.Value{}, err
}
