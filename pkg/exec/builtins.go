package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"tinyc/pkg/compiler"
	"tinyc/pkg/value"
)

// ErrFormat is returned by printf for a malformed conversion.
var ErrFormat = errors.New("bad format")

var charPtr = value.Char.PointerTo()

// Builtin is a function implemented by the interpreter rather than by TinyC
// source.
type Builtin struct {
	Name string
	// Params are the leading parameter types. Arguments are cast to them.
	Params   []value.Type
	Variadic bool
	// Returns is value.Undefined for a void builtin.
	Returns value.Type
	Fn      func(ctx context.Context, c *Context, n *compiler.Node, args []value.Value) (value.Value, error)
}

func builtins() map[string]*Builtin {
	list := []*Builtin{
		{Name: "printf", Params: []value.Type{charPtr}, Variadic: true, Returns: value.Int, Fn: builtinPrintf},
		{Name: "puts", Params: []value.Type{charPtr}, Returns: value.Int, Fn: builtinPuts},
		{Name: "putchar", Params: []value.Type{value.Int}, Returns: value.Int, Fn: builtinPutchar},
		{Name: "strlen", Params: []value.Type{charPtr}, Returns: value.Long, Fn: builtinStrlen},
		{Name: "malloc", Params: []value.Type{value.Long}, Returns: charPtr, Fn: builtinMalloc},
		{Name: "free", Params: []value.Type{charPtr}, Fn: builtinFree},
		{Name: "rand", Returns: value.Int, Fn: builtinRand},
		{Name: "srand", Params: []value.Type{value.Long}, Fn: builtinSrand},
		{Name: "abs", Params: []value.Type{value.Int}, Returns: value.Int, Fn: builtinAbs},
		{Name: "assert", Params: []value.Type{value.Boolean}, Fn: builtinAssert},
		{Name: "memstat", Fn: builtinMemstat},
	}
	m := make(map[string]*Builtin, len(list))
	for _, b := range list {
		m[b.Name] = b
	}
	return m
}

// callBuiltin checks arity and casts the fixed arguments before calling b.
func (c *Context) callBuiltin(ctx context.Context, b *Builtin, n *compiler.Node, args []value.Value) (value.Value, error) {
	if len(args) < len(b.Params) || (!b.Variadic && len(args) != len(b.Params)) {
		return value.Value{}, newError(CodeArgMismatch, n,
			fmt.Sprintf("%s: want %d arguments, got %d", b.Name, len(b.Params), len(args)))
	}
	for i, t := range b.Params {
		v, err := coerce(args[i], t)
		if err != nil {
			return value.Value{}, newError(CodeArgMismatch, n,
				fmt.Sprintf("%s: argument %d is %s, want %s", b.Name, i+1, args[i].TypeName(), t))
		}
		args[i] = v
	}
	if c.run.trace {
		c.logc(ctx, slog.LevelDebug, "builtin", slog.String("name", b.Name), slog.Int("args", len(args)))
	}
	return b.Fn(ctx, c, n, args)
}

// coerce converts an argument to a parameter type. Any pointer, or an
// integer used as an address, is accepted for a pointer parameter.
func coerce(v value.Value, t value.Type) (value.Value, error) {
	if t.IsPointer() {
		if !v.IsPointer() && !v.Type().IsIntegral() {
			return value.Value{}, fmt.Errorf("%w: %s is not an address", value.ErrBadScalar, v.TypeName())
		}
		return value.NewPointer(t.Base(), v.Address()), nil
	}
	if v.IsPointer() && t != value.Boolean {
		return value.Value{}, fmt.Errorf("%w: pointer passed as %s", value.ErrBadScalar, t)
	}
	return v.CastTo(t)
}

func (c *Context) text(n *compiler.Node, p value.Value) (string, error) {
	s, err := c.run.mem.GetString(p.Address())
	return s, wrap(err, n)
}

func (c *Context) write(n *compiler.Node, s string) (int, error) {
	written, err := io.WriteString(c.run.out, s)
	if err != nil {
		return written, &Error{Code: CodeError, Pos: n.Pos, Err: err}
	}
	return written, nil
}

func builtinPrintf(ctx context.Context, c *Context, n *compiler.Node, args []value.Value) (value.Value, error) {
	format, err := c.text(n, args[0])
	if err != nil {
		return value.Value{}, err
	}
	s, err := c.formatC(format, args[1:])
	if errors.Is(err, ErrFormat) {
		return value.Value{}, &Error{Code: CodeArgMismatch, Pos: n.Pos, Arg: "printf", Err: err}
	}
	if err != nil {
		return value.Value{}, wrap(err, n)
	}
	written, err := c.write(n, s)
	return value.NewInt(int32(written)), err
}

func builtinPuts(ctx context.Context, c *Context, n *compiler.Node, args []value.Value) (value.Value, error) {
	s, err := c.text(n, args[0])
	if err != nil {
		return value.Value{}, err
	}
	written, err := c.write(n, s+"\n")
	return value.NewInt(int32(written)), err
}

func builtinPutchar(ctx context.Context, c *Context, n *compiler.Node, args []value.Value) (value.Value, error) {
	ch := byte(args[0].Int())
	_, err := c.write(n, string([]byte{ch}))
	return value.NewInt(int32(ch)), err
}

func builtinStrlen(ctx context.Context, c *Context, n *compiler.Node, args []value.Value) (value.Value, error) {
	s, err := c.text(n, args[0])
	if err != nil {
		return value.Value{}, err
	}
	return value.NewLong(int64(len(s))), nil
}

// builtinMalloc returns a null pointer when the heap is exhausted.
func builtinMalloc(ctx context.Context, c *Context, n *compiler.Node, args []value.Value) (value.Value, error) {
	addr, err := c.run.mem.AllocateDynamic(args[0].Long())
	if err != nil {
		c.logc(ctx, slog.LevelWarn, "malloc failed",
			slog.Int64("size", args[0].Long()), slog.String("pos", n.Pos.String()), slog.Any("error", err))
		return value.NewPointer(value.Char, 0), nil
	}
	return value.NewPointer(value.Char, addr), nil
}

func builtinFree(ctx context.Context, c *Context, n *compiler.Node, args []value.Value) (value.Value, error) {
	addr := args[0].Address()
	if addr == 0 {
		return value.Value{}, nil
	}
	return value.Value{}, wrap(c.run.mem.Free(addr), n)
}

// randMax matches the C library's RAND_MAX.
const randMax = 32767

func builtinRand(ctx context.Context, c *Context, _ *compiler.Node, _ []value.Value) (value.Value, error) {
	return value.NewInt(c.run.rng.Int32N(randMax + 1)), nil
}

func builtinSrand(ctx context.Context, c *Context, _ *compiler.Node, args []value.Value) (value.Value, error) {
	c.run.rng = newRand(uint64(args[0].Long()))
	return value.Value{}, nil
}

func builtinAbs(ctx context.Context, _ *Context, _ *compiler.Node, args []value.Value) (value.Value, error) {
	if args[0].Int() < 0 {
		return args[0].Negate()
	}
	return args[0], nil
}

// builtinAssert either aborts the run or logs a warning, depending on
// WithFatalAsserts.
func builtinAssert(ctx context.Context, c *Context, n *compiler.Node, args []value.Value) (value.Value, error) {
	if ok, _ := args[0].IsTrue(); ok {
		return value.Value{}, nil
	}
	if c.run.fatalAsserts {
		c.run.aborted = true
		return value.Value{}, &Error{Code: CodeFatal, Pos: n.Pos, Arg: "assertion failed"}
	}
	c.logc(ctx, slog.LevelWarn, "assertion failed",
		slog.String("code", CodeAssert.String()), slog.String("pos", n.Pos.String()))
	return value.Value{}, nil
}

func builtinMemstat(ctx context.Context, c *Context, _ *compiler.Node, _ []value.Value) (value.Value, error) {
	c.run.mem.Stats().WriteSummary(c.run.out)
	return value.Value{}, nil
}

// formatC renders a C printf format. Supported conversions are d i u x X o c
// s f e E g G p and %%, with flags, width, precision and the l/h length
// modifiers.
func (c *Context) formatC(format string, args []value.Value) (string, error) {
	var sb strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' {
			sb.WriteByte(ch)
			continue
		}
		start := i
		i++
		for i < len(format) && strings.IndexByte("-+ #0", format[i]) >= 0 {
			i++
		}
		for i < len(format) && (format[i] >= '0' && format[i] <= '9' || format[i] == '.') {
			i++
		}
		spec := format[start:i]
		for i < len(format) && (format[i] == 'l' || format[i] == 'h') {
			i++
		}
		if i >= len(format) {
			return "", fmt.Errorf("%w: incomplete conversion %q", ErrFormat, format[start:])
		}
		verb := format[i]
		if verb == '%' {
			sb.WriteByte('%')
			continue
		}
		if next >= len(args) {
			return "", fmt.Errorf("%w: missing argument for %%%c", ErrFormat, verb)
		}
		arg := args[next]
		next++

		switch verb {
		case 'd', 'i':
			fmt.Fprintf(&sb, spec+"d", arg.Long())
		case 'u':
			fmt.Fprintf(&sb, spec+"d", uint32(arg.Long()))
		case 'x', 'X', 'o':
			fmt.Fprintf(&sb, spec+string(verb), arg.Long())
		case 'c':
			fmt.Fprintf(&sb, spec+"c", rune(uint8(arg.Long())))
		case 's':
			s := arg.Text()
			if arg.IsPointer() {
				text, err := c.run.mem.GetString(arg.Address())
				if err != nil {
					return "", err
				}
				s = text
			}
			fmt.Fprintf(&sb, spec+"s", s)
		case 'f', 'e', 'E', 'g', 'G':
			fmt.Fprintf(&sb, spec+string(verb), arg.Double())
		case 'p':
			fmt.Fprintf(&sb, "%#x", arg.Address())
		default:
			return "", fmt.Errorf("%w: unknown conversion %%%c", ErrFormat, verb)
		}
	}
	return sb.String(), nil
}
