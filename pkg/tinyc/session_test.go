package tinyc

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"tinyc/pkg/compiler"
	"tinyc/pkg/exec"
	"tinyc/pkg/symtab"
	"tinyc/pkg/value"
)

func newSession(opts ...Option) (*Session, *bytes.Buffer, *bytes.Buffer) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	opts = append([]Option{WithOutput(out), WithDiagnostics(diag), WithSeed(1)}, opts...)
	return New(opts...), out, diag
}

func TestCompileAndExecute(t *testing.T) {
	s, out, _ := newSession()
	src := `
#define N 5
int fib(int n) {
	if (n < 2) return n;
	return fib(n - 1) + fib(n - 2);
}
for (int i = 0; i < N; i++)
	printf("%d ", fib(i));
printf("\n");
`
	require.NoError(t, s.CompileString(src))
	_, err := s.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0 1 1 2 3 \n", out.String())

	// Nothing left to run.
	v, err := s.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, value.Undefined, v.Type())
}

func TestExecuteEntryPoint(t *testing.T) {
	s, _, _ := newSession()
	require.NoError(t, s.CompileString("int scale = 3; long mul(int a, long b) { return a * b * scale; }"))

	v, err := s.ExecuteEntryPoint(context.Background(), "mul", value.NewInt(2), value.NewLong(7))
	require.NoError(t, err)
	require.Equal(t, value.Long, v.Type())
	require.EqualValues(t, 42, v.Long())
	require.Zero(t, s.Storage().FrameCount())

	_, err = s.ExecuteEntryPoint(context.Background(), "mul", value.NewInt(2))
	require.Equal(t, exec.CodeArgMismatch, exec.CodeOf(err))
}

func TestUnitsShareGlobals(t *testing.T) {
	s, out, _ := newSession()
	require.NoError(t, s.CompileString("int counter = 10; void bump() { counter++; }"))
	require.NoError(t, s.CompileString(`bump(); bump(); printf("%d\n", counter);`))
	_, err := s.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, "12\n", out.String())
}

func TestCompileFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "square.h"), []byte("int square(int v) { return v * v; } // helper\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.c"), []byte("#include \"square.h\"\nint r = square(9);\n"), 0o644))

	s, _, _ := newSession()
	require.NoError(t, s.CompileFile(filepath.Join(dir, "main.c")))
	_, err := s.Execute(context.Background())
	require.NoError(t, err)

	sym, ok := s.Globals().FindSymbol("r")
	require.True(t, ok)
	v, err := s.Storage().GetValue(sym.Address, value.Int)
	require.NoError(t, err)
	require.EqualValues(t, 81, v.Long())

	err = s.CompileFile(filepath.Join(dir, "missing.c"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestEvaluate(t *testing.T) {
	s, out, _ := newSession()
	ctx := context.Background()

	steps := []struct {
		input string
		want  int64
	}{
		{"int x = 3;", 0},
		{"x * 2", 6},
		{"int sq(int v) { return v * v; }", 0},
		{"sq(x)", 9},
		{"x = x + 1;", 4},
		{"x += 10", 14},
		{"#define TWICE(a) ((a) * 2)\nTWICE(x);", 28},
	}
	for _, step := range steps {
		v, err := s.Evaluate(ctx, step.input)
		require.NoError(t, err, step.input)
		require.EqualValues(t, step.want, v.Long(), step.input)
	}

	_, err := s.Evaluate(ctx, `puts("hi");`)
	require.NoError(t, err)
	require.Equal(t, "hi\n", out.String())

	_, err = s.Evaluate(ctx, "nope + 1")
	require.ErrorIs(t, err, ErrUnresolved)

	_, err = s.Evaluate(ctx, "int x;")
	require.ErrorIs(t, err, symtab.ErrDuplicate)

	_, err = s.Evaluate(ctx, "int = ;")
	var syn *compiler.SyntaxError
	require.ErrorAs(t, err, &syn)

	// A rejected input leaves no half-declared globals behind.
	_, err = s.Evaluate(ctx, "int b; int b;")
	require.ErrorIs(t, err, symtab.ErrDuplicate)
	_, err = s.Evaluate(ctx, "int b = 3;")
	require.NoError(t, err)
	v, err := s.Evaluate(ctx, "b + x")
	require.NoError(t, err)
	require.EqualValues(t, 17, v.Long())
}

func TestErrorsCarrySnippet(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		want  string
		exact bool
	}{
		{
			name:  "runtime",
			src:   "int a;\na = b + 1;",
			want:  "line 2: unknown identifier b\n  |> a = b + 1;",
			exact: true,
		},
		{
			name:  "duplicate",
			src:   "int x;\nint y; int x;",
			want:  "line 2: duplicate declaration of x\n  |> int y; int x;",
			exact: true,
		},
		{
			name: "syntax",
			src:  "int x = 1\nint y;",
			want: "\n  |> int y;",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newSession()
			err := s.CompileString(tt.src)
			if err == nil {
				_, err = s.Execute(context.Background())
			}
			require.Error(t, err)
			if tt.exact {
				require.Equal(t, tt.want, err.Error())
			} else {
				require.Contains(t, err.Error(), tt.want)
			}

			var e *Error
			require.True(t, errors.As(err, &e))
		})
	}
}

func TestCheck(t *testing.T) {
	s, _, _ := newSession()
	src := `int f(int a) {
	return a + missing;
}
void g() {
	f(1, 2);
	h();
	printf();
	printf("%d %d\n", 1, 2);
	f(late);
}
int late = 1;
`
	require.NoError(t, s.CompileString(src))

	var got []string
	for _, p := range s.Check() {
		got = append(got, p.String())
	}
	want := []string{
		"line 2: undeclared identifier missing",
		"line 5: want 1 arguments, got 2, in call to f",
		"line 6: undefined function h",
		"line 7: want 1 arguments, got 0, in call to printf",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Check() mismatch (-want +got):\n%s", diff)
	}
}

func TestFlags(t *testing.T) {
	t.Run("dumps and summary", func(t *testing.T) {
		s, _, diag := newSession(WithFlags(DumpTree | DumpSymbols | MemorySummary))
		require.NoError(t, s.CompileString("int g = 1;"))
		_, err := s.Execute(context.Background())
		require.NoError(t, err)
		require.Contains(t, diag.String(), "Module")
		require.Contains(t, diag.String(), "static int g")
		require.Contains(t, diag.String(), "memory: ")
	})

	t.Run("fatal asserts", func(t *testing.T) {
		s, _, _ := newSession(WithFlags(FatalAsserts))
		require.NoError(t, s.CompileString("assert(0);"))
		_, err := s.Execute(context.Background())
		require.Equal(t, exec.CodeFatal, exec.CodeOf(err))
		require.True(t, s.Context().Aborted())
	})

	t.Run("trace execution logs at debug", func(t *testing.T) {
		s, _, diag := newSession(WithFlags(TraceExecution))
		require.NoError(t, s.CompileString("int g = 1;"))
		_, err := s.Execute(context.Background())
		require.NoError(t, err)
		require.Contains(t, diag.String(), "msg=exec")
	})

	t.Run("names", func(t *testing.T) {
		require.Equal(t, "none", Flags(0).String())
		require.Equal(t, "dump-tree|fatal-asserts", (DumpTree | FatalAsserts).String())
		f, ok := ParseFlag("trace-memory")
		require.True(t, ok)
		require.Equal(t, TraceMemory, f)
		_, ok = ParseFlag("bogus")
		require.False(t, ok)
	})
}

func TestDeterministicRand(t *testing.T) {
	draw := func() string {
		s, out, _ := newSession(WithSeed(42))
		require.NoError(t, s.CompileString(`printf("%d %d %d", rand(), rand(), rand());`))
		_, err := s.Execute(context.Background())
		require.NoError(t, err)
		return out.String()
	}
	require.Equal(t, draw(), draw())
}

func TestStorageOptions(t *testing.T) {
	s, _, _ := newSession(WithStorageSize(4096), WithMaxFrames(4))
	require.EqualValues(t, 4096, s.Storage().Size())
	require.Equal(t, 4, s.Storage().MaxFrames())

	require.NoError(t, s.CompileString("int deep(int n) { if (n == 0) return 0; return deep(n - 1); }"))
	_, err := s.ExecuteEntryPoint(context.Background(), "deep", value.NewInt(3))
	require.NoError(t, err)
	_, err = s.ExecuteEntryPoint(context.Background(), "deep", value.NewInt(10))
	require.Equal(t, exec.CodeStackOverflow, exec.CodeOf(err))
	require.Zero(t, s.Storage().FrameCount())
}
