package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"tinyc/pkg/exec"
	"tinyc/pkg/tinyc"
	"tinyc/pkg/value"
)

// runFile compiles testdata/name and calls main.
func runFile(t *testing.T, name string, opts ...tinyc.Option) (*tinyc.Session, string, value.Value, error) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]tinyc.Option{tinyc.WithOutput(&out), tinyc.WithSeed(1)}, opts...)
	s := tinyc.New(opts...)
	if err := s.CompileFile(filepath.Join("testdata", name)); err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	v, err := s.ExecuteEntryPoint(context.Background(), "main")
	return s, out.String(), v, err
}

func TestPrograms(t *testing.T) {
	tests := []struct {
		file       string
		wantOut    string
		wantResult int64
	}{
		{
			file:       "fib.c",
			wantOut:    "0 1 1 2 3 5 8 13 21 34 \n",
			wantResult: 55,
		},
		{
			file:       "sieve.c",
			wantOut:    "2\n3\n5\n7\n11\n13\n17\n19\n23\n29\n31\n37\n41\n43\n47\nprimes: 15\n",
			wantResult: 15,
		},
		{
			file:       "strings.c",
			wantOut:    "HELLO, TINY WORLD\n3 l's, length 17\n",
			wantResult: 0,
		},
		{
			file:       "heap.c",
			wantOut:    "30 5\n1\n",
			wantResult: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.file, func(t *testing.T) {
			s, out, v, err := runFile(t, tc.file)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if out != tc.wantOut {
				t.Errorf("output = %q; want %q", out, tc.wantOut)
			}
			if v.Type() != value.Int || v.Long() != tc.wantResult {
				t.Errorf("main() = %s (%s); want %d", v, v.TypeName(), tc.wantResult)
			}
			// Every frame pushed by the run has been popped.
			if n := s.Storage().FrameCount(); n != 0 {
				t.Errorf("frames left = %d; want 0", n)
			}
		})
	}
}

func TestHeapIsReleased(t *testing.T) {
	s, _, _, err := runFile(t, "heap.c")
	if err != nil {
		t.Fatal(err)
	}
	stats := s.Storage().Stats()
	if stats.LiveBlocks != 0 {
		t.Errorf("live heap blocks = %d; want 0", stats.LiveBlocks)
	}
	if stats.FreeBytes != stats.Size-stats.Dynamic {
		t.Errorf("free bytes = %d; want the whole heap (%d)", stats.FreeBytes, stats.Size-stats.Dynamic)
	}
}

func TestRunawayRecursion(t *testing.T) {
	s, _, _, err := runFile(t, "runaway.c")

	var xe *exec.Error
	if !errors.As(err, &xe) || xe.Code != exec.CodeStackOverflow {
		t.Fatalf("err = %v; want STACK_OVERFLOW", err)
	}
	if n := s.Storage().FrameCount(); n != 0 {
		t.Errorf("frames left = %d; want 0", n)
	}

	// main takes one frame, so dive runs until the other 255 are in use.
	sym, ok := s.Globals().FindSymbol("depth")
	if !ok {
		t.Fatal("depth not declared")
	}
	v, err := s.Storage().GetValue(sym.Address, value.Int)
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(s.Storage().MaxFrames() - 1); v.Long() != want {
		t.Errorf("depth = %d; want %d", v.Long(), want)
	}
}

func TestSmallStorage(t *testing.T) {
	_, _, _, err := runFile(t, "runaway.c", tinyc.WithMaxFrames(10))
	if exec.CodeOf(err) != exec.CodeStackOverflow {
		t.Fatalf("err = %v; want STACK_OVERFLOW", err)
	}

	// The sieve's global array does not fit in 128 bytes.
	s := tinyc.New(tinyc.WithStorageSize(128))
	err = s.CompileFile(filepath.Join("testdata", "sieve.c"))
	if err == nil {
		t.Fatal("expected the allocation to fail")
	}
}
