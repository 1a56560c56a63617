package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tinyc/pkg/storage"
	"tinyc/pkg/tinyc"
)

func TestDefaultOutputPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"prog.c", "prog.mem.zip"},
		{"dir/prog.tc", "dir/prog.mem.zip"},
		{"prog", "prog.mem.zip"},
	}
	for _, tc := range tests {
		if got := defaultOutputPath(tc.in); got != tc.want {
			t.Errorf("defaultOutputPath(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestRunProgramAndSnapshot(t *testing.T) {
	s := tinyc.New(tinyc.WithOutput(os.Stderr))
	if err := s.CompileString("int calls = 0; int main() { calls++; return calls * 7; }"); err != nil {
		t.Fatal(err)
	}
	got, err := runProgram(context.Background(), s, "main")
	if err != nil {
		t.Fatal(err)
	}
	if got != "7" {
		t.Errorf("result = %s; want 7", got)
	}

	path := filepath.Join(t.TempDir(), "p.mem.zip")
	if err := writeSnapshot(path, s); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := storage.ReadSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}
	sym, _ := s.Globals().FindSymbol("calls")
	v, err := mem.GetValue(sym.Address, sym.Attr.ValueType())
	if err != nil {
		t.Fatal(err)
	}
	if v.Long() != 1 {
		t.Errorf("calls in snapshot = %d; want 1", v.Long())
	}
}

func TestRunProgramWithoutEntry(t *testing.T) {
	s := tinyc.New(tinyc.WithOutput(os.Stderr))
	if err := s.CompileString("int x = 4; x * x;"); err != nil {
		t.Fatal(err)
	}
	got, err := runProgram(context.Background(), s, "main")
	if err != nil {
		t.Fatal(err)
	}
	if got != "16" {
		t.Errorf("result = %s; want 16", got)
	}
}
