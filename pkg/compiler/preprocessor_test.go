package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func TestPreprocessDefines(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		expected string
	}{
		{
			name: "Simple Define",
			src: `
#define A 10
int x = A;
`,
			expected: `

int x = 10;
`,
		},
		{
			name: "Nested Define",
			src: `
#define OFFSET 10
#define BASE (0x100 + OFFSET)
int y = BASE;
`,
			expected: `


int y = (0x100 + 10);
`,
		},
		{
			name: "String Literal Ignored",
			src: `
#define A 10
char *s = "A";
`,
			expected: `

char *s = "A";
`,
		},
		{
			name: "Word Boundary",
			src: `
#define A 10
int AA = A;
`,
			expected: `

int AA = 10;
`,
		},
		{
			name: "Function-like Macro",
			src: `
#define MAX(a, b) ((a) > (b) ? (a) : (b))
#define SQ(x) ((x) * (x))
int y = SQ(n + 1);
`,
			expected: `


int y = ((n + 1) * (n + 1));
`,
		},
		{
			name: "Self Reference Stops",
			src: `
#define X X + 1
int y = X;
`,
			expected: `

int y = X + 1;
`,
		},
		{
			name: "Undef",
			src: `
#define N 3
int a = N;
#undef N
int b = N;
`,
			expected: `

int a = 3;

int b = N;
`,
		},
		{
			name: "Ifdef Else",
			src: `
#define DEBUG
#ifdef DEBUG
int level = 2;
#else
int level = 0;
#endif
#ifndef DEBUG
int quiet = 1;
#endif
`,
			expected: `


int level = 2;






`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Preprocess(tt.src, ".")
			if err != nil {
				t.Fatalf("Preprocess failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Preprocess() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPreprocessErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"Else Without Ifdef", "#else", "line 1: #else without #ifdef"},
		{"Unterminated Ifdef", "\n#ifdef X\nint a;", "line 2: unterminated #ifdef"},
		{"Unknown Directive", "#pragma once", "unknown directive #pragma"},
		{"Bad Include", "#include <stdio.h>", "invalid include directive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Preprocess(tt.src, ".")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Preprocess() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestPreprocessIncludes(t *testing.T) {
	tmpDir := t.TempDir()

	header := "int user_function(int x); // declared here\nint counter;"
	if err := os.WriteFile(filepath.Join(tmpDir, "user.h"), []byte(header), 0644); err != nil {
		t.Fatalf("Failed to write user.h: %v", err)
	}

	src := "#include \"user.h\"\n#include \"user.h\"\nint main() { return 0; }"
	processed, err := Preprocess(src, tmpDir)
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}

	lines := strings.Split(processed, "\n")
	if len(lines) != 3 {
		t.Fatalf("line count changed: %q", processed)
	}
	if strings.Contains(lines[0], "declared here") || !strings.Contains(lines[0], "int counter;") {
		t.Errorf("included text = %q", lines[0])
	}
	if lines[1] != "" {
		t.Errorf("second include was expanded again: %q", lines[1])
	}
}

func TestPreprocessIncludeFS(t *testing.T) {
	fsys := fstest.MapFS{
		"lib/a.h": {Data: []byte("#include \"b.h\"\nint a;")},
		"lib/b.h": {Data: []byte("#include \"a.h\"\nint b;")},
		"ok.h":    {Data: []byte("#define LIMIT 4")},
	}

	p := NewPreprocessorFS(fsys)
	got, err := p.Process("#include \"ok.h\"\nint n = LIMIT;", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(got, "int n = 4;") {
		t.Errorf("got %q", got)
	}

	_, err = NewPreprocessorFS(fsys).Process("#include \"lib/a.h\"", "")
	if !errors.Is(err, ErrIncludeCycle) {
		t.Errorf("expected include cycle, got %v", err)
	}
}
