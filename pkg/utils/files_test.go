package utils

import (
	"path/filepath"
	"testing"
)

func TestGetPathInfo(t *testing.T) {
	full, dir, err := GetPathInfo(filepath.Join("progs", "..", "progs", "fib.c"))
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(full) {
		t.Errorf("full path %q is not absolute", full)
	}
	if filepath.Base(full) != "fib.c" || filepath.Base(dir) != "progs" {
		t.Errorf("got (%q, %q)", full, dir)
	}
}

func TestWithExt(t *testing.T) {
	tests := []struct {
		path, ext, want string
	}{
		{"prog.c", ".mem.zip", "prog.mem.zip"},
		{"dir/prog", ".mem.zip", "dir/prog.mem.zip"},
		{"a.b/prog.tc", ".c", "a.b/prog.c"},
	}
	for _, tt := range tests {
		if got := WithExt(tt.path, tt.ext); got != tt.want {
			t.Errorf("WithExt(%q, %q) = %q; want %q", tt.path, tt.ext, got, tt.want)
		}
	}
}
