package main

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tinyc/pkg/tinyc"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunFiles(t *testing.T) {
	dir := t.TempDir()
	lib := writeFile(t, dir, "lib.c", "int twice(int v) { return 2 * v; }\n")
	prog := writeFile(t, dir, "main.c", `int main() {
	printf("%d\n", twice(LIMIT));
	return 3;
}
`)

	code, stdout, stderr := runCLI(t, "", "-D", "LIMIT=21", "-entry", "main", lib, prog)
	require.Equal(t, 3, code, stderr)
	require.Equal(t, "42\n", stdout)
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.c", "int x;\nx = y;\n")

	code, _, stderr := runCLI(t, "", bad)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "line 2: unknown identifier y")
	require.Contains(t, stderr, "|> x = y;")

	code, _, _ = runCLI(t, "", "-nosuchflag")
	require.Equal(t, 2, code)
}

func TestEval(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "-e", "6 * 7")
	require.Equal(t, 0, code)
	require.Equal(t, "42\n", stdout)

	code, stdout, _ = runCLI(t, "", "-e", `puts("hi");`)
	require.Equal(t, 0, code)
	require.Equal(t, "hi\n", stdout)
}

func TestPipedStdin(t *testing.T) {
	code, stdout, stderr := runCLI(t, "int i; for (i = 0; i < 3; i++) putchar('a' + i);", "-memory-summary")
	require.Equal(t, 0, code)
	require.Equal(t, "abc", stdout)
	require.Contains(t, stderr, "memory: ")
}

func TestFailedAssertLogsWarning(t *testing.T) {
	code, _, stderr := runCLI(t, "assert(1 > 2);")
	require.Equal(t, 0, code)
	require.Contains(t, stderr, "level=WARN")
	require.Contains(t, stderr, "assertion failed")

	code, _, _ = runCLI(t, "assert(1 > 2);", "-fatal-asserts")
	require.Equal(t, 1, code)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "tinyc.toml", `
storage_size = 2048
max_frames = 8
entry = "main"
seed = 7
flags = ["fatal-asserts", "memory-summary"]

[defines]
GREETING = "\"hello\""
`)

	opts, err := parseOptions([]string{"-config", cfg, "-frames", "16", "-bogus"}, &bytes.Buffer{})
	require.Error(t, err)
	require.Nil(t, opts)

	opts, err = parseOptions([]string{"-config", cfg, "-frames", "16", "-memory-summary=false", "x.c"}, &bytes.Buffer{})
	require.NoError(t, err)
	require.EqualValues(t, 2048, opts.StorageSize)
	require.Equal(t, 16, opts.MaxFrames)
	require.Equal(t, "main", opts.Entry)
	require.True(t, opts.seedSet)
	require.EqualValues(t, 7, opts.Seed)
	require.Equal(t, tinyc.FatalAsserts, opts.flags)
	require.Equal(t, map[string]string{"GREETING": `"hello"`}, opts.Defines)
	require.Equal(t, []string{"x.c"}, opts.args)

	prog := writeFile(t, dir, "p.c", "int main() { puts(GREETING); return 0; }\n")
	code, stdout, stderr := runCLI(t, "", "-config", cfg, prog)
	require.Equal(t, 0, code, stderr)
	require.Equal(t, "hello\n", stdout)
	require.Contains(t, stderr, "frames: 0 of 8")

	bad := writeFile(t, dir, "bad.toml", "storage_sise = 1\n")
	_, err = parseOptions([]string{"-config", bad}, &bytes.Buffer{})
	require.ErrorContains(t, err, "unknown keys")
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "mem.zip")
	code, _, _ := runCLI(t, "char *p = malloc(16);", "-snapshot", snap)
	require.Equal(t, 0, code)

	r, err := zip.OpenReader(snap)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	require.ElementsMatch(t, []string{"storage_state.json", "memory.bin"}, names)
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.c", "int f(int a) { return a; } int r = f(1);\n")
	bad := writeFile(t, dir, "bad.c", "void g() {\n\tundefined(1);\n}\n")
	broken := writeFile(t, dir, "broken.c", "int x = ;\n")

	code, stdout, _ := runCLI(t, "", "check", "-j", "2", good, bad, broken)
	require.Equal(t, 1, code)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Equal(t, good+": ok", lines[0])
	require.Equal(t, bad+": line 2: undefined function undefined", lines[1])
	require.Contains(t, lines[2], broken+": parse: line 1:")

	code, _, _ = runCLI(t, "", "check", good)
	require.Equal(t, 0, code)

	code, _, _ = runCLI(t, "", "check")
	require.Equal(t, 2, code)
}

func TestIncomplete(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"int x = 1;", false},
		{"int f() {", true},
		{"int f() {\n return 1;\n}", false},
		{`printf("{");`, false},
		{"char c = '(';", false},
		{"x = (1 +", true},
		{"// {", false},
		{"/* { */ 1", false},
		{"/* unterminated", true},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, incomplete(tt.src), tt.src)
	}
}

func TestDefineFlag(t *testing.T) {
	d := defineFlag{}
	require.NoError(t, d.Set("A=1"))
	require.NoError(t, d.Set("B"))
	require.Error(t, d.Set("=x"))
	require.Equal(t, defineFlag{"A": "1", "B": "1"}, d)
}
