package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	"tinyc/pkg/tinyc"
)

type checkResult struct {
	path     string
	err      error
	problems []tinyc.Problem
}

func (r checkResult) failed() bool { return r.err != nil || len(r.problems) > 0 }

// checkFile compiles path in a session of its own and runs the static checks.
// Nothing is executed.
func checkFile(path string, defines map[string]string) checkResult {
	s := tinyc.New(tinyc.WithOutput(io.Discard), tinyc.WithDiagnostics(io.Discard))
	for name, body := range defines {
		s.Define(name, body)
	}
	if err := s.CompileFile(path); err != nil {
		return checkResult{path: path, err: err}
	}
	return checkResult{path: path, problems: s.Check()}
}

func cmdCheck(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jobs := fs.Int("j", runtime.NumCPU(), "files checked in parallel")
	defines := defineFlag{}
	fs.Var(defines, "D", "define a macro, NAME or NAME=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	files := fs.Args()
	if len(files) == 0 {
		fmt.Fprintln(stderr, "check: no files")
		return 2
	}

	results := make([]checkResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*jobs, 1))
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = checkFile(path, defines)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintln(stderr, "check:", err)
		return 1
	}

	status := 0
	for _, r := range results {
		switch {
		case r.err != nil:
			fmt.Fprintln(stdout, r.err)
		case len(r.problems) > 0:
			for _, p := range r.problems {
				fmt.Fprintln(stdout, p)
			}
		default:
			fmt.Fprintf(stdout, "%s: ok\n", r.path)
		}
		if r.failed() {
			status = 1
		}
	}
	return status
}
