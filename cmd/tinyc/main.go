// Command tinyc runs TinyC programs.
//
//	tinyc prog.c             run prog.c
//	tinyc -entry main a.c b.c
//	tinyc -e 'printf("%d\n", 6 * 7);'
//	tinyc check *.c          compile and check files in parallel
//	tinyc                    interactive prompt, or a program on standard input
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/term"

	"tinyc/pkg/tinyc"
	"tinyc/pkg/value"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "check" {
		return cmdCheck(ctx, args[1:], stdout, stderr)
	}

	opts, err := parseOptions(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	s := newSession(opts, stdout, stderr)

	switch {
	case opts.eval != "":
		return evaluate(ctx, s, opts, opts.eval, stdout, stderr)
	case len(opts.args) > 0:
		for _, path := range opts.args {
			if err := s.CompileFile(path); err != nil {
				fmt.Fprintln(stderr, err)
				return 1
			}
		}
		return execute(ctx, s, opts, stderr)
	}

	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return runREPL(ctx, s, opts.History, stdout, stderr)
	}
	src, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintln(stderr, "read stdin:", err)
		return 1
	}
	if err := s.CompileString(string(src)); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return execute(ctx, s, opts, stderr)
}

func newSession(opts *options, stdout, stderr io.Writer) *tinyc.Session {
	level := slog.LevelWarn
	if opts.flags.Has(tinyc.TraceExecution) || opts.flags.Has(tinyc.TraceMemory) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	sessionOpts := append(opts.sessionOptions(),
		tinyc.WithOutput(stdout),
		tinyc.WithDiagnostics(stderr),
		tinyc.WithLogger(logger),
	)
	s := tinyc.New(sessionOpts...)
	for name, body := range opts.Defines {
		s.Define(name, body)
	}
	logger.Debug("session", slog.String("flags", opts.flags.String()),
		slog.Int64("storage_size", opts.StorageSize), slog.Int("max_frames", opts.MaxFrames))
	return s
}

// execute runs the compiled units and then the entry point, if one is set.
// The exit status is the entry point's integer result.
func execute(ctx context.Context, s *tinyc.Session, opts *options, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	defer writeSnapshot(s, opts.Snapshot, stderr)

	var (
		v   value.Value
		err error
	)
	if opts.Entry != "" {
		v, err = s.ExecuteEntryPoint(ctx, opts.Entry)
	} else {
		v, err = s.Execute(ctx)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if opts.Entry != "" && v.Type().IsIntegral() {
		return int(v.Long() & 0xff)
	}
	return 0
}

func evaluate(ctx context.Context, s *tinyc.Session, opts *options, src string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	defer writeSnapshot(s, opts.Snapshot, stderr)

	v, err := s.Evaluate(ctx, src)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if v.Type() != value.Undefined {
		fmt.Fprintln(stdout, v)
	}
	return 0
}

func writeSnapshot(s *tinyc.Session, path string, stderr io.Writer) {
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintln(stderr, "snapshot:", err)
		return
	}
	defer f.Close()
	if err := s.Storage().WriteSnapshot(f); err != nil {
		fmt.Fprintln(stderr, "snapshot:", err)
	}
}
