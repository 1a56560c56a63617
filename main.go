//go:build !js

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"tinyc/pkg/tinyc"
	"tinyc/pkg/utils"
)

func main() {
	inPath := flag.String("in", "", "input TinyC source file path")
	outPath := flag.String("out", "", "storage snapshot path written after -run (default: input with .mem.zip extension)")
	run := flag.Bool("run", false, "run the program after compiling it")
	entry := flag.String("entry", "main", "function called after the top-level code with -run, when defined")
	summary := flag.Bool("summary", false, "print a storage summary after the run")
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: provide -in to compile, and -run to execute it")
		flag.Usage()
		os.Exit(2)
	}

	var opts []tinyc.Option
	if *summary {
		opts = append(opts, tinyc.WithFlags(tinyc.MemorySummary))
	}
	s := tinyc.New(opts...)
	if err := s.CompileFile(*inPath); err != nil {
		fmt.Fprintf(os.Stderr, "compilation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("compiled %s: %d globals, %d bytes static\n", *inPath, s.Globals().Len(), s.Storage().Current())

	if !*run {
		return
	}

	result, err := runProgram(context.Background(), s, *entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed for %q: %v\n", *inPath, err)
		os.Exit(1)
	}

	output := *outPath
	if output == "" {
		output = defaultOutputPath(*inPath)
	}
	if err := writeSnapshot(output, s); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write snapshot %q: %v\n", output, err)
		os.Exit(1)
	}
	fmt.Printf("run complete (%s): result=%s frames=%d snapshot=%s\n", *inPath, result, s.Storage().FrameCount(), output)
}

// runProgram runs the top-level code, then entry if the program defines it.
func runProgram(ctx context.Context, s *tinyc.Session, entry string) (string, error) {
	if entry != "" && s.Context().FindEntryPoint(entry) != nil {
		v, err := s.ExecuteEntryPoint(ctx, entry)
		return v.String(), err
	}
	v, err := s.Execute(ctx)
	return v.String(), err
}

func defaultOutputPath(inPath string) string {
	return utils.WithExt(inPath, ".mem.zip")
}

func writeSnapshot(path string, s *tinyc.Session) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.Storage().WriteSnapshot(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
