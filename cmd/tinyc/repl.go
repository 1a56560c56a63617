package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"tinyc/pkg/tinyc"
	"tinyc/pkg/value"
)

const (
	historyFile = ".tinyc_history"
	banner      = "TinyC. Declarations, functions, statements or a bare expression. :help for commands."
	promptMain  = "tinyc> "
	promptCont  = "  ...> "
)

func runREPL(ctx context.Context, s *tinyc.Session, histPath string, stdout, stderr io.Writer) int {
	fmt.Fprintln(stdout, banner)

	if histPath == "" {
		home, _ := os.UserHomeDir()
		histPath = filepath.Join(home, historyFile)
	}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		src, ok := readInput(ln)
		if !ok {
			fmt.Fprintln(stdout)
			return 0
		}
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))

		if strings.HasPrefix(trimmed, ":") {
			if quit := replCommand(s, trimmed, stdout); quit {
				return 0
			}
			continue
		}

		v, err := evalLine(ctx, s, src)
		if err != nil {
			fmt.Fprintln(stderr, err)
			continue
		}
		if v.Type() != value.Undefined {
			fmt.Fprintln(stdout, v)
		}
	}
}

// evalLine runs one input; Ctrl-C interrupts the program, not the prompt.
func evalLine(ctx context.Context, s *tinyc.Session, src string) (value.Value, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	return s.Evaluate(ctx, src)
}

// readInput reads lines until brackets balance. ok is false at end of input.
func readInput(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if !incomplete(b.String()) {
			return b.String(), true
		}
	}
}

// incomplete reports whether src has unclosed braces or parentheses, ignoring
// string and character literals and comments.
func incomplete(src string) bool {
	depth := 0
	for i := 0; i < len(src); i++ {
		switch c := src[i]; c {
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			depth--
		case '"', '\'':
			for i++; i < len(src) && src[i] != c; i++ {
				if src[i] == '\\' {
					i++
				}
			}
		case '/':
			if i+1 < len(src) && src[i+1] == '/' {
				for i < len(src) && src[i] != '\n' {
					i++
				}
			} else if i+1 < len(src) && src[i+1] == '*' {
				end := strings.Index(src[i+2:], "*/")
				if end < 0 {
					return true
				}
				i += end + 3
			}
		}
	}
	return depth > 0
}

func replCommand(s *tinyc.Session, cmd string, stdout io.Writer) (quit bool) {
	switch strings.ToLower(cmd) {
	case ":quit", ":q":
		return true
	case ":globals":
		fmt.Fprint(stdout, s.Globals())
	case ":mem":
		s.Storage().Stats().WriteSummary(stdout)
	case ":check":
		problems := s.Check()
		for _, p := range problems {
			fmt.Fprintln(stdout, p)
		}
		if len(problems) == 0 {
			fmt.Fprintln(stdout, "no problems")
		}
	case ":help":
		fmt.Fprintln(stdout, ":globals  list global variables")
		fmt.Fprintln(stdout, ":mem      storage summary")
		fmt.Fprintln(stdout, ":check    report undeclared names and bad calls")
		fmt.Fprintln(stdout, ":quit     leave")
	default:
		fmt.Fprintf(stdout, "unknown command %s. Type :help for a list.\n", cmd)
	}
	return false
}
