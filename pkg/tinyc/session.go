// Package tinyc ties the TinyC front end, the allocation pass and the
// interpreter together behind one Session.
//
// A Session owns a storage.Manager and a global symbol table. Sources are
// compiled into it one after another and may refer to each other's functions
// and globals; Execute then runs the top-level code of every unit not yet run.
package tinyc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"tinyc/pkg/compiler"
	"tinyc/pkg/exec"
	"tinyc/pkg/storage"
	"tinyc/pkg/symtab"
	"tinyc/pkg/utils"
	"tinyc/pkg/value"
)

// ErrUnresolved is returned by Evaluate for an expression naming something
// that does not exist.
var ErrUnresolved = errors.New("unresolved name")

// Error is a compile or run failure together with the source line it points at.
type Error struct {
	File    string
	Line    int
	Snippet string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Snippet != "" {
		msg += "\n  |> " + e.Snippet
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// unit is one compiled source.
type unit struct {
	name   string
	lines  []string
	tree   *compiler.Node
	layout *compiler.Layout
	ran    bool
}

func (u *unit) snippet(line int) string {
	if line < 1 || line > len(u.lines) {
		return ""
	}
	return strings.TrimSpace(u.lines[line-1])
}

// Session is a TinyC program under construction and execution.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	mem     *storage.Manager
	globals *symtab.Table
	exec    *exec.Context
	pp      *compiler.Preprocessor
	units   []*unit
}

// New creates an empty session.
func New(opts ...Option) *Session {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = os.Stderr
	}

	logger := cfg.Logger
	if logger == nil {
		level := slog.LevelError
		if cfg.Flags.Has(TraceExecution) || cfg.Flags.Has(TraceMemory) {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cfg.Diagnostics, &slog.HandlerOptions{Level: level}))
	}

	mem := storage.New(cfg.StorageSize,
		storage.WithMaxFrames(cfg.MaxFrames),
		storage.WithLogger(logger),
		storage.WithTrace(cfg.Flags.Has(TraceMemory)),
	)
	globals := symtab.New(nil)

	execOpts := []exec.Option{
		exec.WithOutput(cfg.Output),
		exec.WithLogger(logger),
		exec.WithFatalAsserts(cfg.Flags.Has(FatalAsserts)),
		exec.WithTrace(cfg.Flags.Has(TraceExecution)),
	}
	if cfg.Flags.Has(Deterministic) {
		execOpts = append(execOpts, exec.WithSeed(cfg.Seed))
	}

	return &Session{
		cfg:     cfg,
		logger:  logger,
		mem:     mem,
		globals: globals,
		exec:    exec.New(mem, globals, execOpts...),
		pp:      compiler.NewPreprocessor(),
	}
}

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// Storage returns the session's memory.
func (s *Session) Storage() *storage.Manager { return s.mem }

// Globals returns the global symbol table shared by every unit.
func (s *Session) Globals() *symtab.Table { return s.globals }

// Context returns the root interpreter context.
func (s *Session) Context() *exec.Context { return s.exec }

// Define adds an object-like macro visible to every later compile.
func (s *Session) Define(name, body string) {
	s.pp.Defines[name] = compiler.Macro{Body: body}
}

// CompileString compiles src into the session. Includes resolve against the
// configured include directory.
func (s *Session) CompileString(src string) error {
	return s.compile("", src, s.cfg.IncludeDir)
}

// CompileFile reads and compiles the file at path. Includes resolve against
// the file's directory.
func (s *Session) CompileFile(path string) error {
	fullPath, dir, err := utils.GetPathInfo(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return s.compile(path, string(data), dir)
}

func (s *Session) compile(name, src, dir string) error {
	u, err := s.parse(name, src, dir)
	if err != nil {
		return err
	}
	return s.allocate(u)
}

func (s *Session) parse(name, src, dir string) (*unit, error) {
	processed, err := s.pp.Process(src, dir)
	if err != nil {
		return nil, &Error{File: name, Err: fmt.Errorf("preprocess: %w", err)}
	}
	u := &unit{name: name, lines: strings.Split(processed, "\n")}

	tokens, err := compiler.Lex(processed)
	if err != nil {
		return nil, s.annotate(u, fmt.Errorf("lex: %w", err))
	}
	if s.cfg.Flags.Has(DumpTokens) {
		for _, tok := range tokens {
			fmt.Fprintln(s.cfg.Diagnostics, tok)
		}
	}

	u.tree, err = compiler.Parse(tokens, processed)
	if err != nil {
		// SyntaxError already carries its snippet.
		return nil, &Error{File: name, Err: fmt.Errorf("parse: %w", err)}
	}
	if s.cfg.Flags.Has(DumpTree) {
		io.WriteString(s.cfg.Diagnostics, u.tree.Dump())
	}
	return u, nil
}

func (s *Session) allocate(u *unit) error {
	layout, err := compiler.Allocate(u.tree, s.mem, s.globals)
	if err != nil {
		return s.annotate(u, err)
	}
	u.layout = layout
	if s.cfg.Flags.Has(DumpSymbols) {
		fmt.Fprint(s.cfg.Diagnostics, s.globals.String())
	}

	s.exec.Load(u.tree, layout)
	s.units = append(s.units, u)
	s.logger.Debug("compiled",
		slog.String("unit", u.displayName()),
		slog.Int("functions", len(layout.Functions)),
		slog.Int("globals", s.globals.Len()),
		slog.Int64("static_end", s.mem.Current()))
	return nil
}

func (u *unit) displayName() string {
	if u.name == "" {
		return "<string>"
	}
	return u.name
}

// annotate attaches the offending source line to err when it has a position.
func (s *Session) annotate(u *unit, err error) error {
	line := 0
	var (
		xe *exec.Error
		de *compiler.DuplicateError
	)
	switch {
	case errors.As(err, &xe):
		line = xe.Pos.Line
	case errors.As(err, &de):
		line = de.Pos.Line
	}
	return &Error{File: u.name, Line: line, Snippet: u.snippet(line), Err: err}
}

// Execute runs the top-level code of every unit compiled since the last
// Execute, in order. It returns the value of the last statement run.
func (s *Session) Execute(ctx context.Context) (value.Value, error) {
	v, err := s.runPending(ctx)
	s.summary()
	return v, err
}

func (s *Session) runPending(ctx context.Context) (value.Value, error) {
	var last value.Value
	for _, u := range s.units {
		if u.ran {
			continue
		}
		u.ran = true
		v, err := s.exec.Execute(ctx, u.tree)
		if err != nil {
			return value.Value{}, s.annotate(u, err)
		}
		last = v
	}
	return last, nil
}

// ExecuteEntryPoint runs any pending top-level code, then calls the function
// name with args.
func (s *Session) ExecuteEntryPoint(ctx context.Context, name string, args ...value.Value) (value.Value, error) {
	if _, err := s.runPending(ctx); err != nil {
		s.summary()
		return value.Value{}, err
	}
	v, err := s.exec.ExecuteEntryPoint(ctx, nil, name, args)
	s.summary()
	if err != nil {
		return value.Value{}, s.annotate(s.unitOf(name), err)
	}
	return v, nil
}

// unitOf returns the latest unit defining the function name, or the latest
// unit.
func (s *Session) unitOf(name string) *unit {
	for i := len(s.units) - 1; i >= 0; i-- {
		if _, ok := s.units[i].layout.Functions[name]; ok {
			return s.units[i]
		}
	}
	if len(s.units) == 0 {
		return &unit{}
	}
	return s.units[len(s.units)-1]
}

// Evaluate compiles and runs src in the session, as typed at a prompt. src may
// be any sequence of declarations, functions and statements, or a bare
// expression without the trailing semicolon.
func (s *Session) Evaluate(ctx context.Context, src string) (value.Value, error) {
	u, err := s.parse("", src, s.cfg.IncludeDir)
	if err != nil {
		expr, exprErr := compiler.CompileExpression(src)
		if exprErr != nil {
			return value.Value{}, err
		}
		return s.evaluateExpression(ctx, src, expr)
	}
	if err := s.allocate(u); err != nil {
		return value.Value{}, err
	}
	return s.Execute(ctx)
}

func (s *Session) evaluateExpression(ctx context.Context, src string, expr *compiler.Node) (value.Value, error) {
	u := &unit{lines: strings.Split(src, "\n")}
	if s.exec.HasUnresolvedNames(expr) {
		names := s.exec.UnresolvedNames(expr)
		return value.Value{}, s.annotate(u, fmt.Errorf("%w: %s", ErrUnresolved, strings.Join(names, ", ")))
	}
	v, err := s.exec.Execute(ctx, expr)
	if err != nil {
		return value.Value{}, s.annotate(u, err)
	}
	return v, nil
}

func (s *Session) summary() {
	if s.cfg.Flags.Has(MemorySummary) {
		s.mem.Stats().WriteSummary(s.cfg.Diagnostics)
	}
}
