package tinyc

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"tinyc/pkg/storage"
)

// Flags switch on diagnostics. None of them changes what a program computes,
// except FatalAsserts and Deterministic.
type Flags uint

const (
	DumpTokens Flags = 1 << iota
	DumpTree
	DumpSymbols
	TraceExecution
	TraceMemory
	MemorySummary
	FatalAsserts
	Deterministic
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{DumpTokens, "dump-tokens"},
	{DumpTree, "dump-tree"},
	{DumpSymbols, "dump-symbols"},
	{TraceExecution, "trace-exec"},
	{TraceMemory, "trace-memory"},
	{MemorySummary, "memory-summary"},
	{FatalAsserts, "fatal-asserts"},
	{Deterministic, "deterministic"},
}

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseFlag returns the flag with the given name, as written by String.
func ParseFlag(name string) (Flags, bool) {
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.flag, true
		}
	}
	return 0, false
}

// Config holds the settings of a Session.
type Config struct {
	StorageSize int64
	MaxFrames   int
	Flags       Flags
	// Output receives everything the program prints.
	Output io.Writer
	// Diagnostics receives dumps and the memory summary.
	Diagnostics io.Writer
	Logger      *slog.Logger
	// Seed is used for rand when Flags has Deterministic.
	Seed uint64
	// IncludeDir resolves #include for CompileString.
	IncludeDir string
}

// Option configures a Session.
type Option func(*Config)

func WithStorageSize(n int64) Option {
	return func(c *Config) { c.StorageSize = n }
}

func WithMaxFrames(n int) Option {
	return func(c *Config) { c.MaxFrames = n }
}

// WithFlags adds flags to the configuration.
func WithFlags(f Flags) Option {
	return func(c *Config) { c.Flags |= f }
}

func WithOutput(w io.Writer) Option {
	return func(c *Config) { c.Output = w }
}

func WithDiagnostics(w io.Writer) Option {
	return func(c *Config) { c.Diagnostics = w }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithSeed fixes the rand seed and sets Deterministic.
func WithSeed(seed uint64) Option {
	return func(c *Config) {
		c.Seed = seed
		c.Flags |= Deterministic
	}
}

func WithIncludeDir(dir string) Option {
	return func(c *Config) { c.IncludeDir = dir }
}

// DefaultConfig returns the settings used when no option overrides them.
func DefaultConfig() Config {
	return Config{
		StorageSize: storage.DefaultSize,
		MaxFrames:   storage.DefaultMaxFrames,
		Output:      os.Stdout,
		Diagnostics: os.Stderr,
		IncludeDir:  ".",
	}
}
