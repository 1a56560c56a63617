package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"

	"tinyc/pkg/storage"
	"tinyc/pkg/tinyc"
)

// fileConfig is the layout of a -config TOML file. Command-line flags given
// explicitly override it.
type fileConfig struct {
	StorageSize int64             `toml:"storage_size"`
	MaxFrames   int               `toml:"max_frames"`
	Entry       string            `toml:"entry"`
	Seed        uint64            `toml:"seed"`
	Flags       []string          `toml:"flags"`
	Defines     map[string]string `toml:"defines"`
	History     string            `toml:"history"`
	Snapshot    string            `toml:"snapshot"`
}

func loadConfig(path string) (fileConfig, bool, error) {
	var cfg fileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, false, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, false, fmt.Errorf("config %s: unknown keys %v", path, undecoded)
	}
	return cfg, md.IsDefined("seed"), nil
}

// defineFlag collects repeated -D NAME[=value] arguments.
type defineFlag map[string]string

func (d defineFlag) String() string {
	var parts []string
	for k, v := range d {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (d defineFlag) Set(s string) error {
	name, body, found := strings.Cut(s, "=")
	if name == "" {
		return errors.New("empty macro name")
	}
	if !found {
		body = "1"
	}
	d[name] = body
	return nil
}

var flagUsage = []struct {
	flag  tinyc.Flags
	usage string
}{
	{tinyc.DumpTokens, "print the token stream of each source"},
	{tinyc.DumpTree, "print the syntax tree of each source"},
	{tinyc.DumpSymbols, "print the global symbol table after allocation"},
	{tinyc.TraceExecution, "log every statement executed"},
	{tinyc.TraceMemory, "log every storage access"},
	{tinyc.MemorySummary, "print a storage summary after the run"},
	{tinyc.FatalAsserts, "stop the run at the first failed assert"},
	{tinyc.Deterministic, "seed rand with -seed instead of the clock"},
}

type options struct {
	fileConfig
	seedSet bool
	flags   tinyc.Flags
	eval    string
	args    []string
}

func parseOptions(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("tinyc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: tinyc [flags] [file.c ...]")
		fmt.Fprintln(stderr, "       tinyc check [-j N] file.c ...")
		fmt.Fprintln(stderr, "With no files, tinyc starts a prompt on a terminal and runs standard input otherwise.")
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "TOML configuration file")
	size := fs.Int64("size", storage.DefaultSize, "storage size in bytes")
	frames := fs.Int("frames", storage.DefaultMaxFrames, "maximum nesting of storage frames")
	entry := fs.String("entry", "", "function to call after the top-level code, e.g. main")
	seed := fs.Uint64("seed", 0, "seed for rand; implies -deterministic")
	eval := fs.String("e", "", "evaluate this source text instead of reading files")
	snapshot := fs.String("snapshot", "", "write the final storage to this zip file")
	history := fs.String("history", "", "prompt history file (default ~/.tinyc_history)")
	defines := defineFlag{}
	fs.Var(defines, "D", "define a macro, NAME or NAME=value (repeatable)")
	switches := make(map[string]*bool, len(flagUsage))
	for _, fu := range flagUsage {
		switches[fu.flag.String()] = fs.Bool(fu.flag.String(), false, fu.usage)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := &options{eval: *eval, args: fs.Args()}
	if *configPath != "" {
		cfg, seedSet, err := loadConfig(*configPath)
		if err != nil {
			return nil, err
		}
		opts.fileConfig = cfg
		opts.seedSet = seedSet
	}
	for _, name := range opts.Flags {
		f, ok := tinyc.ParseFlag(name)
		if !ok {
			return nil, fmt.Errorf("config: unknown flag %q", name)
		}
		opts.flags |= f
	}
	if opts.StorageSize == 0 {
		opts.StorageSize = *size
	}
	if opts.MaxFrames == 0 {
		opts.MaxFrames = *frames
	}
	if opts.Defines == nil {
		opts.Defines = make(map[string]string)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "size":
			opts.StorageSize = *size
		case "frames":
			opts.MaxFrames = *frames
		case "entry":
			opts.Entry = *entry
		case "seed":
			opts.Seed = *seed
			opts.seedSet = true
		case "snapshot":
			opts.Snapshot = *snapshot
		case "history":
			opts.History = *history
		case "D":
			for k, v := range defines {
				opts.Defines[k] = v
			}
		default:
			if on, ok := switches[f.Name]; ok {
				fl, _ := tinyc.ParseFlag(f.Name)
				if *on {
					opts.flags |= fl
				} else {
					opts.flags &^= fl
				}
			}
		}
	})
	return opts, nil
}

func (o *options) sessionOptions() []tinyc.Option {
	opts := []tinyc.Option{
		tinyc.WithStorageSize(o.StorageSize),
		tinyc.WithMaxFrames(o.MaxFrames),
		tinyc.WithFlags(o.flags),
	}
	if o.seedSet || o.flags.Has(tinyc.Deterministic) {
		opts = append(opts, tinyc.WithSeed(o.Seed))
	}
	return opts
}
