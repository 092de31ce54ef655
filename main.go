// Command callgraph builds AST-level call graphs of Go packages and prints
// them, reports dead code and recursion, renders Graphviz, or loads them
// into Neo4j.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/mod/modfile"

	"go-callgraph/goast"
	"go-callgraph/resolve"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// app holds what the commands share: flag values, the effective config
// and the logger.
type app struct {
	cfgFile string
	envFile string
	verbose bool

	// flags receives command-line values; only flags the user set are
	// copied onto cfg.
	flags Config
	cfg   Config

	logger   *slog.Logger
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "callgraph",
		Short:             "Build AST-level call graphs of Go packages",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML config file")
	pf.StringVar(&a.envFile, "env-file", "", "env file to load (default: .env if present)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&a.flags.Dir, "dir", ".", "project root directory")
	pf.StringVar(&a.flags.Resolver, "resolver", "static", "call resolver: "+strings.Join(resolve.Names, ", "))
	pf.BoolVar(&a.flags.External, "external", false, "add nodes for callees outside each package")
	pf.BoolVar(&a.flags.Dispatch, "dispatch", true, "link interface method calls to local implementations (static resolver)")
	pf.BoolVar(&a.flags.Tests, "tests", false, "include test packages")
	pf.BoolVar(&a.flags.Strict, "strict", false, "fail when a package has errors")
	pf.IntVar(&a.flags.Workers, "workers", 0, "packages built concurrently (default: GOMAXPROCS)")
	pf.StringVar(&a.flags.Trace, "trace", "none", "trace exporter: none or stdout (written to stderr)")
	pf.StringVar(&a.flags.Metrics, "metrics", "none", "metric exporter: none or stdout (written to stderr)")

	root.AddCommand(
		a.printCmd(),
		a.deadCmd(),
		a.cyclesCmd(),
		a.dotCmd(),
		a.neo4jCmd(),
		a.configCmd(),
	)
	return root
}

// setup resolves the effective configuration and installs logging and
// telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.envFile != "" {
		if err := loadDotEnv(a.envFile); err != nil {
			return err
		}
	} else {
		_ = loadDotEnv()
	}

	cfg, err := LoadConfig(a.cfgFile)
	if err != nil {
		return err
	}
	a.overlayFlags(cmd.Flags(), &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	a.shutdown, err = initTelemetry(cfg.Trace, cfg.Metrics, cmd.ErrOrStderr())
	return err
}

// overlayFlags copies the flags set on the command line onto cfg.
func (a *app) overlayFlags(fs *pflag.FlagSet, cfg *Config) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	f := a.flags
	set("dir", func() { cfg.Dir = f.Dir })
	set("resolver", func() { cfg.Resolver = f.Resolver })
	set("external", func() { cfg.External = f.External })
	set("dispatch", func() { cfg.Dispatch = f.Dispatch })
	set("tests", func() { cfg.Tests = f.Tests })
	set("strict", func() { cfg.Strict = f.Strict })
	set("workers", func() { cfg.Workers = f.Workers })
	set("trace", func() { cfg.Trace = f.Trace })
	set("metrics", func() { cfg.Metrics = f.Metrics })
	set("neo4j-uri", func() { cfg.Neo4j.URI = f.Neo4j.URI })
	set("neo4j-user", func() { cfg.Neo4j.User = f.Neo4j.User })
	set("neo4j-pass", func() { cfg.Neo4j.Pass = f.Neo4j.Pass })
	set("clean", func() { cfg.Neo4j.Clean = f.Neo4j.Clean })
	set("batch-size", func() { cfg.Neo4j.BatchSize = f.Neo4j.BatchSize })
}

// collect loads the packages matched by patterns (or the configured ones)
// and builds their call graphs.
func (a *app) collect(ctx context.Context, patterns []string) (*Collector, []*Result, error) {
	absDir, err := filepath.Abs(a.cfg.Dir)
	if err != nil {
		return nil, nil, err
	}

	modulePath, err := detectModulePath(absDir)
	if err != nil {
		a.logger.Warn("cannot detect Go module, analysing every matched package", slog.Any("error", err))
	}
	a.logger.Info("loading packages",
		slog.String("module", modulePath),
		slog.String("dir", absDir))

	if len(patterns) == 0 {
		patterns = a.cfg.Patterns
	}
	units, err := goast.Load(ctx, goast.LoadConfig{
		Dir:      absDir,
		Patterns: patterns,
		Tests:    a.cfg.Tests,
		Strict:   a.cfg.Strict,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("loaded packages", slog.Int("count", len(units)))

	opts := []resolve.Option{
		resolve.WithDispatch(a.cfg.Dispatch),
		resolve.WithExternal(a.cfg.External),
		resolve.WithLogger(a.logger),
	}
	if a.cfg.Resolver != "static" && a.cfg.Resolver != "none" {
		opts = append(opts, resolve.WithPackages(goast.Packages(units)))
	}
	r, err := resolve.ByName(a.cfg.Resolver, opts...)
	if err != nil {
		return nil, nil, err
	}

	c := NewCollector(modulePath, absDir, r, a.logger)
	if a.cfg.Workers > 0 {
		c.Workers = a.cfg.Workers
	}
	results, err := c.Collect(ctx, units)
	if err != nil {
		return nil, nil, err
	}
	return c, results, nil
}

// detectModulePath reads the go.mod file in dir and returns the module path.
func detectModulePath(dir string) (string, error) {
	gomod := filepath.Join(dir, "go.mod")
	data, err := os.ReadFile(gomod)
	if err != nil {
		return "", fmt.Errorf("cannot read go.mod: %w", err)
	}
	path := modfile.ModulePath(data)
	if path == "" {
		return "", fmt.Errorf("module directive not found in %s", gomod)
	}
	return path, nil
}
