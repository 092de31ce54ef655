// Package resolve adds call edges to a discovered call graph.
//
// Discovery (callgraph.Graph.AddToCallGraph) only creates nodes and root
// edges. A Resolver walks the declarations of a goast.Unit and connects
// callers to callees with the core primitives: Node.AddCallee,
// Graph.GetOrInsertNode and Graph.LinkFromRoot. Different resolvers trade
// precision for speed; none of them is sound in the presence of reflection.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/tools/go/packages"

	"go-callgraph/callgraph"
	"go-callgraph/goast"
)

var (
	// ErrUnknownResolver is returned by ByName for an unrecognised name.
	ErrUnknownResolver = errors.New("unknown resolver")

	// ErrResolveCancelled wraps the context error when a resolve stops early.
	ErrResolveCancelled = errors.New("resolve cancelled")

	// ErrNoSSA is returned when an SSA program cannot be built for a unit.
	ErrNoSSA = errors.New("ssa program unavailable")

	// ErrNoTypeInfo is returned for units without go/types information.
	ErrNoTypeInfo = errors.New("unit has no type information")
)

// Resolver adds call edges for the declarations of u to g. g must already
// hold the nodes discovered from u.Decls().
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, g *callgraph.Graph, u *goast.Unit) (Stats, error)
}

// Stats counts what a resolve pass saw.
type Stats struct {
	// Sites is the number of call sites inspected.
	Sites int `json:"sites"`

	// Resolved is the number of sites that produced at least one edge.
	Resolved int `json:"resolved"`

	// Dynamic is the number of sites dispatched through an interface or a
	// function value.
	Dynamic int `json:"dynamic"`

	// External is the number of sites calling outside the unit.
	External int `json:"external"`

	// Escaped is the number of function values linked from the root because
	// they leave call position.
	Escaped int `json:"escaped"`

	// Unresolved is the number of sites no edge could be drawn for.
	Unresolved int `json:"unresolved"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Sites += o.Sites
	s.Resolved += o.Resolved
	s.Dynamic += o.Dynamic
	s.External += o.External
	s.Escaped += o.Escaped
	s.Unresolved += o.Unresolved
}

// None adds no edges. The graph keeps only what discovery produced.
type None struct{}

// Name implements Resolver.
func (None) Name() string { return "none" }

// Resolve implements Resolver.
func (None) Resolve(ctx context.Context, _ *callgraph.Graph, _ *goast.Unit) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, cancelled(err)
	}
	return Stats{}, nil
}

// Options configure resolvers built by ByName.
type Options struct {
	// DispatchInterfaces draws edges from interface method calls to every
	// method of the unit that may satisfy them.
	DispatchInterfaces bool

	// IncludeExternal adds nodes for callees outside the unit.
	IncludeExternal bool

	// Packages, when set, lets SSA resolvers build one program for the
	// whole load instead of one per unit.
	Packages []*packages.Package

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Option is a functional option for ByName.
type Option func(*Options)

// WithDispatch toggles interface dispatch edges.
func WithDispatch(on bool) Option {
	return func(o *Options) { o.DispatchInterfaces = on }
}

// WithExternal toggles nodes for callees outside the unit.
func WithExternal(on bool) Option {
	return func(o *Options) { o.IncludeExternal = on }
}

// WithPackages shares one SSA program across all units of a load.
func WithPackages(pkgs []*packages.Package) Option {
	return func(o *Options) { o.Packages = pkgs }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Names lists the names ByName accepts.
var Names = []string{"none", "static", "ssa-static", "cha", "vta"}

// ByName returns the resolver called name.
func ByName(name string, opts ...Option) (Resolver, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	switch name {
	case "none":
		return None{}, nil
	case "", "static":
		return &Static{
			DispatchInterfaces: o.DispatchInterfaces,
			IncludeExternal:    o.IncludeExternal,
			Logger:             o.Logger,
		}, nil
	case "ssa-static":
		return newSSAFromOptions(AlgorithmStatic, o), nil
	case "cha":
		return newSSAFromOptions(AlgorithmCHA, o), nil
	case "vta":
		return newSSAFromOptions(AlgorithmVTA, o), nil
	default:
		return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownResolver, name, Names)
	}
}

func newSSAFromOptions(alg Algorithm, o Options) *SSA {
	var r *SSA
	if len(o.Packages) > 0 {
		r = NewSSA(alg, o.Packages)
	} else {
		r = &SSA{Algorithm: alg}
	}
	r.IncludeExternal = o.IncludeExternal
	r.Logger = o.Logger
	return r
}

// Build discovers the declarations of u into a new graph and resolves its
// calls with r. A nil r behaves like None. The graph is returned even when
// resolution fails, holding whatever edges were added before the error.
func Build(ctx context.Context, u *goast.Unit, r Resolver, opts ...callgraph.Option) (*callgraph.Graph, Stats, error) {
	if r == nil {
		r = None{}
	}
	ctx, span := startResolveSpan(ctx, u.Path(), r.Name())
	defer span.End()
	start := time.Now()

	opts = append([]callgraph.Option{callgraph.WithCapacity(len(u.Funcs()))}, opts...)
	g := callgraph.New(opts...)
	g.AddToCallGraph(u.Decls()...)

	stats, err := r.Resolve(ctx, g, u)
	setResolveSpanResult(span, g.Len(), g.EdgeCount(), stats)
	recordResolveMetrics(ctx, r.Name(), time.Since(start), g.Len(), g.EdgeCount(), stats, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return g, stats, fmt.Errorf("resolve %s: %w", u.Path(), err)
	}
	span.SetAttributes(attribute.Bool("callgraph.success", true))
	return g, stats, nil
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrResolveCancelled, err)
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
