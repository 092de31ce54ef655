package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"go-callgraph/callgraph"
	"go-callgraph/goast"
	"go-callgraph/resolve"
	"go-callgraph/traverse"
)

// Collector builds one call graph per package and flattens the graphs into
// records for printing and loading.
type Collector struct {
	RootModule string
	RootDir    string
	Resolver   resolve.Resolver
	Workers    int
	Logger     *slog.Logger
}

// Result is the call graph of one package.
type Result struct {
	Unit  *goast.Unit
	Graph *callgraph.Graph
	Stats resolve.Stats
}

// NewCollector creates a Collector scoped to the given root module path.
func NewCollector(rootModule, rootDir string, r resolve.Resolver, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		RootModule: rootModule,
		RootDir:    rootDir,
		Resolver:   r,
		Workers:    runtime.GOMAXPROCS(0),
		Logger:     logger,
	}
}

// isProjectPackage reports whether pkgPath belongs to the analysed module.
func (c *Collector) isProjectPackage(pkgPath string) bool {
	return c.RootModule == "" ||
		pkgPath == c.RootModule ||
		strings.HasPrefix(pkgPath, c.RootModule+"/")
}

// isTestMain reports whether u is the main package go test generates to
// drive a package's tests.
func isTestMain(u *goast.Unit) bool {
	return u.Name() == "main" && strings.HasSuffix(u.Path(), ".test")
}

// relPath returns a file path relative to the project root when possible.
func (c *Collector) relPath(fullPath string) string {
	if c.RootDir == "" || fullPath == "" {
		return fullPath
	}
	rel, err := filepath.Rel(c.RootDir, fullPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fullPath
	}
	return filepath.ToSlash(rel)
}

// Collect builds the graphs of units concurrently. Each graph is written by
// a single goroutine. Results keep the order of units.
func (c *Collector) Collect(ctx context.Context, units []*goast.Unit) ([]*Result, error) {
	results := make([]*Result, len(units))

	eg, ctx := errgroup.WithContext(ctx)
	if c.Workers > 0 {
		eg.SetLimit(c.Workers)
	}
	for i, u := range units {
		if !c.isProjectPackage(u.Path()) {
			c.Logger.Debug("skipping package outside module", slog.String("package", u.Path()))
			continue
		}
		if isTestMain(u) {
			c.Logger.Debug("skipping generated test main", slog.String("package", u.Path()))
			continue
		}
		eg.Go(func() error {
			g, stats, err := resolve.Build(ctx, u, c.Resolver, callgraph.WithLogger(c.Logger))
			if err != nil {
				return err
			}
			c.Logger.Info("built call graph",
				slog.String("package", u.Path()),
				slog.Int("nodes", g.Len()),
				slog.Int("edges", g.EdgeCount()),
				slog.Int("sites", stats.Sites),
				slog.Int("unresolved", stats.Unresolved))
			results[i] = &Result{Unit: u, Graph: g, Stats: stats}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("collect call graphs: %w", err)
	}

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// Records flattens results. Functions are keyed by full name, so external
// functions reached from several packages appear once, root-linked or
// reachable if any package's graph says so. Parallel edges
// collapse into one CallEdge with a count.
func (c *Collector) Records(results []*Result) Records {
	var recs Records
	seen := make(map[string]int)
	resolverName := "none"
	if c.Resolver != nil {
		resolverName = c.Resolver.Name()
	}

	for _, r := range results {
		u, g := r.Unit, r.Graph
		reached := traverse.Reachable[callgraph.Node](g.Traits())

		dir := ""
		if files := u.Files(); len(files) > 0 {
			dir = c.relPath(filepath.Dir(u.Fset().Position(files[0].Pos()).Filename))
		}
		recs.Packages = append(recs.Packages, PackageNode{
			ImportPath: u.Path(),
			Name:       u.Name(),
			Dir:        dir,
			Resolver:   resolverName,
			Funcs:      g.Len(),
			Edges:      g.EdgeCount() - g.Root().Len(),
			Unresolved: r.Stats.Unresolved,
		})

		for n := range g.Nodes() {
			fn := c.funcNode(u, n)
			fn.RootLinked = g.IsRootLinked(n)
			fn.Reachable = reached[n]
			if i, ok := seen[fn.FullName]; ok {
				prev := recs.Funcs[i]
				// A local declaration wins over an external stand-in.
				if prev.Kind == goast.KindExternal.String() && fn.Kind != goast.KindExternal.String() {
					recs.Funcs[i] = fn
				}
				recs.Funcs[i].RootLinked = prev.RootLinked || fn.RootLinked
				recs.Funcs[i].Reachable = prev.Reachable || fn.Reachable
				continue
			}
			seen[fn.FullName] = len(recs.Funcs)
			recs.Funcs = append(recs.Funcs, fn)
		}

		for n := range g.Root().Callees() {
			recs.Roots = append(recs.Roots, RootEdge{Package: u.Path(), CalleeFullName: fullName(n)})
		}
		for n := range g.Nodes() {
			recs.Calls = append(recs.Calls, collapse(n)...)
		}
	}
	return recs
}

func (c *Collector) funcNode(u *goast.Unit, n callgraph.Node) FuncNode {
	fn := FuncNode{Name: n.Name(), FullName: fullName(n)}
	d, ok := n.Decl()
	if !ok {
		return fn
	}
	f, ok := d.(*goast.Func)
	if !ok {
		return fn
	}

	fn.Kind = f.Kind().String()
	fn.Package = u.Path()
	if obj := f.Object(); obj != nil {
		fn.Exported = obj.Exported()
		if obj.Pkg() != nil {
			fn.Package = obj.Pkg().Path()
		}
	}
	if f.Kind() != goast.KindExternal {
		pos := u.Position(f)
		fn.File = c.relPath(pos.Filename)
		fn.Line = pos.Line
	}
	return fn
}

// collapse groups the callees of n by target, in first-call order.
func collapse(n callgraph.Node) []CallEdge {
	var edges []CallEdge
	index := make(map[callgraph.NodeID]int)
	caller := fullName(n)
	for c := range n.Callees() {
		if i, ok := index[c.ID()]; ok {
			edges[i].Count++
			continue
		}
		index[c.ID()] = len(edges)
		edges = append(edges, CallEdge{
			CallerFullName: caller,
			CalleeFullName: fullName(c),
			Count:          1,
		})
	}
	return edges
}

// fullName returns the package-qualified name of the declaration behind n.
func fullName(n callgraph.Node) string {
	d, ok := n.Decl()
	if !ok {
		return n.Name()
	}
	if f, ok := d.(*goast.Func); ok {
		return f.FullName()
	}
	return d.Name()
}
