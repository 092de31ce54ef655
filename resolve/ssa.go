package resolve

import (
	"cmp"
	"context"
	"fmt"
	"go/types"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	xcallgraph "golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/callgraph/static"
	"golang.org/x/tools/go/callgraph/vta"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"go-callgraph/callgraph"
	"go-callgraph/goast"
)

// Algorithm selects the SSA call graph construction.
type Algorithm int

const (
	// AlgorithmStatic only follows static calls.
	AlgorithmStatic Algorithm = iota

	// AlgorithmCHA adds every method whose receiver implements the
	// interface at each dynamic call (class hierarchy analysis).
	AlgorithmCHA

	// AlgorithmVTA refines CHA with variable type analysis.
	AlgorithmVTA
)

// String returns the string representation of the Algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmStatic:
		return "static"
	case AlgorithmCHA:
		return "cha"
	case AlgorithmVTA:
		return "vta"
	default:
		return "unknown"
	}
}

const builderMode = ssa.InstantiateGenerics

// SSA resolves calls from an SSA call graph. Edges are mapped back to
// declarations through the function's syntax, and through its types.Func
// for wrappers. Generic instances are skipped; their origin declarations
// are not in the graph.
//
// An SSA built with NewSSA shares one program and call graph across all
// units it is used on and is safe for concurrent Resolve calls. The zero
// SSA builds a program per unit from the unit's files.
type SSA struct {
	Algorithm       Algorithm
	IncludeExternal bool
	Logger          *slog.Logger

	shared *program
}

// NewSSA returns an SSA resolver that builds one program for pkgs, lazily,
// on first use.
func NewSSA(alg Algorithm, pkgs []*packages.Package) *SSA {
	return &SSA{
		Algorithm: alg,
		shared:    &program{alg: alg, pkgs: pkgs},
	}
}

// Name implements Resolver.
func (r *SSA) Name() string {
	if r.Algorithm == AlgorithmStatic {
		return "ssa-static"
	}
	return r.Algorithm.String()
}

// Resolve implements Resolver.
func (r *SSA) Resolve(ctx context.Context, g *callgraph.Graph, u *goast.Unit) (Stats, error) {
	logger := loggerOr(r.Logger)

	pe, err := r.unitEdges(ctx, u)
	if err != nil {
		return Stats{}, err
	}

	m := &ssaMapper{
		g:        g,
		u:        u,
		external: r.IncludeExternal,
		seen:     make(map[siteKey]bool),
		sites:    make(map[ssa.CallInstruction]*siteState),
	}
	m.collectSites(pe.funcs)
	for _, e := range pe.edges {
		if err := ctx.Err(); err != nil {
			return m.stats(), cancelled(err)
		}
		m.edge(e)
	}
	stats := m.stats()

	esc, err := linkEscapes(ctx, g, u, logger)
	stats.Escaped = esc.Escaped
	if err != nil {
		return stats, err
	}

	logger.Debug("ssa resolve done",
		slog.String("package", u.Path()),
		slog.String("algorithm", r.Algorithm.String()),
		slog.Int("edges", len(pe.edges)),
		slog.Int("unresolved", stats.Unresolved))
	return stats, nil
}

// unitEdges returns the SSA functions and call graph edges of u. A shared
// program serves units loaded with it; anything else gets its own program.
func (r *SSA) unitEdges(ctx context.Context, u *goast.Unit) (*packageEdges, error) {
	if r.shared != nil {
		if err := r.shared.load(ctx); err != nil {
			return nil, err
		}
		if sp, ok := r.shared.byPkg[u.Package()]; ok {
			return r.shared.packages[sp], nil
		}
	}

	p := &program{alg: r.Algorithm}
	sp, err := p.loadUnit(ctx, u)
	if err != nil {
		return nil, err
	}
	return p.packages[sp], nil
}

// program is a built SSA program and its call graph, split per SSA package.
// A package and its test variant share a path but not an *ssa.Package, so
// the split keeps their edges apart.
type program struct {
	alg  Algorithm
	pkgs []*packages.Package

	once     sync.Once
	prog     *ssa.Program
	byPkg    map[*packages.Package]*ssa.Package
	packages map[*ssa.Package]*packageEdges
	err      error
}

// packageEdges holds the functions of one SSA package and the call graph
// edges leaving them.
type packageEdges struct {
	funcs []*ssa.Function
	edges []*xcallgraph.Edge
}

func (p *program) load(ctx context.Context) error {
	p.once.Do(func() {
		_, span := startSSASpan(ctx, p.alg, true)
		defer span.End()

		var built []*ssa.Package
		p.err = buildSafely(func() {
			prog, ssaPkgs := ssautil.AllPackages(p.pkgs, builderMode)
			p.byPkg = make(map[*packages.Package]*ssa.Package, len(ssaPkgs))
			// AllPackages keeps the order of its input.
			for i, sp := range ssaPkgs {
				if sp == nil {
					continue
				}
				sp.Build()
				p.byPkg[p.pkgs[i]] = sp
				built = append(built, sp)
			}
			p.prog = prog
		})
		if p.err != nil {
			span.RecordError(p.err)
			return
		}
		p.index(built)
		span.SetAttributes(attribute.Int("callgraph.packages", len(p.packages)))
	})
	return p.err
}

// loadUnit builds a program holding u with syntax and its imports from
// type information only, the way ssautil.BuildPackage does for files it
// type-checks itself.
func (p *program) loadUnit(ctx context.Context, u *goast.Unit) (*ssa.Package, error) {
	_, span := startSSASpan(ctx, p.alg, false)
	defer span.End()

	if u.Info() == nil || u.Types() == nil {
		return nil, fmt.Errorf("%w: %s has no type information", ErrNoSSA, u.Path())
	}
	var sp *ssa.Package
	err := buildSafely(func() {
		prog := ssa.NewProgram(u.Fset(), builderMode)
		created := make(map[*types.Package]bool)
		var createAll func([]*types.Package)
		createAll = func(pkgs []*types.Package) {
			for _, tp := range pkgs {
				if created[tp] {
					continue
				}
				created[tp] = true
				createAll(tp.Imports())
				prog.CreatePackage(tp, nil, nil, true)
			}
		}
		createAll(u.Types().Imports())
		sp = prog.CreatePackage(u.Types(), u.Files(), u.Info(), false)
		sp.Build()
		p.prog = prog
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	p.index([]*ssa.Package{sp})
	return sp, nil
}

func buildSafely(build func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrNoSSA, r)
		}
	}()
	build()
	return nil
}

func (p *program) callGraph() *xcallgraph.Graph {
	switch p.alg {
	case AlgorithmCHA:
		return cha.CallGraph(p.prog)
	case AlgorithmVTA:
		return vta.CallGraph(ssautil.AllFunctions(p.prog), cha.CallGraph(p.prog))
	default:
		return static.CallGraph(p.prog)
	}
}

// byPosition orders functions by source position; map iteration order is
// random and edge order must be stable across runs.
func byPosition(a, b *ssa.Function) int {
	return cmp.Or(
		cmp.Compare(a.Pos(), b.Pos()),
		cmp.Compare(a.String(), b.String()),
	)
}

// index splits the functions and call graph edges of the program by the
// package of the calling function, keeping only the packages in wanted.
func (p *program) index(wanted []*ssa.Package) {
	p.packages = make(map[*ssa.Package]*packageEdges, len(wanted))
	for _, sp := range wanted {
		p.packages[sp] = &packageEdges{}
	}

	for fn := range ssautil.AllFunctions(p.prog) {
		if pe, ok := p.packages[fn.Pkg]; ok && fn.Pkg != nil {
			pe.funcs = append(pe.funcs, fn)
		}
	}
	for _, pe := range p.packages {
		slices.SortFunc(pe.funcs, byPosition)
	}

	cg := p.callGraph()
	callers := make([]*xcallgraph.Node, 0, len(cg.Nodes))
	for fn, n := range cg.Nodes {
		if fn == nil || fn.Pkg == nil || len(n.Out) == 0 {
			continue
		}
		if _, ok := p.packages[fn.Pkg]; ok {
			callers = append(callers, n)
		}
	}
	slices.SortFunc(callers, func(a, b *xcallgraph.Node) int {
		return byPosition(a.Func, b.Func)
	})
	for _, n := range callers {
		out := slices.Clone(n.Out)
		slices.SortStableFunc(out, func(a, b *xcallgraph.Edge) int {
			return cmp.Or(
				cmp.Compare(a.Pos(), b.Pos()),
				cmp.Compare(a.Callee.Func.String(), b.Callee.Func.String()),
			)
		})
		pe := p.packages[n.Func.Pkg]
		pe.edges = append(pe.edges, out...)
	}
}

type siteKey struct {
	site   ssa.CallInstruction
	caller *goast.Func
	callee *goast.Func
}

type siteState struct {
	resolved bool
	external bool
}

type ssaMapper struct {
	g        *callgraph.Graph
	u        *goast.Unit
	external bool

	seen  map[siteKey]bool
	sites map[ssa.CallInstruction]*siteState
	order []ssa.CallInstruction
	dyn   int
}

func (m *ssaMapper) edge(e *xcallgraph.Edge) {
	callerFn, calleeFn := e.Caller.Func, e.Callee.Func
	if callerFn == nil || calleeFn == nil {
		return
	}

	if callerFn.Synthetic == "package initializer" {
		if callee, ok := m.local(calleeFn); ok {
			if n, ok := m.g.GetNode(callee); ok {
				_ = m.g.LinkFromRoot(n)
			}
		}
		return
	}
	caller, from, ok := m.caller(callerFn)
	if !ok {
		return
	}

	st := m.site(e.Site)
	callee, ok := m.local(calleeFn)
	if !ok {
		callee, ok = m.externalFunc(calleeFn)
		if !ok {
			return
		}
		st.external = true
		if !m.external {
			return
		}
	}
	if !callgraph.IncludeInGraph(callee) {
		return
	}

	key := siteKey{site: e.Site, caller: caller, callee: callee}
	if m.seen[key] {
		return
	}
	m.seen[key] = true
	if from.AddCallee(m.g.GetOrInsertNode(callee)) == nil {
		st.resolved = true
	}
}

// caller maps an SSA function to the node of a declaration of the unit.
// Synthetic functions and generic instances have none.
func (m *ssaMapper) caller(fn *ssa.Function) (*goast.Func, callgraph.Node, bool) {
	if fn.Synthetic != "" || fn.Origin() != nil {
		return nil, callgraph.Node{}, false
	}
	f, ok := m.local(fn)
	if !ok {
		return nil, callgraph.Node{}, false
	}
	n, ok := m.g.GetNode(f)
	if !ok {
		return nil, callgraph.Node{}, false
	}
	return f, n, true
}

// collectSites registers every call site in the bodies of the unit's
// declarations, so sites without any edge are counted as well.
func (m *ssaMapper) collectSites(funcs []*ssa.Function) {
	for _, fn := range funcs {
		if _, _, ok := m.caller(fn); !ok {
			continue
		}
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				site, ok := instr.(ssa.CallInstruction)
				if !ok {
					continue
				}
				if _, builtin := site.Common().Value.(*ssa.Builtin); builtin {
					continue
				}
				m.site(site)
			}
		}
	}
}

func (m *ssaMapper) site(s ssa.CallInstruction) *siteState {
	if st, ok := m.sites[s]; ok {
		return st
	}
	st := &siteState{}
	m.sites[s] = st
	m.order = append(m.order, s)
	if s != nil && (s.Common().IsInvoke() || s.Common().StaticCallee() == nil) {
		m.dyn++
	}
	return st
}

// local maps fn to a declaration of the unit.
func (m *ssaMapper) local(fn *ssa.Function) (*goast.Func, bool) {
	if fn.Origin() != nil {
		return nil, false
	}
	if syn := fn.Syntax(); syn != nil {
		if f, ok := m.u.Lookup(syn); ok {
			return f, true
		}
	}
	obj, ok := fn.Object().(*types.Func)
	if !ok || !m.u.IsLocal(obj) {
		return nil, false
	}
	return m.u.LookupObject(obj)
}

func (m *ssaMapper) externalFunc(fn *ssa.Function) (*goast.Func, bool) {
	obj, ok := fn.Object().(*types.Func)
	if !ok || m.u.IsLocal(obj) {
		return nil, false
	}
	return m.u.External(obj), true
}

func (m *ssaMapper) stats() Stats {
	s := Stats{Sites: len(m.order), Dynamic: m.dyn}
	for _, site := range m.order {
		st := m.sites[site]
		switch {
		case st.resolved:
			s.Resolved++
		case st.external:
		default:
			s.Unresolved++
		}
		if st.external {
			s.External++
		}
	}
	return s
}
