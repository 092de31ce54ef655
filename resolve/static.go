package resolve

import (
	"context"
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"log/slog"

	"golang.org/x/tools/go/types/typeutil"

	"go-callgraph/callgraph"
	"go-callgraph/goast"
)

// Static resolves calls from type information alone. It draws one edge per
// call site whose callee the type checker can name, plus:
//
//   - an edge to a function literal called in place, or through a variable
//     bound to it;
//   - with DispatchInterfaces, edges from an interface method call to every
//     method of the unit whose receiver type implements the interface;
//   - with IncludeExternal, edges to nodes standing for functions of other
//     packages.
//
// A local function or literal used as a value is linked from the root since
// its callers cannot be known.
type Static struct {
	DispatchInterfaces bool
	IncludeExternal    bool
	Logger             *slog.Logger
}

// Name implements Resolver.
func (s *Static) Name() string { return "static" }

// Resolve implements Resolver.
func (s *Static) Resolve(ctx context.Context, g *callgraph.Graph, u *goast.Unit) (Stats, error) {
	w := newWalker(g, u, loggerOr(s.Logger))
	w.resolveCalls = true
	w.dispatch = s.DispatchInterfaces
	w.external = s.IncludeExternal
	if err := w.run(ctx); err != nil {
		return w.stats, err
	}
	return w.stats, nil
}

// linkEscapes runs the escape half of Static on its own: every local
// function or literal used as a value gets a root edge. Resolvers whose
// call edges come from elsewhere still need this to keep such functions
// reachable.
func linkEscapes(ctx context.Context, g *callgraph.Graph, u *goast.Unit, logger *slog.Logger) (Stats, error) {
	w := newWalker(g, u, logger)
	err := w.run(ctx)
	return w.stats, err
}

type walker struct {
	g      *callgraph.Graph
	u      *goast.Unit
	info   *types.Info
	logger *slog.Logger
	stats  Stats

	resolveCalls bool
	dispatch     bool
	external     bool

	// quiet holds expressions in call position or on the left of an
	// assignment; identifiers there do not escape.
	quiet map[ast.Node]bool

	// bound maps variables initialised with a single function literal to
	// that literal's declaration.
	bound map[*types.Var]*goast.Func

	methods map[string][]*goast.Func
}

func newWalker(g *callgraph.Graph, u *goast.Unit, logger *slog.Logger) *walker {
	return &walker{
		g:      g,
		u:      u,
		info:   u.Info(),
		logger: logger,
		quiet:  make(map[ast.Node]bool),
		bound:  make(map[*types.Var]*goast.Func),
	}
}

func (w *walker) run(ctx context.Context) error {
	if w.info == nil {
		return fmt.Errorf("%w: %s", ErrNoTypeInfo, w.u.Path())
	}
	if w.dispatch {
		w.methods = dispatchTargets(w.u)
	}

	// Package-level initializers run before main; whatever they call hangs
	// off the root.
	for _, file := range w.u.Files() {
		for _, d := range file.Decls {
			gd, ok := d.(*ast.GenDecl)
			if !ok || gd.Tok != token.VAR {
				continue
			}
			for _, spec := range gd.Specs {
				if vs, ok := spec.(*ast.ValueSpec); ok {
					w.bindSpec(vs)
					for _, v := range vs.Values {
						w.walk(w.g.Root(), v)
					}
				}
			}
		}
	}

	for _, f := range w.u.Funcs() {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		caller, ok := w.g.GetNode(f)
		if !ok {
			continue
		}
		if body := f.Body(); body != nil {
			w.walk(caller, body)
		}
	}
	return nil
}

func (w *walker) walk(caller callgraph.Node, root ast.Node) {
	ast.Inspect(root, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.FuncLit:
			// Literals are callers in their own right.
			if !w.quiet[n] {
				if f, ok := w.u.Lookup(n); ok {
					w.escape(f)
				}
			}
			return false

		case *ast.AssignStmt:
			for _, lhs := range n.Lhs {
				w.quiet[ast.Unparen(lhs)] = true
			}
			if n.Tok == token.DEFINE && len(n.Lhs) == len(n.Rhs) {
				for i, lhs := range n.Lhs {
					if id, ok := lhs.(*ast.Ident); ok {
						w.bind(id, n.Rhs[i])
					}
				}
			}

		case *ast.ValueSpec:
			w.bindSpec(n)

		case *ast.CallExpr:
			w.call(caller, n)

		case *ast.Ident:
			if !w.quiet[n] {
				w.ident(n)
			}
		}
		return true
	})
}

func (w *walker) bindSpec(vs *ast.ValueSpec) {
	if len(vs.Names) != len(vs.Values) {
		return
	}
	for i, id := range vs.Names {
		w.bind(id, vs.Values[i])
	}
}

func (w *walker) bind(id *ast.Ident, value ast.Expr) {
	lit, ok := ast.Unparen(value).(*ast.FuncLit)
	if !ok {
		return
	}
	v, ok := w.info.Defs[id].(*types.Var)
	if !ok {
		return
	}
	f, ok := w.u.Lookup(lit)
	if !ok {
		return
	}
	w.bound[v] = f
	w.quiet[lit] = true
}

func (w *walker) markCalled(fun ast.Expr) {
	fun = ast.Unparen(fun)
	w.quiet[fun] = true
	switch e := fun.(type) {
	case *ast.SelectorExpr:
		w.quiet[e.Sel] = true
	case *ast.IndexExpr:
		w.markCalled(e.X)
	case *ast.IndexListExpr:
		w.markCalled(e.X)
	}
}

func (w *walker) call(caller callgraph.Node, call *ast.CallExpr) {
	w.markCalled(call.Fun)
	if !w.resolveCalls {
		return
	}
	if tv, ok := w.info.Types[call.Fun]; ok && tv.IsType() {
		return
	}

	if lit, ok := ast.Unparen(call.Fun).(*ast.FuncLit); ok {
		w.stats.Sites++
		if f, ok := w.u.Lookup(lit); ok && w.link(caller, f) {
			w.stats.Resolved++
			return
		}
		w.unresolved(call, "literal outside the graph")
		return
	}

	switch obj := typeutil.Callee(w.info, call).(type) {
	case *types.Builtin:
		return

	case *types.Func:
		w.stats.Sites++
		sig, _ := obj.Type().(*types.Signature)
		if sig != nil && sig.Recv() != nil && types.IsInterface(sig.Recv().Type()) {
			w.stats.Dynamic++
			w.dispatchCall(caller, call, obj, sig)
			return
		}
		w.staticCall(caller, call, obj)

	case *types.Var:
		w.stats.Sites++
		w.stats.Dynamic++
		if f, ok := w.bound[obj]; ok && w.link(caller, f) {
			w.stats.Resolved++
			return
		}
		w.unresolved(call, "call through function value")

	default:
		w.stats.Sites++
		w.stats.Dynamic++
		w.unresolved(call, "call through function value")
	}
}

func (w *walker) staticCall(caller callgraph.Node, call *ast.CallExpr, obj *types.Func) {
	if w.u.IsLocal(obj) {
		f, ok := w.u.LookupObject(obj)
		if ok && w.link(caller, f) {
			w.stats.Resolved++
			return
		}
		w.unresolved(call, "callee has no concrete body")
		return
	}

	w.stats.External++
	if !w.external {
		return
	}
	if w.link(caller, w.u.External(obj)) {
		w.stats.Resolved++
		return
	}
	w.unresolved(call, "generic external callee")
}

func (w *walker) dispatchCall(caller callgraph.Node, call *ast.CallExpr, obj *types.Func, sig *types.Signature) {
	if !w.dispatch {
		w.unresolved(call, "interface dispatch disabled")
		return
	}
	iface, ok := sig.Recv().Type().Underlying().(*types.Interface)
	if !ok {
		w.unresolved(call, "receiver is not an interface")
		return
	}
	linked := false
	for _, m := range w.methods[obj.Name()] {
		if implements(m, iface) && w.link(caller, m) {
			linked = true
		}
	}
	if linked {
		w.stats.Resolved++
		return
	}
	w.unresolved(call, "no implementation in package")
}

// link adds caller -> f. The root caller gets a deduplicated root edge.
func (w *walker) link(caller callgraph.Node, f *goast.Func) bool {
	if !callgraph.IncludeInGraph(f) {
		return false
	}
	callee := w.g.GetOrInsertNode(f)
	if caller.IsRoot() {
		return w.g.LinkFromRoot(callee) == nil
	}
	return caller.AddCallee(callee) == nil
}

func (w *walker) ident(id *ast.Ident) {
	switch obj := w.info.Uses[id].(type) {
	case *types.Func:
		if !w.u.IsLocal(obj) {
			return
		}
		if f, ok := w.u.LookupObject(obj); ok {
			w.escape(f)
		}
	case *types.Var:
		if f, ok := w.bound[obj]; ok {
			w.escape(f)
		}
	}
}

func (w *walker) escape(f *goast.Func) {
	n, ok := w.g.GetNode(f)
	if !ok || w.g.IsRootLinked(n) {
		return
	}
	if err := w.g.LinkFromRoot(n); err != nil {
		return
	}
	w.stats.Escaped++
	w.logger.Debug("function value escapes",
		slog.String("func", f.FullName()),
		slog.String("pos", w.u.Position(f).String()))
}

func (w *walker) unresolved(call *ast.CallExpr, reason string) {
	w.stats.Unresolved++
	w.logger.Debug("unresolved call",
		slog.String("package", w.u.Path()),
		slog.String("pos", w.u.Fset().Position(call.Pos()).String()),
		slog.String("reason", reason))
}

// dispatchTargets groups the concrete methods of u by name.
func dispatchTargets(u *goast.Unit) map[string][]*goast.Func {
	out := make(map[string][]*goast.Func)
	for _, f := range u.Funcs() {
		if f.Kind() != goast.KindMethod || f.Object() == nil || !f.Eligible() {
			continue
		}
		out[f.Object().Name()] = append(out[f.Object().Name()], f)
	}
	return out
}

// implements reports whether the receiver type of method m, or a pointer to
// it, implements iface. The pointer's method set covers both receiver forms.
func implements(m *goast.Func, iface *types.Interface) bool {
	sig, ok := m.Object().Type().(*types.Signature)
	if !ok || sig.Recv() == nil {
		return false
	}
	recv := sig.Recv().Type()
	if p, ok := recv.(*types.Pointer); ok {
		recv = p.Elem()
	}
	return types.Implements(types.NewPointer(recv), iface)
}
