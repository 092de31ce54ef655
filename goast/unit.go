// Package goast turns a type-checked Go package into the declarations the
// call graph is built from.
//
// A Unit is one package: its func declarations, methods, and every function
// literal, with the nesting between them. Funcs implement callgraph.Decl.
package goast

import (
	"go/ast"
	"go/token"
	"go/types"
	"strconv"
	"strings"

	"golang.org/x/tools/go/packages"

	"go-callgraph/callgraph"
)

// Unit is a single Go package viewed as a compilation unit.
type Unit struct {
	fset  *token.FileSet
	types *types.Package
	info  *types.Info
	files []*ast.File
	pkg   *packages.Package

	decls []*Func
	funcs []*Func

	bySyntax map[ast.Node]*Func
	byObject map[*types.Func]*Func
	byName   map[string]*Func
	external map[string]*Func

	inits int
}

// NewUnit indexes the declarations of a type-checked package. info should
// record at least Defs and Uses; it may be nil, in which case declarations
// carry no type objects and only syntactic names.
func NewUnit(fset *token.FileSet, pkg *types.Package, info *types.Info, files []*ast.File) *Unit {
	u := &Unit{
		fset:     fset,
		types:    pkg,
		info:     info,
		files:    files,
		bySyntax: make(map[ast.Node]*Func),
		byObject: make(map[*types.Func]*Func),
		byName:   make(map[string]*Func),
		external: make(map[string]*Func),
	}
	for _, file := range files {
		u.indexFile(file)
	}
	return u
}

// newPackageUnit wraps a package loaded by go/packages.
func newPackageUnit(p *packages.Package) *Unit {
	u := NewUnit(p.Fset, p.Types, p.TypesInfo, p.Syntax)
	u.pkg = p
	return u
}

// Path returns the package path.
func (u *Unit) Path() string { return u.types.Path() }

// Name returns the package name.
func (u *Unit) Name() string { return u.types.Name() }

// Fset returns the file set positions resolve against.
func (u *Unit) Fset() *token.FileSet { return u.fset }

// Files returns the syntax trees of the package.
func (u *Unit) Files() []*ast.File { return u.files }

// Info returns the type information, possibly nil.
func (u *Unit) Info() *types.Info { return u.info }

// Types returns the type-checked package.
func (u *Unit) Types() *types.Package { return u.types }

// Package returns the go/packages package the unit was loaded from, or nil
// for units built with NewUnit.
func (u *Unit) Package() *packages.Package { return u.pkg }

// Decls returns the top-level declarations in lexical order, ready for
// callgraph.Graph.AddToCallGraph.
func (u *Unit) Decls() []callgraph.Decl {
	out := make([]callgraph.Decl, len(u.decls))
	for i, d := range u.decls {
		out[i] = d
	}
	return out
}

// TopLevel returns the top-level declarations in lexical order.
func (u *Unit) TopLevel() []*Func { return u.decls }

// Funcs returns every local declaration, parents before their closures.
func (u *Unit) Funcs() []*Func { return u.funcs }

// Lookup returns the declaration of an *ast.FuncDecl or *ast.FuncLit.
func (u *Unit) Lookup(n ast.Node) (*Func, bool) {
	f, ok := u.bySyntax[n]
	return f, ok
}

// LookupObject returns the local declaration of obj. Instantiations map to
// their generic origin.
func (u *Unit) LookupObject(obj *types.Func) (*Func, bool) {
	if obj == nil {
		return nil, false
	}
	if f, ok := u.byObject[obj.Origin()]; ok {
		return f, true
	}
	return u.ByFullName(obj.Origin().FullName())
}

// ByFullName returns the local declaration with the given full name.
func (u *Unit) ByFullName(name string) (*Func, bool) {
	f, ok := u.byName[name]
	return f, ok
}

// Position returns the source position of f.
func (u *Unit) Position(f *Func) token.Position {
	return u.fset.Position(f.Pos())
}

// External returns the declaration standing for obj, a function of another
// package. Repeated calls return the same *Func, so the call graph keeps one
// node per external function. External is not safe for concurrent use.
func (u *Unit) External(obj *types.Func) *Func {
	obj = obj.Origin()
	name := obj.FullName()
	if f, ok := u.external[name]; ok {
		return f
	}
	f := &Func{
		kind:     KindExternal,
		name:     name,
		fullName: name,
		obj:      obj,
	}
	u.external[name] = f
	return f
}

// IsLocal reports whether obj is declared in this unit's package.
func (u *Unit) IsLocal(obj types.Object) bool {
	return obj != nil && obj.Pkg() != nil && obj.Pkg().Path() == u.types.Path()
}

func (u *Unit) indexFile(file *ast.File) {
	linknamed := linknameTargets(file)

	for _, d := range file.Decls {
		switch d := d.(type) {
		case *ast.FuncDecl:
			f := u.newDeclFunc(d)
			if d.Recv == nil && linknamed[d.Name.Name] {
				f.entry = true
			}
			u.add(f)
			u.decls = append(u.decls, f)
			u.collectClosures(f, d.Body)

		case *ast.GenDecl:
			if d.Tok != token.VAR {
				continue
			}
			for _, spec := range d.Specs {
				vs, ok := spec.(*ast.ValueSpec)
				if !ok {
					continue
				}
				for i, v := range vs.Values {
					name := vs.Names[0]
					if i < len(vs.Names) {
						name = vs.Names[i]
					}
					u.collectPackageClosures(name, v)
				}
			}
		}
	}
}

func (u *Unit) newDeclFunc(d *ast.FuncDecl) *Func {
	f := &Func{
		kind: KindFunction,
		decl: d,
	}
	if d.Recv != nil {
		f.kind = KindMethod
	}
	if u.info != nil {
		if obj, ok := u.info.Defs[d.Name].(*types.Func); ok {
			f.obj = obj
		}
	}

	local, full := u.declNames(d)
	f.name = local
	f.fullName = full
	if f.obj != nil && d.Name.Name != "init" {
		f.fullName = f.obj.FullName()
	}

	if d.Recv == nil {
		switch {
		case d.Name.Name == "init":
			f.entry = true
		case d.Name.Name == "main" && u.types.Name() == "main":
			f.entry = true
		case hasExportDirective(d.Doc):
			f.entry = true
		}
	}
	return f
}

// declNames builds "F" / "(*T).M" and their package-qualified forms the
// way types.Func.FullName spells them.
func (u *Unit) declNames(d *ast.FuncDecl) (local, full string) {
	name := d.Name.Name
	if d.Name.Name == "init" && d.Recv == nil {
		// A package may have several init functions.
		u.inits++
		name = "init#" + strconv.Itoa(u.inits)
	}
	if d.Recv == nil || len(d.Recv.List) == 0 {
		return name, u.types.Path() + "." + name
	}

	recv := ast.Unparen(d.Recv.List[0].Type)
	ptr := ""
	if star, ok := recv.(*ast.StarExpr); ok {
		ptr = "*"
		recv = ast.Unparen(star.X)
	}
	typeName := receiverTypeName(recv)
	local = "(" + ptr + typeName + ")." + name
	full = "(" + ptr + u.types.Path() + "." + typeName + ")." + name
	return local, full
}

func receiverTypeName(e ast.Expr) string {
	switch t := e.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverTypeName(t.X)
	case *ast.IndexListExpr:
		return receiverTypeName(t.X)
	default:
		return "?"
	}
}

func (u *Unit) add(f *Func) {
	u.funcs = append(u.funcs, f)
	if n := f.Syntax(); n != nil {
		u.bySyntax[n] = f
	}
	if f.obj != nil {
		u.byObject[f.obj] = f
	}
	u.byName[f.fullName] = f
}

// collectClosures attaches the function literals directly inside body to
// parent and recurses into each of them.
func (u *Unit) collectClosures(parent *Func, body ast.Node) {
	if body == nil || isNilNode(body) {
		return
	}
	ast.Inspect(body, func(n ast.Node) bool {
		lit, ok := n.(*ast.FuncLit)
		if !ok {
			return true
		}
		idx := len(parent.nested) + 1
		c := &Func{
			kind:     KindClosure,
			name:     parent.name + "$" + strconv.Itoa(idx),
			fullName: parent.fullName + "$" + strconv.Itoa(idx),
			lit:      lit,
			parent:   parent,
		}
		parent.nested = append(parent.nested, c)
		u.add(c)
		u.collectClosures(c, lit.Body)
		return false
	})
}

// collectPackageClosures registers the function literals of a package-level
// var initializer as top-level closures.
func (u *Unit) collectPackageClosures(name *ast.Ident, value ast.Expr) {
	idx := 0
	ast.Inspect(value, func(n ast.Node) bool {
		lit, ok := n.(*ast.FuncLit)
		if !ok {
			return true
		}
		idx++
		c := &Func{
			kind:     KindClosure,
			name:     name.Name + "$" + strconv.Itoa(idx),
			fullName: u.types.Path() + "." + name.Name + "$" + strconv.Itoa(idx),
			lit:      lit,
			exported: ast.IsExported(name.Name),
		}
		u.add(c)
		u.decls = append(u.decls, c)
		u.collectClosures(c, lit.Body)
		return false
	})
}

// isNilNode catches typed nil bodies such as a (*ast.BlockStmt)(nil).
func isNilNode(n ast.Node) bool {
	b, ok := n.(*ast.BlockStmt)
	return ok && b == nil
}

func hasExportDirective(doc *ast.CommentGroup) bool {
	if doc == nil {
		return false
	}
	for _, c := range doc.List {
		if strings.HasPrefix(c.Text, "//export ") {
			return true
		}
	}
	return false
}

// linknameTargets returns the local names pushed or pulled through
// //go:linkname directives anywhere in file.
func linknameTargets(file *ast.File) map[string]bool {
	out := make(map[string]bool)
	for _, cg := range file.Comments {
		for _, c := range cg.List {
			rest, ok := strings.CutPrefix(c.Text, "//go:linkname ")
			if !ok {
				continue
			}
			if fields := strings.Fields(rest); len(fields) > 0 {
				out[fields[0]] = true
			}
		}
	}
	return out
}
