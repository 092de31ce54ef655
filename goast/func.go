package goast

import (
	"go/ast"
	"go/token"
	"go/types"

	"go-callgraph/callgraph"
)

// Kind classifies a function-like declaration.
type Kind int

const (
	// KindFunction is a package-level func declaration.
	KindFunction Kind = iota + 1

	// KindMethod is a func declaration with a receiver.
	KindMethod

	// KindClosure is a function literal.
	KindClosure

	// KindExternal is a function declared outside the unit. Only
	// resolution passes create these.
	KindExternal
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindMethod:
		return "method"
	case KindClosure:
		return "closure"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Func is a function-like declaration of a Unit. It implements
// callgraph.Decl.
type Func struct {
	kind     Kind
	name     string
	fullName string
	obj      *types.Func
	decl     *ast.FuncDecl
	lit      *ast.FuncLit
	parent   *Func
	nested   []*Func

	// exported is set for package-level closures bound to exported vars.
	exported bool

	// entry marks functions the runtime or the linker calls:
	// main, init, //export and //go:linkname targets.
	entry bool
}

var _ callgraph.Decl = (*Func)(nil)

// Name returns a display name: "F", "(*T).M", "F$1" for local
// declarations and the fully qualified name for external ones.
func (f *Func) Name() string { return f.name }

// FullName returns the package-qualified name in types.Func.FullName form.
// Closures append "$N" to their parent's full name.
func (f *Func) FullName() string { return f.fullName }

// Kind returns the declaration kind.
func (f *Func) Kind() Kind { return f.kind }

// Object returns the type-checker object, or nil for closures and
// declarations built without type information.
func (f *Func) Object() *types.Func { return f.obj }

// Decl returns the func declaration, or nil.
func (f *Func) Decl() *ast.FuncDecl { return f.decl }

// Lit returns the function literal of a closure, or nil.
func (f *Func) Lit() *ast.FuncLit { return f.lit }

// Syntax returns the *ast.FuncDecl or *ast.FuncLit, or nil for external
// functions.
func (f *Func) Syntax() ast.Node {
	switch {
	case f.decl != nil:
		return f.decl
	case f.lit != nil:
		return f.lit
	default:
		return nil
	}
}

// Body returns the function body, or nil.
func (f *Func) Body() *ast.BlockStmt {
	switch {
	case f.decl != nil:
		return f.decl.Body
	case f.lit != nil:
		return f.lit.Body
	default:
		return nil
	}
}

// Pos returns the position of the declaration.
func (f *Func) Pos() token.Pos {
	if n := f.Syntax(); n != nil {
		return n.Pos()
	}
	if f.obj != nil {
		return f.obj.Pos()
	}
	return token.NoPos
}

// Parent returns the enclosing declaration of a closure.
func (f *Func) Parent() *Func { return f.parent }

// Closures returns the function literals nested directly inside f.
func (f *Func) Closures() []*Func { return f.nested }

// IsEntry reports whether something outside Go code calls f: main, init,
// cgo //export and //go:linkname targets.
func (f *Func) IsEntry() bool { return f.entry }

// Eligible reports whether f has concrete semantics. Functions and methods
// need a body and no type parameters; closures follow their enclosing
// declaration.
func (f *Func) Eligible() bool {
	switch f.kind {
	case KindFunction, KindMethod:
		return f.decl != nil && f.decl.Body != nil && !isGenericDecl(f.decl)
	case KindClosure:
		return f.parent == nil || f.parent.Eligible()
	case KindExternal:
		return f.obj != nil && !isGenericObject(f.obj)
	default:
		return false
	}
}

// ExternallyReachable reports whether callers outside the unit may reach f.
// Every method counts, since any method may satisfy an interface.
func (f *Func) ExternallyReachable() bool {
	switch f.kind {
	case KindFunction:
		return f.entry || ast.IsExported(f.decl.Name.Name)
	case KindMethod:
		return true
	case KindClosure:
		return f.exported
	case KindExternal:
		return f.obj.Exported()
	default:
		return false
	}
}

// Nested implements callgraph.Decl.
func (f *Func) Nested() []callgraph.Decl {
	if len(f.nested) == 0 {
		return nil
	}
	out := make([]callgraph.Decl, len(f.nested))
	for i, c := range f.nested {
		out[i] = c
	}
	return out
}

func isGenericDecl(d *ast.FuncDecl) bool {
	if d.Type.TypeParams != nil && d.Type.TypeParams.NumFields() > 0 {
		return true
	}
	if d.Recv == nil || len(d.Recv.List) == 0 {
		return false
	}
	t := ast.Unparen(d.Recv.List[0].Type)
	if star, ok := t.(*ast.StarExpr); ok {
		t = ast.Unparen(star.X)
	}
	switch t.(type) {
	case *ast.IndexExpr, *ast.IndexListExpr:
		return true
	}
	return false
}

func isGenericObject(obj *types.Func) bool {
	sig, ok := obj.Type().(*types.Signature)
	if !ok {
		return false
	}
	return sig.TypeParams().Len() > 0 || sig.RecvTypeParams().Len() > 0
}
