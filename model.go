package main

// PackageNode represents an analysed Go package.
type PackageNode struct {
	ImportPath string
	Name       string
	Dir        string
	Resolver   string
	Funcs      int
	Edges      int
	Unresolved int
}

// FuncNode represents one call graph node: a function, method, closure or
// a function of another package.
type FuncNode struct {
	Name       string
	FullName   string // types.Func.FullName form, closures suffixed with $N
	Package    string
	Kind       string // function, method, closure or external
	File       string
	Line       int
	Exported   bool
	RootLinked bool // has an edge from the synthetic root
	Reachable  bool // reachable from the root
}

// CallEdge represents the calls from one function to another. Count is the
// number of call sites.
type CallEdge struct {
	CallerFullName string
	CalleeFullName string
	Count          int
}

// RootEdge links a package's synthetic root to an entry declaration.
type RootEdge struct {
	Package        string
	CalleeFullName string
}

// Records is the flattened form of a set of call graphs.
type Records struct {
	Packages []PackageNode
	Funcs    []FuncNode
	Calls    []CallEdge
	Roots    []RootEdge
}
