package callgraph

import (
	"iter"
	"log/slog"
)

// Decl is a declaration as seen by the call graph. Implementations must be
// comparable (typically pointers); the interface value is the identity used
// to deduplicate nodes.
type Decl interface {
	// Name is a human readable name used by printers and logs.
	Name() string

	// Eligible reports whether the declaration is a concrete function,
	// method or closure. Generic declarations without concrete semantics
	// are not eligible.
	Eligible() bool

	// ExternallyReachable reports whether code outside the unit may call
	// the declaration (exported linkage, dynamic dispatch).
	ExternallyReachable() bool

	// Nested returns the callable blocks lexically nested directly inside
	// the declaration, in source order.
	Nested() []Decl
}

// NodeID indexes a node in its graph's arena. The root is always RootID.
type NodeID int

// RootID is the arena index of the synthetic root node.
const RootID NodeID = 0

// entry is an arena slot.
type entry struct {
	decl    Decl // nil only for the root
	callees []NodeID
}

// Options configures a Graph.
type Options struct {
	// Logger receives debug output from discovery. Defaults to slog.Default().
	Logger *slog.Logger

	// Capacity is a hint for the expected number of declarations.
	Capacity int
}

// Option is a functional option for New.
type Option func(*Options)

// WithLogger sets the logger used by discovery.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithCapacity preallocates room for n declarations.
func WithCapacity(n int) Option {
	return func(o *Options) {
		o.Capacity = n
	}
}

// Graph is the call graph of one compilation unit.
//
// Lifecycle:
//
//  1. Create with New
//  2. Discover declarations with AddToCallGraph
//  3. Optionally add call edges with Node.AddCallee / GetOrInsertNode
//  4. Query with GetNode, Nodes, Traits, ...
type Graph struct {
	nodes  []entry
	index  map[Decl]NodeID
	rooted map[NodeID]struct{}
	logger *slog.Logger
}

// New creates an empty graph holding only the root node.
func New(opts ...Option) *Graph {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Capacity < 0 {
		o.Capacity = 0
	}

	g := &Graph{
		nodes:  make([]entry, 1, o.Capacity+1),
		index:  make(map[Decl]NodeID, o.Capacity),
		rooted: make(map[NodeID]struct{}),
		logger: o.Logger,
	}
	return g
}

// IncludeInGraph reports whether d should get a node during discovery.
func IncludeInGraph(d Decl) bool {
	return d != nil && d.Eligible()
}

// AddToCallGraph discovers every eligible declaration in decls, including
// the closures nested inside them, and links the externally reachable ones
// from the root. Statement bodies are never walked. Adding the same
// declaration again returns to the same node and does not duplicate its
// root edge.
func (g *Graph) AddToCallGraph(decls ...Decl) {
	for _, d := range decls {
		g.discover(d, false)
	}
}

func (g *Graph) discover(d Decl, enclosingReachable bool) {
	if !IncludeInGraph(d) {
		if d != nil {
			g.logger.Debug("call graph: skipping declaration",
				slog.String("decl", d.Name()))
		}
		return
	}

	reachable := enclosingReachable || d.ExternallyReachable()

	// Closures get their nodes before the enclosing declaration.
	for _, inner := range d.Nested() {
		g.discover(inner, reachable)
	}

	n := g.GetOrInsertNode(d)
	if reachable {
		g.linkFromRoot(n.id)
	}
}

// GetNode returns the node for d, if any. It never allocates.
func (g *Graph) GetNode(d Decl) (Node, bool) {
	if d == nil {
		return Node{}, false
	}
	id, ok := g.index[d]
	if !ok {
		return Node{}, false
	}
	return Node{g: g, id: id}, true
}

// GetOrInsertNode returns the node for d, allocating it on first use.
// Resolution passes use it for callees that discovery did not see. d must
// not be nil.
func (g *Graph) GetOrInsertNode(d Decl) Node {
	if n, ok := g.GetNode(d); ok {
		return n
	}
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, entry{decl: d})
	g.index[d] = id
	return Node{g: g, id: id}
}

// Root returns the synthetic root node.
func (g *Graph) Root() Node {
	return Node{g: g, id: RootID}
}

// LinkFromRoot records that n may be called from outside the unit. The edge
// is added at most once per node.
func (g *Graph) LinkFromRoot(n Node) error {
	if err := g.owns(n); err != nil {
		return err
	}
	if n.id != RootID {
		g.linkFromRoot(n.id)
	}
	return nil
}

// IsRootLinked reports whether the root has an edge to n.
func (g *Graph) IsRootLinked(n Node) bool {
	if n.g != g {
		return false
	}
	_, ok := g.rooted[n.id]
	return ok
}

func (g *Graph) linkFromRoot(id NodeID) {
	if _, ok := g.rooted[id]; ok {
		return
	}
	g.rooted[id] = struct{}{}
	g.nodes[RootID].callees = append(g.nodes[RootID].callees, id)
}

// Len returns the number of declaration nodes, excluding the root.
func (g *Graph) Len() int {
	return len(g.nodes) - 1
}

// Nodes yields every declaration node, excluding the root. Callers must not
// rely on the order for anything but display.
func (g *Graph) Nodes() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for id := 1; id < len(g.nodes); id++ {
			if !yield(Node{g: g, id: NodeID(id)}) {
				return
			}
		}
	}
}

// EdgeCount returns the number of call edges, root edges included.
func (g *Graph) EdgeCount() int {
	total := 0
	for i := range g.nodes {
		total += len(g.nodes[i].callees)
	}
	return total
}

func (g *Graph) owns(n Node) error {
	if n.g == nil || n.id < 0 || int(n.id) >= len(n.g.nodes) {
		return ErrInvalidNode
	}
	if n.g != g {
		return ErrForeignNode
	}
	return nil
}
