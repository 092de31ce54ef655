package callgraph

import (
	"bufio"
	"io"
	"os"
)

// Print writes a plain-text dump of the graph, one line per node:
//
//	--- Call graph Dump ---
//	  Function: < root > calls: F (*T).M
//	  Function: F calls: g g
func (g *Graph) Print(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(" --- Call graph Dump --- \n")
	printNode(bw, g.Root())
	for n := range g.Nodes() {
		printNode(bw, n)
	}
	return bw.Flush()
}

func printNode(w *bufio.Writer, n Node) {
	w.WriteString("  Function: ")
	w.WriteString(n.Name())
	w.WriteString(" calls: ")
	for c := range n.Callees() {
		w.WriteString(c.Name())
		w.WriteByte(' ')
	}
	w.WriteByte('\n')
}

// Dump prints the graph to stderr.
func (g *Graph) Dump() {
	_ = g.Print(os.Stderr)
}
