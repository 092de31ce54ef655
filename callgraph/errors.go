// Package callgraph provides an AST-level call graph over the function-like
// declarations of a single compilation unit.
//
// The graph has a synthetic root node that calls every declaration which may
// be invoked from outside the unit (exported linkage, dynamic dispatch, or a
// closure nested in such a declaration). Ordinary caller -> callee edges are
// added by a separate resolution pass through Node.AddCallee.
//
// # Ownership
//
// A Graph owns an arena of nodes. A Node is a small value handle into that
// arena; it carries its graph so that edges can only be made between nodes of
// the same graph. The zero Node is invalid.
//
// # Thread Safety
//
// Graph is not safe for concurrent mutation. Build it from one goroutine, then
// read it from as many as needed as long as nobody adds edges meanwhile.
package callgraph

import "errors"

// Sentinel errors for edge insertion.
var (
	// ErrInvalidNode is returned for the zero Node or an out-of-range handle.
	ErrInvalidNode = errors.New("invalid call graph node")

	// ErrForeignNode is returned when an edge would join nodes of two
	// different graphs.
	ErrForeignNode = errors.New("node belongs to a different call graph")
)
