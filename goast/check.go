package goast

import (
	"fmt"
	"go/ast"
	"go/importer"
	"go/token"
	"go/types"
)

// NewInfo returns a types.Info recording everything the resolvers read.
func NewInfo() *types.Info {
	return &types.Info{
		Types:      make(map[ast.Expr]types.TypeAndValue),
		Instances:  make(map[*ast.Ident]types.Instance),
		Defs:       make(map[*ast.Ident]types.Object),
		Uses:       make(map[*ast.Ident]types.Object),
		Implicits:  make(map[ast.Node]types.Object),
		Selections: make(map[*ast.SelectorExpr]*types.Selection),
		Scopes:     make(map[ast.Node]*types.Scope),
	}
}

// Check type-checks already parsed files as package path and returns the
// Unit. imp resolves imports; nil uses the default importer.
func Check(fset *token.FileSet, path string, files []*ast.File, imp types.Importer) (*Unit, error) {
	if imp == nil {
		imp = importer.Default()
	}
	conf := types.Config{Importer: imp}
	info := NewInfo()
	pkg, err := conf.Check(path, fset, files, info)
	if err != nil {
		return nil, fmt.Errorf("type-check %s: %w", path, err)
	}
	return NewUnit(fset, pkg, info, files), nil
}
