package main

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-callgraph/goast"
	"go-callgraph/resolve"
)

const libSource = `package lib

func Run() int { return step() + step() }

func step() int { return 1 }

func unused() {}

func Loop(n int) int {
	if n == 0 {
		return 0
	}
	return Loop(n - 1)
}
`

const appSource = `package app

import "example.com/lib"

func Main() int { return lib.Run() }
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func checkUnit(t *testing.T, fset *token.FileSet, path, src string, imp types.Importer) *goast.Unit {
	t.Helper()
	f, err := parser.ParseFile(fset, path+".go", src, parser.ParseComments)
	require.NoError(t, err)
	u, err := goast.Check(fset, path, []*ast.File{f}, imp)
	require.NoError(t, err)
	return u
}

func twoUnits(t *testing.T) []*goast.Unit {
	t.Helper()
	fset := token.NewFileSet()
	lib := checkUnit(t, fset, "example.com/lib", libSource, nil)
	imp := importerFunc(func(path string) (*types.Package, error) {
		require.Equal(t, "example.com/lib", path)
		return lib.Types(), nil
	})
	app := checkUnit(t, fset, "example.com/app", appSource, imp)
	return []*goast.Unit{lib, app}
}

type importerFunc func(path string) (*types.Package, error)

func (f importerFunc) Import(path string) (*types.Package, error) { return f(path) }

func collectAll(t *testing.T, external bool) (*Collector, []*Result) {
	t.Helper()
	r := &resolve.Static{IncludeExternal: external, Logger: discardLogger()}
	c := NewCollector("example.com", "", r, discardLogger())
	c.Workers = 2
	results, err := c.Collect(context.Background(), twoUnits(t))
	require.NoError(t, err)
	return c, results
}

func funcByName(recs Records, fullName string) (FuncNode, bool) {
	for _, fn := range recs.Funcs {
		if fn.FullName == fullName {
			return fn, true
		}
	}
	return FuncNode{}, false
}

func TestCollector_Collect(t *testing.T) {
	_, results := collectAll(t, false)

	require.Len(t, results, 2)
	assert.Equal(t, "example.com/lib", results[0].Unit.Path(), "results keep unit order")
	assert.Equal(t, "example.com/app", results[1].Unit.Path())
	assert.Equal(t, 4, results[0].Graph.Len())
	assert.Equal(t, 1, results[1].Graph.Len(), "external callees are left out")
	assert.Equal(t, 1, results[1].Stats.External)
}

func TestCollector_SkipsForeignPackages(t *testing.T) {
	c := NewCollector("example.com/lib", "", resolve.None{}, discardLogger())
	results, err := c.Collect(context.Background(), twoUnits(t))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "example.com/lib", results[0].Unit.Path())
}

func TestCollector_Records(t *testing.T) {
	c, results := collectAll(t, false)
	recs := c.Records(results)

	require.Len(t, recs.Packages, 2)
	assert.Equal(t, "static", recs.Packages[0].Resolver)
	assert.Equal(t, 4, recs.Packages[0].Funcs)

	run, ok := funcByName(recs, "example.com/lib.Run")
	require.True(t, ok)
	assert.Equal(t, "function", run.Kind)
	assert.True(t, run.Exported)
	assert.True(t, run.RootLinked)
	assert.True(t, run.Reachable)
	assert.Equal(t, 3, run.Line)

	step, ok := funcByName(recs, "example.com/lib.step")
	require.True(t, ok)
	assert.False(t, step.RootLinked)
	assert.True(t, step.Reachable)

	unused, ok := funcByName(recs, "example.com/lib.unused")
	require.True(t, ok)
	assert.False(t, unused.Reachable)

	assert.Contains(t, recs.Calls, CallEdge{
		CallerFullName: "example.com/lib.Run",
		CalleeFullName: "example.com/lib.step",
		Count:          2,
	}, "parallel edges collapse into a count")
	assert.Contains(t, recs.Calls, CallEdge{
		CallerFullName: "example.com/lib.Loop",
		CalleeFullName: "example.com/lib.Loop",
		Count:          1,
	})
	assert.Contains(t, recs.Roots, RootEdge{Package: "example.com/app", CalleeFullName: "example.com/app.Main"})
	assert.NotContains(t, recs.Roots, RootEdge{Package: "example.com/lib", CalleeFullName: "example.com/lib.step"})
}

func TestCollector_RecordsPreferLocalOverExternal(t *testing.T) {
	c, results := collectAll(t, true)
	require.Equal(t, 2, results[1].Graph.Len(), "Main plus the external stand-in for lib.Run")

	recs := c.Records(results)
	count := 0
	for _, fn := range recs.Funcs {
		if fn.FullName == "example.com/lib.Run" {
			count++
			assert.Equal(t, "function", fn.Kind)
			assert.Equal(t, "example.com/lib", fn.Package)
		}
	}
	assert.Equal(t, 1, count)
	assert.Contains(t, recs.Calls, CallEdge{
		CallerFullName: "example.com/app.Main",
		CalleeFullName: "example.com/lib.Run",
		Count:          1,
	})
}

const appTwoSource = `package two

import "example.com/lib"

func unused() int { return lib.Run() }
`

const testMainSource = `package main

func main() {}
`

func TestCollector_ExternalFlagsMergeAcrossPackages(t *testing.T) {
	units := twoUnits(t)
	lib, app := units[0], units[1]
	imp := importerFunc(func(string) (*types.Package, error) { return lib.Types(), nil })
	two := checkUnit(t, app.Fset(), "example.com/app/two", appTwoSource, imp)

	r := &resolve.Static{IncludeExternal: true, Logger: discardLogger()}
	c := NewCollector("example.com/app", "", r, discardLogger())
	results, err := c.Collect(context.Background(), []*goast.Unit{two, app})
	require.NoError(t, err)
	require.Len(t, results, 2)

	recs := c.Records(results)
	run, ok := funcByName(recs, "example.com/lib.Run")
	require.True(t, ok)
	assert.Equal(t, "external", run.Kind)
	assert.True(t, run.Reachable, "reached from app.Main even though two only calls it from dead code")
}

func TestCollector_IsProjectPackage(t *testing.T) {
	tests := []struct {
		module, path string
		want         bool
	}{
		{"", "anything/at/all", true},
		{"example.com/m", "example.com/m", true},
		{"example.com/m", "example.com/m/sub", true},
		{"example.com/m", "example.com/mother", false},
		{"example.com/m", "example.org/m", false},
	}
	for _, tt := range tests {
		t.Run(tt.module+"|"+tt.path, func(t *testing.T) {
			c := &Collector{RootModule: tt.module}
			assert.Equal(t, tt.want, c.isProjectPackage(tt.path))
		})
	}
}

func TestCollector_SkipsTestMain(t *testing.T) {
	units := twoUnits(t)
	testMain := checkUnit(t, units[0].Fset(), "example.com/lib.test", testMainSource, nil)

	c := NewCollector("", "", resolve.None{}, discardLogger())
	results, err := c.Collect(context.Background(), append(units, testMain))
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "example.com/lib.test", r.Unit.Path())
	}
}

func TestCollector_RelPath(t *testing.T) {
	c := &Collector{RootDir: "/src/project"}
	assert.Equal(t, "pkg/a.go", c.relPath("/src/project/pkg/a.go"))
	assert.Equal(t, "/elsewhere/b.go", c.relPath("/elsewhere/b.go"))
	assert.Equal(t, "", c.relPath(""))
}
