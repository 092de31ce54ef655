package resolve

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"go-callgraph/callgraph"
	"go-callgraph/goast"
	"go-callgraph/traverse"
)

const source = `package p

type Shape interface{ Area() int }

type Sq struct{}

func (Sq) Area() int { return 1 }

type Circ struct{}

func (*Circ) Area() int { return 2 }

func total(s Shape) int { return s.Area() + s.Area() }

func helper() int { return 1 }

func Twice() int { return helper() + helper() }

func Values() func() int { return helper2 }

func helper2() int { return 3 }

func local() int {
	b := func() int { return helper() }
	return b()
}

func Rec(n int) int {
	if n == 0 {
		return 0
	}
	return Rec(n - 1)
}

func ping(n int) {
	if n > 0 {
		pong(n - 1)
	}
}

func pong(n int) {
	if n > 0 {
		ping(n - 1)
	}
}

func Conv(x int) int64 { return int64(x) + int64(len("ab")) }

func Gen[T any](t T) T { return t }

func UseGen() int { return Gen(1) }

var table = map[string]func() int{"h": helper3}

func helper3() int { return 4 }

var initVal = seed()

func seed() int { return 5 }
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadUnit(t *testing.T) *goast.Unit {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", source, parser.ParseComments)
	require.NoError(t, err)
	u, err := goast.Check(fset, "example.com/p", []*ast.File{f}, nil)
	require.NoError(t, err)
	return u
}

func build(t *testing.T, u *goast.Unit, r Resolver) (*callgraph.Graph, Stats) {
	t.Helper()
	g, stats, err := Build(context.Background(), u, r, callgraph.WithLogger(quietLogger()))
	require.NoError(t, err)
	return g, stats
}

func node(t *testing.T, g *callgraph.Graph, u *goast.Unit, fullName string) callgraph.Node {
	t.Helper()
	f, ok := u.ByFullName(fullName)
	require.True(t, ok, "no declaration %s", fullName)
	n, ok := g.GetNode(f)
	require.True(t, ok, "no node for %s", fullName)
	return n
}

func callees(n callgraph.Node) []string {
	var out []string
	for c := range n.Callees() {
		out = append(out, c.Name())
	}
	return out
}

func TestStatic_DirectCalls(t *testing.T) {
	u := loadUnit(t)
	g, stats := build(t, u, &Static{Logger: quietLogger()})

	// One edge per call site.
	assert.Equal(t, []string{"helper", "helper"}, callees(node(t, g, u, "example.com/p.Twice")))
	assert.Equal(t, []string{"Rec"}, callees(node(t, g, u, "example.com/p.Rec")))
	assert.Equal(t, []string{"pong"}, callees(node(t, g, u, "example.com/p.ping")))
	assert.Empty(t, callees(node(t, g, u, "example.com/p.Conv")), "conversions and builtins are not calls")
	assert.Empty(t, callees(node(t, g, u, "example.com/p.UseGen")))
	assert.Positive(t, stats.Unresolved)
}

func TestStatic_Closures(t *testing.T) {
	u := loadUnit(t)
	g, _ := build(t, u, &Static{Logger: quietLogger()})

	assert.Equal(t, []string{"local$1"}, callees(node(t, g, u, "example.com/p.local")))
	b := node(t, g, u, "example.com/p.local$1")
	assert.Equal(t, []string{"helper"}, callees(b))
	assert.False(t, g.IsRootLinked(b), "a closure only called through its variable does not escape")
}

func TestStatic_Escapes(t *testing.T) {
	u := loadUnit(t)
	g, stats := build(t, u, &Static{Logger: quietLogger()})

	assert.True(t, g.IsRootLinked(node(t, g, u, "example.com/p.helper2")))
	assert.True(t, g.IsRootLinked(node(t, g, u, "example.com/p.helper3")))
	assert.True(t, g.IsRootLinked(node(t, g, u, "example.com/p.seed")), "called from a package initializer")
	assert.False(t, g.IsRootLinked(node(t, g, u, "example.com/p.helper")))
	assert.Equal(t, 2, stats.Escaped)
	assert.Empty(t, callees(node(t, g, u, "example.com/p.Values")))
}

func TestStatic_InterfaceDispatch(t *testing.T) {
	u := loadUnit(t)

	t.Run("enabled", func(t *testing.T) {
		g, stats := build(t, u, &Static{DispatchInterfaces: true, Logger: quietLogger()})
		assert.Equal(t,
			[]string{"(Sq).Area", "(*Circ).Area", "(Sq).Area", "(*Circ).Area"},
			callees(node(t, g, u, "example.com/p.total")))
		// Two interface calls in total plus the call through b in local.
		assert.Equal(t, 3, stats.Dynamic)
	})

	t.Run("disabled", func(t *testing.T) {
		g, stats := build(t, u, &Static{Logger: quietLogger()})
		assert.Empty(t, callees(node(t, g, u, "example.com/p.total")))
		assert.Equal(t, 3, stats.Dynamic)
		assert.GreaterOrEqual(t, stats.Unresolved, 2, "interface calls stay unresolved")
	})
}

func TestStatic_Cycles(t *testing.T) {
	u := loadUnit(t)
	g, _ := build(t, u, &Static{Logger: quietLogger()})

	var names [][]string
	for _, c := range traverse.Cycles[callgraph.Node](g.Traits()) {
		var comp []string
		for _, n := range c {
			comp = append(comp, n.Name())
		}
		names = append(names, comp)
	}
	assert.Contains(t, names, []string{"Rec"})
	assert.Len(t, names, 2)

	dead := traverse.Unreachable[callgraph.Node](g.Traits())
	var deadNames []string
	for _, n := range dead {
		deadNames = append(deadNames, n.Name())
	}
	assert.Contains(t, deadNames, "ping")
	assert.NotContains(t, deadNames, "helper")
}

func TestStatic_Cancelled(t *testing.T) {
	u := loadUnit(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := callgraph.New(callgraph.WithLogger(quietLogger()))
	g.AddToCallGraph(u.Decls()...)
	_, err := (&Static{Logger: quietLogger()}).Resolve(ctx, g, u)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResolveCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNone(t *testing.T) {
	u := loadUnit(t)
	g, stats := build(t, u, None{})

	assert.Equal(t, Stats{}, stats)
	assert.Equal(t, g.Root().Len(), g.EdgeCount(), "only root edges")
}

func TestByName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"none", "none"},
		{"static", "static"},
		{"", "static"},
		{"ssa-static", "ssa-static"},
		{"cha", "cha"},
		{"vta", "vta"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			r, err := ByName(tt.name, WithDispatch(true), WithLogger(quietLogger()))
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Name())
		})
	}

	_, err := ByName("pointer")
	assert.ErrorIs(t, err, ErrUnknownResolver)
}

func TestBuild_Span(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	u := loadUnit(t)
	build(t, u, &Static{Logger: quietLogger()})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "resolve.Build", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("callgraph.package", "example.com/p"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("callgraph.resolver", "static"))
}
