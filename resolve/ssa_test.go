package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-callgraph/goast"
)

func TestSSA_AgreesOnDirectCalls(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmStatic, AlgorithmCHA, AlgorithmVTA} {
		t.Run(alg.String(), func(t *testing.T) {
			u := loadUnit(t)
			g, stats := build(t, u, &SSA{Algorithm: alg, Logger: quietLogger()})

			assert.Equal(t, []string{"helper", "helper"}, callees(node(t, g, u, "example.com/p.Twice")))
			assert.Equal(t, []string{"Rec"}, callees(node(t, g, u, "example.com/p.Rec")))
			assert.Equal(t, []string{"pong"}, callees(node(t, g, u, "example.com/p.ping")))
			assert.Equal(t, []string{"ping"}, callees(node(t, g, u, "example.com/p.pong")))
			assert.Equal(t, []string{"local$1"}, callees(node(t, g, u, "example.com/p.local")))
			assert.Empty(t, callees(node(t, g, u, "example.com/p.UseGen")), "generic instances are skipped")
			assert.Positive(t, stats.Sites)
		})
	}
}

func TestSSA_PackageInitializerAndEscapes(t *testing.T) {
	u := loadUnit(t)
	g, stats := build(t, u, &SSA{Algorithm: AlgorithmStatic, Logger: quietLogger()})

	assert.True(t, g.IsRootLinked(node(t, g, u, "example.com/p.seed")))
	assert.True(t, g.IsRootLinked(node(t, g, u, "example.com/p.helper2")))
	assert.Equal(t, 2, stats.Escaped)
}

func TestSSA_CHADispatch(t *testing.T) {
	u := loadUnit(t)
	g, _ := build(t, u, &SSA{Algorithm: AlgorithmCHA, Logger: quietLogger()})

	got := map[string]int{}
	for _, name := range callees(node(t, g, u, "example.com/p.total")) {
		got[name]++
	}
	// Two call sites, each reaching both implementations once.
	assert.Equal(t, map[string]int{"(Sq).Area": 2, "(*Circ).Area": 2}, got)
}

func TestSSA_StaticHasNoDispatch(t *testing.T) {
	u := loadUnit(t)
	g, stats := build(t, u, &SSA{Algorithm: AlgorithmStatic, Logger: quietLogger()})

	assert.Empty(t, callees(node(t, g, u, "example.com/p.total")))
	assert.GreaterOrEqual(t, stats.Dynamic, 2, "both interface calls in total are sites")
	assert.GreaterOrEqual(t, stats.Unresolved, 2)
}

func TestSSA_SitesWithoutEdges(t *testing.T) {
	u := loadUnit(t)
	_, static := build(t, u, &SSA{Algorithm: AlgorithmStatic, Logger: quietLogger()})
	_, withCHA := build(t, u, &SSA{Algorithm: AlgorithmCHA, Logger: quietLogger()})

	assert.Equal(t, static.Sites, withCHA.Sites, "sites do not depend on the algorithm")
	assert.Equal(t, static.Dynamic, withCHA.Dynamic)
	assert.Greater(t, static.Unresolved, withCHA.Unresolved, "CHA resolves the interface calls")
	assert.Equal(t, withCHA.Sites, withCHA.Resolved+withCHA.Unresolved+withCHA.External)
}

func writeModule(t *testing.T, module string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	gomod := "module " + module + "\n\ngo 1.22\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte(gomod), 0o644))
	for name, src := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	}
	return dir
}

var sharedModule = map[string]string{
	"m.go": `package m

func helper() int { return 1 }

func Twice() int { return helper() + helper() }
`,
	"m_test.go": `package m

import "testing"

func TestTwice(t *testing.T) {
	if Twice() != 2 {
		t.Fatal("twice")
	}
}
`,
	"sub/sub.go": `package sub

import "example.com/m"

func Use() int { return m.Twice() }
`,
}

func TestSSA_SharedProgram(t *testing.T) {
	dir := writeModule(t, "example.com/m", sharedModule)

	for _, tests := range []bool{false, true} {
		for _, alg := range []Algorithm{AlgorithmStatic, AlgorithmCHA, AlgorithmVTA} {
			t.Run(fmt.Sprintf("%s/tests=%t", alg, tests), func(t *testing.T) {
				units, err := goast.Load(context.Background(), goast.LoadConfig{
					Dir:    dir,
					Tests:  tests,
					Logger: quietLogger(),
				})
				require.NoError(t, err)

				r := NewSSA(alg, goast.Packages(units))
				r.Logger = quietLogger()

				variants, subs := 0, 0
				for _, u := range units {
					switch u.Path() {
					case "example.com/m":
						variants++
						g, stats := build(t, u, r)
						id := u.Package().ID
						assert.Equal(t, []string{"helper", "helper"},
							callees(node(t, g, u, "example.com/m.Twice")), id)

						if _, ok := u.ByFullName("example.com/m.TestTwice"); ok {
							assert.Equal(t, []string{"Twice"},
								callees(node(t, g, u, "example.com/m.TestTwice")), id)
							assert.Equal(t, 4, stats.Sites, id)
							assert.Equal(t, 3, stats.Resolved, id)
							assert.Equal(t, 1, stats.External, id)
						} else {
							assert.Equal(t, 2, stats.Sites, id)
							assert.Equal(t, 2, stats.Resolved, id)
						}
						assert.Zero(t, stats.Unresolved, id)

					case "example.com/m/sub":
						subs++
						g, stats := build(t, u, r)
						assert.Empty(t, callees(node(t, g, u, "example.com/m/sub.Use")))
						assert.Equal(t, 1, stats.External)
					}
				}

				wantVariants := 1
				if tests {
					wantVariants = 2
				}
				assert.Equal(t, wantVariants, variants, "package plus its test variant")
				assert.Equal(t, 1, subs)
			})
		}
	}
}

func TestSSA_Cancelled(t *testing.T) {
	u := loadUnit(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Build(ctx, u, &SSA{Algorithm: AlgorithmStatic, Logger: quietLogger()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResolveCancelled)
}

func TestAlgorithm_String(t *testing.T) {
	assert.Equal(t, "static", AlgorithmStatic.String())
	assert.Equal(t, "cha", AlgorithmCHA.String())
	assert.Equal(t, "vta", AlgorithmVTA.String())
	assert.Equal(t, "unknown", Algorithm(42).String())
}
