package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	prev, had := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

const configYAML = `
resolver: cha
dispatch: false
workers: 3
neo4j:
  uri: bolt://file:7687
  user: fromfile
`

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"CALLGRAPH_RESOLVER", "CALLGRAPH_NEO4J_URI", "CALLGRAPH_NEO4J_USER", "CALLGRAPH_NEO4J_PASS"} {
		unsetEnv(t, key)
	}

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := writeFile(t, t.TempDir(), "callgraph.yaml", configYAML)
	unsetEnv(t, "CALLGRAPH_NEO4J_URI")
	unsetEnv(t, "CALLGRAPH_NEO4J_USER")
	t.Setenv("CALLGRAPH_RESOLVER", "vta")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "vta", cfg.Resolver, "env beats file")
	assert.False(t, cfg.Dispatch)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "bolt://file:7687", cfg.Neo4j.URI)
	assert.Equal(t, "fromfile", cfg.Neo4j.User)
	assert.Equal(t, []string{"./..."}, cfg.Patterns, "defaults survive")
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, t.TempDir(), "bad.yaml", "resolver: [unclosed")
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"resolver", func(c *Config) { c.Resolver = "pointer" }},
		{"trace", func(c *Config) { c.Trace = "jaeger" }},
		{"metrics", func(c *Config) { c.Metrics = "prometheus" }},
		{"workers", func(c *Config) { c.Workers = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	unsetEnv(t, "CALLGRAPH_NEO4J_USER")
	path := writeFile(t, t.TempDir(), ".env", "CALLGRAPH_NEO4J_USER=alice\n")

	require.NoError(t, loadDotEnv(path))
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Neo4j.User)

	assert.Error(t, loadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func runConfigCmd(t *testing.T, args ...string) Config {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "config"))
	require.NoError(t, cmd.Execute(), errOut.String())

	var cfg Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &cfg))
	return cfg
}

func TestRootCmd_Precedence(t *testing.T) {
	path := writeFile(t, t.TempDir(), "callgraph.yaml", configYAML)
	unsetEnv(t, "CALLGRAPH_NEO4J_URI")
	unsetEnv(t, "CALLGRAPH_NEO4J_USER")
	t.Setenv("CALLGRAPH_RESOLVER", "vta")
	t.Setenv("CALLGRAPH_NEO4J_PASS", "secret")

	t.Run("env over file", func(t *testing.T) {
		cfg := runConfigCmd(t, "--config", path)
		assert.Equal(t, "vta", cfg.Resolver)
		assert.Equal(t, 3, cfg.Workers)
		assert.Equal(t, "***", cfg.Neo4j.Pass, "password is redacted")
	})

	t.Run("flags over env", func(t *testing.T) {
		cfg := runConfigCmd(t, "--config", path, "--resolver", "none", "--workers", "7", "--dispatch=true")
		assert.Equal(t, "none", cfg.Resolver)
		assert.Equal(t, 7, cfg.Workers)
		assert.True(t, cfg.Dispatch)
	})

	t.Run("unset flags keep file values", func(t *testing.T) {
		cfg := runConfigCmd(t, "--config", path)
		assert.False(t, cfg.Dispatch)
		assert.Equal(t, "bolt://file:7687", cfg.Neo4j.URI)
	})
}

func TestRootCmd_InvalidResolver(t *testing.T) {
	unsetEnv(t, "CALLGRAPH_RESOLVER")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--resolver", "pointer", "config"})

	err := cmd.Execute()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectModulePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "// comment\nmodule example.com/demo\n\ngo 1.22\n")

	got, err := detectModulePath(dir)
	require.NoError(t, err)
	assert.Equal(t, "example.com/demo", got)

	_, err = detectModulePath(t.TempDir())
	assert.Error(t, err)
}
