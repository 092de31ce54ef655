package main

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"go-callgraph/resolve"
)

// ErrInvalidConfig is returned when the effective configuration is unusable.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the driver configuration. Values come from defaults, then the
// YAML file, then the environment, then command-line flags.
type Config struct {
	Dir      string   `yaml:"dir"`
	Patterns []string `yaml:"patterns"`
	Tests    bool     `yaml:"tests"`
	Strict   bool     `yaml:"strict"`

	Resolver string `yaml:"resolver"`
	External bool   `yaml:"external"`
	Dispatch bool   `yaml:"dispatch"`
	Workers  int    `yaml:"workers"`

	Trace   string `yaml:"trace"`
	Metrics string `yaml:"metrics"`

	Neo4j Neo4jConfig `yaml:"neo4j"`
}

// Neo4jConfig holds the connection settings of the neo4j command.
type Neo4jConfig struct {
	URI       string `yaml:"uri"`
	User      string `yaml:"user"`
	Pass      string `yaml:"pass"`
	Clean     bool   `yaml:"clean"`
	BatchSize int    `yaml:"batch_size"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Dir:      ".",
		Patterns: []string{"./..."},
		Resolver: "static",
		Dispatch: true,
		Trace:    "none",
		Metrics:  "none",
		Neo4j: Neo4jConfig{
			URI:       "bolt://localhost:7687",
			User:      "neo4j",
			BatchSize: defaultBatchSize,
		},
	}
}

// LoadConfig returns the defaults overlaid with the YAML file at path, if
// any, and the CALLGRAPH_* environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// loadDotEnv loads .env files into the process environment. Variables that
// are already set win. A missing default .env is not an error.
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CALLGRAPH_NEO4J_URI"); v != "" {
		cfg.Neo4j.URI = v
	}
	if v := os.Getenv("CALLGRAPH_NEO4J_USER"); v != "" {
		cfg.Neo4j.User = v
	}
	if v := os.Getenv("CALLGRAPH_NEO4J_PASS"); v != "" {
		cfg.Neo4j.Pass = v
	}
	if v := os.Getenv("CALLGRAPH_RESOLVER"); v != "" {
		cfg.Resolver = v
	}
}

// Validate checks the fields every command relies on.
func (c Config) Validate() error {
	if !slices.Contains(resolve.Names, c.Resolver) {
		return fmt.Errorf("%w: resolver %q, want one of %v", ErrInvalidConfig, c.Resolver, resolve.Names)
	}
	for name, v := range map[string]string{"trace": c.Trace, "metrics": c.Metrics} {
		if v != "none" && v != "stdout" {
			return fmt.Errorf("%w: %s exporter %q, want none or stdout", ErrInvalidConfig, name, v)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	}
	return nil
}

// redacted returns a copy safe to print.
func (c Config) redacted() Config {
	if c.Neo4j.Pass != "" {
		c.Neo4j.Pass = "***"
	}
	return c
}
