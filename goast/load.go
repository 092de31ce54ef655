package goast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/tools/go/packages"
)

var (
	// ErrNoPackages is returned when a load matches no usable package.
	ErrNoPackages = errors.New("no packages matched")

	// ErrPackageErrors is returned by a strict load when any package failed
	// to parse or type-check.
	ErrPackageErrors = errors.New("packages contain errors")
)

// LoadMode is what Load asks go/packages for: full syntax and types for the
// requested packages and all their dependencies, which SSA construction
// needs as well.
const LoadMode = packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
	packages.NeedImports | packages.NeedDeps | packages.NeedTypes |
	packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedTypesSizes

// LoadConfig selects the packages to load.
type LoadConfig struct {
	// Dir is the directory the patterns are relative to.
	Dir string

	// Patterns are go/packages patterns. Defaults to "./...".
	Patterns []string

	// Tests also loads test variants of the packages.
	Tests bool

	// Strict fails the load when any package reports errors instead of
	// logging them.
	Strict bool

	// Logger receives package error warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Load loads and type-checks packages and returns one Unit per package.
// Packages with errors are kept as long as they have type information; their
// errors are logged.
func Load(ctx context.Context, cfg LoadConfig) ([]*Unit, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	pkgs, err := packages.Load(&packages.Config{
		Context: ctx,
		Mode:    LoadMode,
		Dir:     cfg.Dir,
		Tests:   cfg.Tests,
	}, patterns...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	units := make([]*Unit, 0, len(pkgs))
	failed := 0
	for _, p := range pkgs {
		for _, e := range p.Errors {
			logger.Warn("package error",
				slog.String("package", p.PkgPath),
				slog.String("error", e.Error()))
		}
		if len(p.Errors) > 0 {
			failed++
		}
		if p.Types == nil || p.TypesInfo == nil || len(p.Syntax) == 0 {
			logger.Warn("skipping package without syntax or types",
				slog.String("package", p.PkgPath))
			continue
		}
		units = append(units, newPackageUnit(p))
	}
	if cfg.Strict && failed > 0 {
		return nil, fmt.Errorf("%w: %d of %d packages", ErrPackageErrors, failed, len(pkgs))
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoPackages, patterns)
	}
	return units, nil
}

// Packages returns the go/packages packages behind units, skipping units
// built from bare files.
func Packages(units []*Unit) []*packages.Package {
	out := make([]*packages.Package, 0, len(units))
	for _, u := range units {
		if u.pkg != nil {
			out = append(out, u.pkg)
		}
	}
	return out
}
