package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const defaultBatchSize = 1000

// Neo4jLoader loads call graph records into a Neo4j database using batch
// UNWIND queries. Every node and relationship it writes carries the run ID
// of the loader.
type Neo4jLoader struct {
	driver    neo4j.DriverWithContext
	runID     string
	batchSize int
	logger    *slog.Logger
}

// NewNeo4jLoader connects to Neo4j and returns a ready-to-use loader.
func NewNeo4jLoader(ctx context.Context, cfg Neo4jConfig, logger *slog.Logger) (*Neo4jLoader, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Pass, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j at %s: %w", cfg.URI, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	runID := uuid.NewString()
	return &Neo4jLoader{
		driver:    driver,
		runID:     runID,
		batchSize: batch,
		logger:    logger.With(slog.String("run_id", runID)),
	}, nil
}

// RunID returns the identifier stamped on everything this loader writes.
func (l *Neo4jLoader) RunID() string { return l.runID }

// Close releases the underlying Neo4j driver resources.
func (l *Neo4jLoader) Close(ctx context.Context) error {
	return l.driver.Close(ctx)
}

// runCypher runs a single Cypher statement with optional parameters.
func (l *Neo4jLoader) runCypher(ctx context.Context, cypher string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, l.driver, cypher, params, neo4j.EagerResultTransformer)
	return err
}

// runBatches runs an UNWIND $batch statement over rows in chunks.
func (l *Neo4jLoader) runBatches(ctx context.Context, cypher string, rows []map[string]any) error {
	for _, chunk := range chunks(rows, l.batchSize) {
		params := map[string]any{"batch": chunk, "run_id": l.runID}
		if err := l.runCypher(ctx, cypher, params); err != nil {
			return err
		}
	}
	return nil
}

// CleanGraph removes all previously loaded call graph nodes and relationships.
func (l *Neo4jLoader) CleanGraph(ctx context.Context) error {
	l.logger.Info("cleaning existing call graph data")
	queries := []string{
		"MATCH ()-[r:CG_CALLS]->() DELETE r",
		"MATCH ()-[r:CG_ROOT_CALLS]->() DELETE r",
		"MATCH (n:CGRoot) DETACH DELETE n",
		"MATCH (n:CGFunc) DETACH DELETE n",
		"MATCH (n:CGPackage) DETACH DELETE n",
	}
	for _, q := range queries {
		if err := l.runCypher(ctx, q, nil); err != nil {
			return fmt.Errorf("clean graph: %w", err)
		}
	}
	return nil
}

// CreateIndexes ensures the required Neo4j indexes exist.
func (l *Neo4jLoader) CreateIndexes(ctx context.Context) error {
	l.logger.Info("creating indexes")
	indexes := []string{
		"CREATE INDEX cg_pkg_path IF NOT EXISTS FOR (n:CGPackage) ON (n.import_path)",
		"CREATE INDEX cg_func_fullname IF NOT EXISTS FOR (n:CGFunc) ON (n.full_name)",
		"CREATE INDEX cg_root_pkg IF NOT EXISTS FOR (n:CGRoot) ON (n.package)",
	}
	for _, q := range indexes {
		if err := l.runCypher(ctx, q, nil); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// LoadPackages upserts CGPackage nodes and one CGRoot per package.
func (l *Neo4jLoader) LoadPackages(ctx context.Context, pkgs []PackageNode) error {
	l.logger.Info("loading packages", slog.Int("count", len(pkgs)))
	return l.runBatches(ctx,
		`UNWIND $batch AS row
		 MERGE (p:CGPackage {import_path: row.path})
		 SET p.name = row.name, p.dir = row.dir, p.resolver = row.resolver,
		     p.func_count = row.funcs, p.edge_count = row.edges,
		     p.unresolved = row.unresolved, p.run_id = $run_id
		 MERGE (r:CGRoot {package: row.path})
		 SET r.run_id = $run_id
		 MERGE (r)-[:IN_PACKAGE]->(p)`,
		packageRows(pkgs),
	)
}

// LoadFuncs upserts CGFunc nodes and links local ones to their packages.
func (l *Neo4jLoader) LoadFuncs(ctx context.Context, funcs []FuncNode) error {
	l.logger.Info("loading functions", slog.Int("count", len(funcs)))
	return l.runBatches(ctx,
		`UNWIND $batch AS row
		 MERGE (n:CGFunc {full_name: row.fullname})
		 SET n.name = row.name, n.package = row.pkg, n.kind = row.kind,
		     n.file = row.file, n.line = row.line, n.exported = row.exported,
		     n.root_linked = row.root_linked, n.reachable = row.reachable,
		     n.run_id = $run_id
		 WITH n, row
		 MATCH (p:CGPackage {import_path: row.pkg})
		 MERGE (n)-[:IN_PACKAGE]->(p)`,
		funcRows(funcs),
	)
}

// LoadRootEdges upserts CG_ROOT_CALLS relationships from each package root.
func (l *Neo4jLoader) LoadRootEdges(ctx context.Context, roots []RootEdge) error {
	l.logger.Info("loading root edges", slog.Int("count", len(roots)))
	return l.runBatches(ctx,
		`UNWIND $batch AS row
		 MATCH (r:CGRoot {package: row.pkg})
		 MERGE (f:CGFunc {full_name: row.callee})
		 MERGE (r)-[e:CG_ROOT_CALLS]->(f)
		 SET e.run_id = $run_id`,
		rootRows(roots),
	)
}

// LoadCalls upserts CG_CALLS relationships between CGFunc nodes.
func (l *Neo4jLoader) LoadCalls(ctx context.Context, calls []CallEdge) error {
	l.logger.Info("loading call edges", slog.Int("count", len(calls)))
	return l.runBatches(ctx,
		`UNWIND $batch AS row
		 MERGE (caller:CGFunc {full_name: row.caller})
		 MERGE (callee:CGFunc {full_name: row.callee})
		 MERGE (caller)-[r:CG_CALLS]->(callee)
		 SET r.count = row.count, r.run_id = $run_id`,
		callRows(calls),
	)
}

// Load writes all records, packages first so later statements can attach
// to them.
func (l *Neo4jLoader) Load(ctx context.Context, recs Records) error {
	steps := []func(context.Context) error{
		l.CreateIndexes,
		func(ctx context.Context) error { return l.LoadPackages(ctx, recs.Packages) },
		func(ctx context.Context) error { return l.LoadFuncs(ctx, recs.Funcs) },
		func(ctx context.Context) error { return l.LoadRootEdges(ctx, recs.Roots) },
		func(ctx context.Context) error { return l.LoadCalls(ctx, recs.Calls) },
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return fmt.Errorf("neo4j load %s: %w", l.runID, err)
		}
	}
	return nil
}

func packageRows(pkgs []PackageNode) []map[string]any {
	rows := make([]map[string]any, 0, len(pkgs))
	for _, p := range pkgs {
		rows = append(rows, map[string]any{
			"path": p.ImportPath, "name": p.Name, "dir": p.Dir,
			"resolver": p.Resolver, "funcs": p.Funcs, "edges": p.Edges,
			"unresolved": p.Unresolved,
		})
	}
	return rows
}

func funcRows(funcs []FuncNode) []map[string]any {
	rows := make([]map[string]any, 0, len(funcs))
	for _, fn := range funcs {
		rows = append(rows, map[string]any{
			"fullname": fn.FullName, "name": fn.Name, "pkg": fn.Package,
			"kind": fn.Kind, "file": fn.File, "line": fn.Line,
			"exported": fn.Exported, "root_linked": fn.RootLinked,
			"reachable": fn.Reachable,
		})
	}
	return rows
}

func rootRows(roots []RootEdge) []map[string]any {
	rows := make([]map[string]any, 0, len(roots))
	for _, r := range roots {
		rows = append(rows, map[string]any{"pkg": r.Package, "callee": r.CalleeFullName})
	}
	return rows
}

func callRows(calls []CallEdge) []map[string]any {
	rows := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		rows = append(rows, map[string]any{
			"caller": c.CallerFullName,
			"callee": c.CalleeFullName,
			"count":  c.Count,
		})
	}
	return rows
}

// chunks splits rows into slices of at most size elements.
func chunks[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = defaultBatchSize
	}
	var out [][]T
	for len(rows) > size {
		out = append(out, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}
