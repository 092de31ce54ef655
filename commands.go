package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go-callgraph/callgraph"
	"go-callgraph/traverse"
)

func (a *app) printCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print [patterns...]",
		Short: "Dump the call graph of each package",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, results, err := a.collect(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "package %s\n", r.Unit.Path())
				if err := r.Graph.Print(out); err != nil {
					return err
				}
				s := r.Stats
				fmt.Fprintf(out, "  %d nodes, %d sites, %d resolved, %d dynamic, %d external, %d escaped, %d unresolved\n\n",
					r.Graph.Len(), s.Sites, s.Resolved, s.Dynamic, s.External, s.Escaped, s.Unresolved)
			}
			return nil
		},
	}
}

func (a *app) deadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dead [patterns...]",
		Short: "List declarations unreachable from the root",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, results, err := a.collect(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			total := 0
			for _, r := range results {
				for _, n := range traverse.Unreachable[callgraph.Node](r.Graph.Traits()) {
					fn := c.funcNode(r.Unit, n)
					fmt.Fprintf(out, "%s:%d\t%s\t%s\n", fn.File, fn.Line, fn.Kind, fn.FullName)
					total++
				}
			}
			a.logger.Info("unreachable declarations", slog.Int("count", total))
			return nil
		},
	}
}

func (a *app) cyclesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycles [patterns...]",
		Short: "List recursive call cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, results, err := a.collect(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				for _, cycle := range traverse.Cycles[callgraph.Node](r.Graph.Traits()) {
					names := make([]string, len(cycle))
					for i, n := range cycle {
						names[i] = n.Name()
					}
					fmt.Fprintf(out, "%s: %s\n", r.Unit.Path(), strings.Join(names, ", "))
				}
			}
			return nil
		},
	}
}

func (a *app) dotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dot [patterns...]",
		Short: "Write Graphviz DOT, one digraph per package",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, results, err := a.collect(cmd.Context(), args)
			if err != nil {
				return err
			}
			label := func(n callgraph.Node) string { return n.Name() }
			for _, r := range results {
				if err := traverse.WriteDOT[callgraph.Node](cmd.OutOrStdout(), r.Graph.Traits(), r.Unit.Path(), label); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) neo4jCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "neo4j [patterns...]",
		Short: "Load the call graphs into Neo4j",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Neo4j.Pass == "" {
				return errors.New("--neo4j-pass (or CALLGRAPH_NEO4J_PASS) is required")
			}
			c, results, err := a.collect(cmd.Context(), args)
			if err != nil {
				return err
			}
			recs := c.Records(results)
			a.logger.Info("collected",
				slog.Int("packages", len(recs.Packages)),
				slog.Int("functions", len(recs.Funcs)),
				slog.Int("calls", len(recs.Calls)),
				slog.Int("root_edges", len(recs.Roots)))

			ctx := cmd.Context()
			loader, err := NewNeo4jLoader(ctx, a.cfg.Neo4j, a.logger)
			if err != nil {
				return err
			}
			defer loader.Close(ctx)

			if a.cfg.Neo4j.Clean {
				if err := loader.CleanGraph(ctx); err != nil {
					return err
				}
			}
			if err := loader.Load(ctx, recs); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Loaded run %s into Neo4j.\n\n", loader.RunID())
			fmt.Fprintln(out, "Useful Cypher queries:")
			fmt.Fprintln(out, "  // Functions with most outgoing calls")
			fmt.Fprintln(out, "  MATCH (f:CGFunc)-[r:CG_CALLS]->() RETURN f.full_name, sum(r.count) AS calls ORDER BY calls DESC LIMIT 20")
			fmt.Fprintln(out, "  // Dead code")
			fmt.Fprintln(out, "  MATCH (f:CGFunc {reachable: false}) RETURN f.package, f.full_name, f.file, f.line")
			fmt.Fprintln(out, "  // Entry points of a package")
			fmt.Fprintln(out, "  MATCH (:CGRoot {package: $pkg})-[:CG_ROOT_CALLS]->(f) RETURN f.full_name")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&a.flags.Neo4j.URI, "neo4j-uri", "bolt://localhost:7687", "Neo4j bolt URI")
	f.StringVar(&a.flags.Neo4j.User, "neo4j-user", "neo4j", "Neo4j username")
	f.StringVar(&a.flags.Neo4j.Pass, "neo4j-pass", "", "Neo4j password")
	f.BoolVar(&a.flags.Neo4j.Clean, "clean", false, "remove previously loaded call graph data first")
	f.IntVar(&a.flags.Neo4j.BatchSize, "batch-size", defaultBatchSize, "rows per UNWIND statement")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(a.cfg.redacted()); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
