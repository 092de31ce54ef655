package resolve

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "go-callgraph/resolve"

// The meter is resolved once; the global provider delegates to whatever the
// driver installs later.
var meter = otel.Meter(instrumentationName)

var (
	resolveLatency  metric.Float64Histogram
	resolveTotal    metric.Int64Counter
	nodesPerGraph   metric.Int64Histogram
	edgesPerGraph   metric.Int64Histogram
	unresolvedSites metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// tracer is looked up per call so tests can swap the global provider.
func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		resolveLatency, err = meter.Float64Histogram(
			"callgraph_resolve_duration_seconds",
			metric.WithDescription("Duration of discovery plus resolution per unit"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resolveTotal, err = meter.Int64Counter(
			"callgraph_resolve_total",
			metric.WithDescription("Total number of units resolved"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesPerGraph, err = meter.Int64Histogram(
			"callgraph_nodes",
			metric.WithDescription("Number of nodes per call graph, root excluded"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesPerGraph, err = meter.Int64Histogram(
			"callgraph_edges",
			metric.WithDescription("Number of call edges per call graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		unresolvedSites, err = meter.Int64Counter(
			"callgraph_unresolved_sites_total",
			metric.WithDescription("Call sites no edge could be drawn for"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordResolveMetrics(ctx context.Context, resolver string, d time.Duration, nodes, edges int, stats Stats, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("resolver", resolver),
		attribute.Bool("success", success),
	)
	resolveLatency.Record(ctx, d.Seconds(), attrs)
	resolveTotal.Add(ctx, 1, attrs)

	if success {
		nodesPerGraph.Record(ctx, int64(nodes))
		edgesPerGraph.Record(ctx, int64(edges))
		unresolvedSites.Add(ctx, int64(stats.Unresolved),
			metric.WithAttributes(attribute.String("resolver", resolver)))
	}
}

func startResolveSpan(ctx context.Context, pkgPath, resolver string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "resolve.Build",
		trace.WithAttributes(
			attribute.String("callgraph.package", pkgPath),
			attribute.String("callgraph.resolver", resolver),
		),
	)
}

func setResolveSpanResult(span trace.Span, nodes, edges int, stats Stats) {
	span.SetAttributes(
		attribute.Int("callgraph.node_count", nodes),
		attribute.Int("callgraph.edge_count", edges),
		attribute.Int("callgraph.sites", stats.Sites),
		attribute.Int("callgraph.unresolved", stats.Unresolved),
		attribute.Int("callgraph.escaped", stats.Escaped),
	)
}

func startSSASpan(ctx context.Context, alg Algorithm, shared bool) (context.Context, trace.Span) {
	return tracer().Start(ctx, "resolve.SSA.program",
		trace.WithAttributes(
			attribute.String("callgraph.algorithm", alg.String()),
			attribute.Bool("callgraph.shared", shared),
		),
	)
}
