package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/deedb/deedb/pkg/store"
	"github.com/deedb/deedb/pkg/txn"
)

// AdminStats is the aggregate snapshot §4.L and §6 name for operational
// monitoring: store-wide counts and mean adaptive edge score, transaction
// manager counters, and connection pool utilization.
type AdminStats struct {
	Store store.Stats
	Txns  txn.Stats
	Pool  PoolStats
}

var tracer = otel.Tracer("github.com/deedb/deedb/pkg/session")

// noopTracer backs every query span when cfg.Metrics.Enabled is false, so
// Session.Query's instrumentation calls stay unconditional while recording
// nothing.
var noopTracer = noop.NewTracerProvider().Tracer("github.com/deedb/deedb/pkg/session")

// RegisterMetrics installs OpenTelemetry observable gauges that sample
// db.Stats() on every collection pass, under the given meter. Call once
// per process; the callback closes over db and re-reads its live state
// each time the metrics pipeline scrapes it, so no separate polling
// goroutine is needed.
func RegisterMetrics(meter metric.Meter, db *DB) error {
	entityCount, err := meter.Int64ObservableGauge("deedb.entities",
		metric.WithDescription("live entity count across all collections"))
	if err != nil {
		return err
	}
	edgeCount, err := meter.Int64ObservableGauge("deedb.edges",
		metric.WithDescription("live edge count"))
	if err != nil {
		return err
	}
	meanScore, err := meter.Float64ObservableGauge("deedb.edges.mean_score",
		metric.WithDescription("mean adaptive score across all edges"))
	if err != nil {
		return err
	}
	activeTxns, err := meter.Int64ObservableGauge("deedb.txns.active",
		metric.WithDescription("currently open transactions"))
	if err != nil {
		return err
	}
	poolUtilization, err := meter.Float64ObservableGauge("deedb.pool.utilization",
		metric.WithDescription("fraction of the session pool currently checked out"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := db.Stats()
		o.ObserveInt64(entityCount, int64(st.Store.EntityCount))
		o.ObserveInt64(edgeCount, int64(st.Store.EdgeCount))
		o.ObserveFloat64(meanScore, st.Store.MeanEdgeScore)
		o.ObserveInt64(activeTxns, int64(st.Txns.Active))
		o.ObserveFloat64(poolUtilization, st.Pool.Utilization())
		return nil
	}, entityCount, edgeCount, meanScore, activeTxns, poolUtilization)
	return err
}

// startQuerySpan opens a per-query span named after the statement's first
// keyword, so a trace backend can show how long each query spent in the
// executor. Attributes are filled in after execution since row/operator
// counts aren't known until the query has run. When enabled is false
// (cfg.Metrics.Enabled), it uses a no-op tracer, so the span is never
// recorded but callers don't need a separate code path.
func startQuerySpan(ctx context.Context, query string, enabled bool) (context.Context, trace.Span) {
	t := tracer
	if !enabled {
		t = noopTracer
	}
	return t.Start(ctx, "deedb.query", trace.WithAttributes(
		attribute.String("deedb.query.text", query),
	))
}
