package dolt

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// doltTracer is the OTel tracer for SQL-level spans against the dolt
// backend. It uses the global provider, which is a no-op until the
// embedding program installs a real one; the library never does.
var doltTracer = otel.Tracer("github.com/coreutil/factdb/internal/storage/dolt")

// doltMetrics holds the OTel metric instruments for the dolt backend.
var doltMetrics struct {
	lockWaitMs        metric.Float64Histogram
	changesetsApplied metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/coreutil/factdb/internal/storage/dolt")
	doltMetrics.lockWaitMs, _ = m.Float64Histogram("factdb.dolt.lock_wait_ms",
		metric.WithDescription("time spent waiting to acquire the single-writer lock"),
		metric.WithUnit("ms"),
	)
	doltMetrics.changesetsApplied, _ = m.Int64Counter("factdb.dolt.changesets_applied",
		metric.WithDescription("changesets successfully applied against the dolt backend"),
		metric.WithUnit("{changeset}"),
	)
}

// doltSpanAttrs returns the fixed attributes shared by every SQL span.
func (s *Store) doltSpanAttrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", "dolt"),
	}
}

// spanSQL truncates a SQL string to keep spans readable.
func spanSQL(q string) string {
	if len(q) > 300 {
		return q[:300] + "…"
	}
	return q
}

// endSpan records an error, if any, and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// execContext wraps s.db.ExecContext with a client span, used by the
// non-transactional changeset writes in changesets.go. NextRef and the
// schema/config bootstrap write through the *sql.DB directly.
func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, span := doltTracer.Start(ctx, "dolt.exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(s.doltSpanAttrs(),
			attribute.String("db.operation", "exec"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	result, err := s.db.ExecContext(ctx, query, args...)
	endSpan(span, err)
	return result, err
}

// queryContext wraps s.db.QueryContext with a client span.
func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx, span := doltTracer.Start(ctx, "dolt.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(s.doltSpanAttrs(),
			attribute.String("db.operation", "query"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	endSpan(span, err)
	return rows, err
}

// queryRowContext wraps s.db.QueryRowContext with a client span. The scan
// function receives the *sql.Row and should call Scan on it; its error is
// recorded on the span exactly like exec/query.
func (s *Store) queryRowContext(ctx context.Context, scan func(*sql.Row) error, query string, args ...any) error {
	ctx, span := doltTracer.Start(ctx, "dolt.query_row",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(s.doltSpanAttrs(),
			attribute.String("db.operation", "query_row"),
			attribute.String("db.statement", spanSQL(query)),
		)...),
	)
	err := scan(s.db.QueryRowContext(ctx, query, args...))
	endSpan(span, err)
	return err
}

// lockWriter acquires writeMu, recording the wait as the lockWaitMs
// histogram, and returns the unlock func.
func (s *Store) lockWriter(ctx context.Context) func() {
	start := time.Now()
	s.writeMu.Lock()
	doltMetrics.lockWaitMs.Record(ctx, float64(time.Since(start).Milliseconds()))
	return s.writeMu.Unlock
}
