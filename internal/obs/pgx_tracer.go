package obs

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementLen = 300

type queryKey struct{}

type queryState struct {
	span  trace.Span
	op    string
	sql   string
	start time.Time
}

// PGXTracer is a pgx.QueryTracer that opens a client span per statement.
// Statements slower than SlowQuery are logged at warn when SlowQuery > 0.
type PGXTracer struct {
	Logger    zerolog.Logger
	SlowQuery time.Duration
}

func (t PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	stmt := statement(data.SQL)
	op := operation(stmt)
	ctx, span := otel.Tracer("db.pgx").Start(ctx, "pgx "+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", stmt),
		),
	)
	return context.WithValue(ctx, queryKey{}, &queryState{span: span, op: op, sql: stmt, start: time.Now()})
}

func (t PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	q, ok := ctx.Value(queryKey{}).(*queryState)
	if !ok {
		return
	}
	defer q.span.End()

	if elapsed := time.Since(q.start); t.SlowQuery > 0 && elapsed >= t.SlowQuery {
		t.Logger.Warn().
			Str("op", q.op).
			Str("sql", q.sql).
			Float64("duration_ms", DurationMillis(elapsed)).
			Msg("slow query")
	}
	if data.Err != nil {
		q.span.RecordError(data.Err)
		q.span.SetStatus(codes.Error, data.Err.Error())
		return
	}
	q.span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
}

// statement trims and shortens SQL for span attributes and logs.
func statement(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > maxStatementLen {
		return s[:maxStatementLen] + "..."
	}
	return s
}

func operation(stmt string) string {
	verb, _, _ := strings.Cut(stmt, " ")
	if verb == "" {
		return "QUERY"
	}
	return strings.ToUpper(verb)
}
