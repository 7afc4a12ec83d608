package database

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/storefront-payments/pkg/database"

type slowQueryLog struct {
	threshold time.Duration
	logger    *slog.Logger
}

var slowQueries atomic.Pointer[slowQueryLog]

// SetSlowQueryLogging warns about every traced query that runs for at least
// threshold. A zero threshold or nil logger turns it off.
func SetSlowQueryLogging(threshold time.Duration, logger *slog.Logger) {
	if threshold <= 0 || logger == nil {
		slowQueries.Store(nil)
		return
	}
	slowQueries.Store(&slowQueryLog{threshold: threshold, logger: logger})
}

// TraceQuery starts a client span named "db.<operation>" and returns a
// function to call with the query's final error:
//
//	ctx, end := database.TraceQuery(ctx, "GetPaymentByProviderID", query)
//	defer func() { end(err) }()
func TraceQuery(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	stmt := compactSQL(statement)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", stmt),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if s := slowQueries.Load(); s != nil {
			s.observe(ctx, operation, stmt, time.Since(start), err)
		}
	}
}

func (s *slowQueryLog) observe(ctx context.Context, operation, stmt string, elapsed time.Duration, err error) {
	if elapsed < s.threshold {
		return
	}
	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("statement", stmt),
		slog.Duration("duration", elapsed),
		slog.Duration("threshold", s.threshold),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.LogAttrs(ctx, slog.LevelWarn, "slow query", attrs...)
}

// compactSQL collapses the indentation of multi-line query literals.
func compactSQL(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
