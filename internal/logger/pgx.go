package logger

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

type pgxStartKey struct{}

// PgxTracer logs every statement sent over a pgx connection.
type PgxTracer struct {
	SlowThreshold time.Duration
}

func NewPgxTracer() *PgxTracer {
	return &PgxTracer{SlowThreshold: 2 * time.Second}
}

func (t *PgxTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	log.DebugContext(ctx, "Postgres Started", log.String("sql", data.SQL))
	return context.WithValue(ctx, pgxStartKey{}, time.Now())
}

func (t *PgxTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	var elapsed time.Duration
	if start, ok := ctx.Value(pgxStartKey{}).(time.Time); ok {
		elapsed = time.Since(start)
	}

	fields := []any{
		log.String("command", data.CommandTag.String()),
		log.Duration("latency", elapsed),
		log.Int64("rows", data.CommandTag.RowsAffected()),
	}

	switch {
	case data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows):
		log.ErrorContext(ctx, "Postgres Error", append(fields, log.Any("err", data.Err))...)
	case elapsed > t.SlowThreshold:
		log.WarnContext(ctx, "Postgres Slow", fields...)
	default:
		log.DebugContext(ctx, "Postgres Success", fields...)
	}
}
