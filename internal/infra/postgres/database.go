// Package postgres stores bank records, transactions and payments in
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/bizledger/internal/retry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var dbTracer = otel.Tracer("bizledger.db")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type DB struct {
	Pool *pgxpool.Pool

	// txRetry retries whole transactions that lost a serialization race.
	txRetry retry.Policy
}

func New(ctx context.Context, connStr string, maxConns int32) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool, txRetry: serializationPolicy()}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

func serializationPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   20 * time.Millisecond,
		Multiplier:  2,
		MaxJitter:   20 * time.Millisecond,
		Retryable:   isSerializationFailure,
	}
}

// isSerializationFailure reports whether err is a Postgres serialization
// failure or deadlock, both of which succeed on a fresh attempt.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func startSpan(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return dbTracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", sqlVerb(query)),
		attribute.String("db.statement", truncateStatement(query)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// tracer wraps a querier so every statement gets its own span.
type tracer struct {
	q querier
}

func (t tracer) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := startSpan(ctx, "db.Exec", query)
	tag, err := t.q.Exec(ctx, query, args...)
	endSpan(span, err)
	return tag, err
}

func (t tracer) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	ctx, span := startSpan(ctx, "db.Query", query)
	defer span.End()
	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rows, err
}

// tracedRow keeps the span open until Scan, where pgx reports row errors.
type tracedRow struct {
	row  pgx.Row
	span trace.Span
}

func (r *tracedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if r.span != nil {
		endSpan(r.span, err)
		r.span = nil
	}
	return err
}

func (t tracer) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	ctx, span := startSpan(ctx, "db.QueryRow", query)
	return &tracedRow{row: t.q.QueryRow(ctx, query, args...), span: span}
}

func (t tracer) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	_, span := dbTracer.Start(ctx, "db.Batch", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.Int("db.batch.size", b.Len()),
	))
	defer span.End()
	return t.q.SendBatch(ctx, b)
}

func (db *DB) conn() tracer { return tracer{q: db.Pool} }

// InTx runs fn inside a transaction with the given options. A serializable
// transaction that fails with 40001 or 40P01 is retried from the start.
func (db *DB) InTx(ctx context.Context, opts pgx.TxOptions, fn func(q tracer) error) error {
	ctx, span := dbTracer.Start(ctx, "db.Tx", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.isolation", string(opts.IsoLevel)),
	))
	var err error
	defer func() { endSpan(span, err) }()

	err = db.txRetry.Do(ctx, func(ctx context.Context) error {
		return db.runTx(ctx, opts, fn)
	})
	return err
}

func (db *DB) runTx(ctx context.Context, opts pgx.TxOptions, fn func(q tracer) error) error {
	tx, err := db.Pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tracer{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func sqlVerb(q string) string {
	q = strings.TrimSpace(q)
	if idx := strings.IndexAny(q, " \n\t"); idx > 0 {
		return strings.ToUpper(q[:idx])
	}
	return strings.ToUpper(q)
}

// truncateStatement collapses whitespace and caps the statement length.
// Every statement here is parameterized, so no values reach the trace.
func truncateStatement(q string) string {
	s := strings.Join(strings.Fields(q), " ")
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
