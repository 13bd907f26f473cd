package pg

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier/internal/domain"
	"courier/internal/store"
)

// Schema is the reference DDL for the persisted layout.
//
//go:embed schema.sql
var Schema string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DBTX is satisfied by pgx.Tx and *pgxpool.Conn.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store hands out transactions and connections from the pool. Acquiring
// either is bounded by AcquireTimeout.
type Store struct {
	DB             *pgxpool.Pool
	AcquireTimeout time.Duration
}

func New(db *pgxpool.Pool, acquireTimeout time.Duration) *Store {
	return &Store{DB: db, AcquireTimeout: acquireTimeout}
}

func (s *Store) acquireCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.AcquireTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.AcquireTimeout)
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	actx, cancel := s.acquireCtx(ctx)
	defer cancel()
	conn, err := s.DB.Acquire(actx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &txQueries{Queries: Queries{db: tx}, tx: tx, conn: conn}, nil
}

func (s *Store) Acquire(ctx context.Context) (store.Conn, error) {
	actx, cancel := s.acquireCtx(ctx)
	defer cancel()
	conn, err := s.DB.Acquire(actx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &connQueries{Queries: Queries{db: conn}, conn: conn}, nil
}

type txQueries struct {
	Queries
	tx   pgx.Tx
	conn *pgxpool.Conn
	done bool
}

func (t *txQueries) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.conn.Release()
	return t.tx.Commit(ctx)
}

func (t *txQueries) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.conn.Release()
	return t.tx.Rollback(ctx)
}

type connQueries struct {
	Queries
	conn *pgxpool.Conn
}

func (c *connQueries) Release() { c.conn.Release() }

// Queries implements store.Querier on top of any DBTX.
type Queries struct {
	db DBTX
}

func queryAll[T any](ctx context.Context, db DBTX, b sq.Sqlizer, scan func(pgx.Row) (T, error)) ([]T, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func queryOne[T any](ctx context.Context, db DBTX, b sq.Sqlizer, scan func(pgx.Row) (T, error), entity string, id any) (T, error) {
	var zero T
	query, args, err := b.ToSql()
	if err != nil {
		return zero, fmt.Errorf("build query: %w", err)
	}
	v, err := scan(db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, domain.NotFound(entity, id)
		}
		return zero, err
	}
	return v, nil
}

// exec runs a write and maps constraint violations to domain errors. When
// mustAffect is set, zero affected rows is reported as not found.
func exec(ctx context.Context, db DBTX, entity string, id any, mustAffect bool, sql string, args ...any) error {
	ct, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(entity, err)
	}
	if mustAffect && ct.RowsAffected() == 0 {
		return domain.NotFound(entity, id)
	}
	return nil
}

func mapErr(entity string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return domain.Conflict(entity, "violates "+pgErr.ConstraintName)
		case "23503":
			return domain.Invalid(pgErr.ConstraintName, "references a missing row")
		}
	}
	return err
}

func page(b sq.SelectBuilder, p store.Page) sq.SelectBuilder {
	limit, offset := p.Bounds()
	return b.Limit(uint64(limit)).Offset(uint64(offset))
}

func eqIf[T any](b sq.SelectBuilder, col string, v *T) sq.SelectBuilder {
	if v == nil {
		return b
	}
	return b.Where(sq.Eq{col: *v})
}

func jsonb(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return []byte("{}")
	}
	return b
}

func unmarshalMap[M ~map[string]any](b []byte) M {
	out := M{}
	if len(b) > 0 {
		_ = json.Unmarshal(b, &out)
	}
	return out
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
