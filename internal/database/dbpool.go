package database

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Rows, Row, Result and Tx are the driver-neutral shapes repositories code
// against. pgx and database/sql values are adapted to them below.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close()
	Err() error
}

type Row interface {
	Scan(dest ...any) error
}

type Result interface {
	RowsAffected() (int64, error)
}

type Tx interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBPool is implemented by PostgresDB, SQLiteDB and MockDBPool.
type DBPool interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	Begin(ctx context.Context) (Tx, error)
}

type PgxRows struct{ pgx.Rows }

func (r PgxRows) Close() { r.Rows.Close() }

type PgxRow struct{ pgx.Row }

type PgxResult struct{ pgconn.CommandTag }

func (r PgxResult) RowsAffected() (int64, error) {
	return r.CommandTag.RowsAffected(), nil
}

// pgxQuerier is the query surface shared by pgxpool.Pool, pgx.Tx and the
// pgxmock pool.
type pgxQuerier interface {
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
}

func pgxQuery(ctx context.Context, q pgxQuerier, query string, args ...any) (Rows, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return PgxRows{Rows: rows}, nil
}

func pgxExec(ctx context.Context, q pgxQuerier, query string, args ...any) (Result, error) {
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return PgxResult{CommandTag: tag}, nil
}

type PgxTx struct{ pgx.Tx }

func (t PgxTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return pgxQuery(ctx, t.Tx, query, args...)
}

func (t PgxTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return PgxRow{Row: t.Tx.QueryRow(ctx, query, args...)}
}

func (t PgxTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	return pgxExec(ctx, t.Tx, query, args...)
}

type SQLRows struct{ *sql.Rows }

func (r SQLRows) Close() { _ = r.Rows.Close() }

type SQLRow struct{ *sql.Row }

type SQLResult struct{ sql.Result }

type SQLTx struct{ *sql.Tx }

func (t SQLTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := t.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return SQLRows{Rows: rows}, nil
}

func (t SQLTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return SQLRow{Row: t.QueryRowContext(ctx, query, args...)}
}

func (t SQLTx) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := t.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return SQLResult{Result: res}, nil
}

func (t SQLTx) Commit(context.Context) error   { return t.Tx.Commit() }
func (t SQLTx) Rollback(context.Context) error { return t.Tx.Rollback() }
