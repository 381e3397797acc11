package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB is the embedded store used for local runs and the disk cache.
type SQLiteDB struct {
	DB *sql.DB
}

var _ Database = (*SQLiteDB)(nil)

var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA cache_size = -64000",
}

// NewSQLiteConnection opens path, applies the WAL pragmas and pings it.
func NewSQLiteConnection(path string) (*SQLiteDB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	for _, pragma := range sqlitePragmas {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply sqlite pragma %q: %w", pragma, err)
		}
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return &SQLiteDB{DB: db}, nil
}

func (db *SQLiteDB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

func (db *SQLiteDB) IsReady() bool {
	return db != nil && db.DB != nil
}

func (db *SQLiteDB) HealthCheck(ctx context.Context) error {
	if !db.IsReady() {
		return fmt.Errorf("sqlite database is not initialized")
	}
	return db.DB.PingContext(ctx)
}

func (db *SQLiteDB) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	if !db.IsReady() {
		return nil, fmt.Errorf("sqlite database is not initialized")
	}
	rows, err := db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return SQLRows{Rows: rows}, nil
}

func (db *SQLiteDB) QueryRow(ctx context.Context, query string, args ...any) Row {
	return SQLRow{Row: db.DB.QueryRowContext(ctx, query, args...)}
}

func (db *SQLiteDB) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	if !db.IsReady() {
		return nil, fmt.Errorf("sqlite database is not initialized")
	}
	res, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return SQLResult{Result: res}, nil
}

func (db *SQLiteDB) Begin(ctx context.Context) (Tx, error) {
	if !db.IsReady() {
		return nil, fmt.Errorf("sqlite database is not initialized")
	}
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return SQLTx{Tx: tx}, nil
}
