package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/etffactor/internal/config"
)

func newTestSQLite(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteConnection(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteConnection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := NewSQLiteConnection(dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
	assert.True(t, db.IsReady())
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestSQLiteConnection_EmptyPath(t *testing.T) {
	db, err := NewSQLiteConnection("")
	assert.Error(t, err)
	assert.Nil(t, db)
}

func TestSQLiteDB_NilSafe(t *testing.T) {
	var db *SQLiteDB
	assert.False(t, db.IsReady())
	assert.NoError(t, db.Close())
	assert.Error(t, db.HealthCheck(context.Background()))
	_, err := db.Exec(context.Background(), "SELECT 1")
	assert.Error(t, err)
}

func TestSQLiteDB_ExecQuery(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()

	_, err := db.Exec(ctx, `CREATE TABLE kv (k TEXT PRIMARY KEY, v REAL)`)
	require.NoError(t, err)

	res, err := db.Exec(ctx, `INSERT INTO kv (k, v) VALUES (?, ?), (?, ?)`, "a", 1.5, "b", 2.5)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var v float64
	require.NoError(t, db.QueryRow(ctx, `SELECT v FROM kv WHERE k = ?`, "b").Scan(&v))
	assert.Equal(t, 2.5, v)

	rows, err := db.Query(ctx, `SELECT k FROM kv ORDER BY k`)
	require.NoError(t, err)
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		keys = append(keys, k)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestSQLiteDB_Transactions(t *testing.T) {
	db := newTestSQLite(t)
	ctx := context.Background()
	_, err := db.Exec(ctx, `CREATE TABLE kv (k TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO kv (k) VALUES (?)`, "rolled-back")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	tx, err = db.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO kv (k) VALUES (?)`, "committed")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	var count int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM kv`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestNewDatabaseConnection_SQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{Driver: "sqlite3", SQLitePath: filepath.Join(t.TempDir(), "x.db")}
	db, err := NewDatabaseConnection(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, db.IsReady())
}

func TestNewDatabaseConnection_Unsupported(t *testing.T) {
	_, err := NewDatabaseConnection(context.Background(), &config.DatabaseConfig{Driver: "mysql"}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestDetectDBType(t *testing.T) {
	assert.Equal(t, DBTypeSQLite, DetectDBType(""))
	assert.Equal(t, DBTypeSQLite, DetectDBType("SQLite3"))
	assert.Equal(t, DBTypePostgres, DetectDBType(" postgresql "))
	assert.Equal(t, DBTypePostgres, DetectDBType("pgx"))
}
