// Package database holds the PostgreSQL, SQLite and Redis connections and
// the repository that persists factor values.
package database

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/irfndi/etffactor/internal/config"
)

// Database abstracts PostgreSQL and SQLite connections.
type Database interface {
	DBPool
	Close() error
	IsReady() bool
	HealthCheck(ctx context.Context) error
}

// DBType enumerates supported database drivers.
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
)

// NewDatabaseConnection opens the database selected by cfg.Driver.
func NewDatabaseConnection(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch DetectDBType(cfg.Driver) {
	case DBTypeSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "etffactor.db"
		}
		logger.Info("Connecting to SQLite database", zap.String("path", path))
		return NewSQLiteConnection(path)
	case DBTypePostgres:
		logger.Info("Connecting to PostgreSQL database",
			zap.String("host", cfg.Host), zap.Int("port", cfg.Port), zap.String("dbname", cfg.DBName))
		return NewPostgresConnection(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", cfg.Driver)
	}
}

// DetectDBType maps driver aliases to a DBType. Empty means SQLite.
func DetectDBType(driver string) DBType {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DBTypeSQLite
	case "postgres", "postgresql", "pgx":
		return DBTypePostgres
	default:
		return DBType(driver)
	}
}
