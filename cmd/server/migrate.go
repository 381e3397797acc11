package main

import (
	"context"
	"fmt"
	"time"

	"github.com/irfndi/etffactor/internal/config"
	"github.com/irfndi/etffactor/internal/database"
	"github.com/irfndi/etffactor/internal/logging"
)

// runMigrate creates the factor_values table in the configured Postgres
// database.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment).WithOperation("migrate")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return migrate(ctx, &cfg.Database, logger)
}

func migrate(ctx context.Context, cfg *config.DatabaseConfig, logger *logging.StandardLogger) error {
	if database.DetectDBType(cfg.Driver) != database.DBTypePostgres {
		return fmt.Errorf("migrate needs database.driver postgres, got %q", cfg.Driver)
	}
	db, err := database.NewDatabaseConnection(ctx, cfg, logger.Logger())
	if err != nil {
		return fmt.Errorf("failed to connect to db: %w", err)
	}
	defer db.Close()

	if err := database.NewFactorRepository(db, logger.Logger()).EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("factor_values schema is up to date")
	return nil
}
