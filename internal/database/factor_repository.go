package database

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/irfndi/etffactor/pkg/factors"
)

// FactorValuesSchema creates the long-format table SaveResult writes to.
const FactorValuesSchema = `
CREATE TABLE IF NOT EXISTS factor_values (
	ts_code     TEXT        NOT NULL,
	trade_date  DATE        NOT NULL,
	factor      TEXT        NOT NULL,
	params      TEXT        NOT NULL,
	column_name TEXT        NOT NULL,
	value       NUMERIC     NOT NULL,
	run_id      TEXT        NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (ts_code, trade_date, column_name, params)
)`

const upsertFactorValue = `
INSERT INTO factor_values (ts_code, trade_date, factor, params, column_name, value, run_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (ts_code, trade_date, column_name, params)
DO UPDATE SET value = EXCLUDED.value, run_id = EXCLUDED.run_id, computed_at = now()`

// StoredValue is one persisted observation.
type StoredValue struct {
	TradeDate time.Time
	Value     decimal.Decimal
}

// FactorRepository persists factor results one value per row. Missing
// values are not stored.
type FactorRepository struct {
	pool   DBPool
	logger *zap.Logger
}

func NewFactorRepository(pool DBPool, logger *zap.Logger) *FactorRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FactorRepository{pool: pool, logger: logger}
}

// EnsureSchema creates the factor_values table if needed.
func (r *FactorRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, FactorValuesSchema); err != nil {
		return fmt.Errorf("failed to create factor_values: %w", err)
	}
	return nil
}

// SaveResult upserts every present value of result in one transaction and
// returns the number of rows written.
func (r *FactorRepository) SaveResult(ctx context.Context, runID string, result *factors.Result) (written int64, err error) {
	if result == nil {
		return 0, fmt.Errorf("nil result")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				r.logger.Warn("Rollback failed", zap.Error(rbErr))
			}
		}
	}()

	for _, col := range result.Columns {
		for i, v := range col.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			res, execErr := tx.Exec(ctx, upsertFactorValue,
				result.TsCode[i],
				result.TradeDate[i],
				result.Factor,
				result.Params,
				col.Name,
				decimal.NewFromFloat(v),
				runID,
			)
			if execErr != nil {
				return 0, fmt.Errorf("failed to save %s for %s on %s: %w",
					col.Name, result.TsCode[i], result.TradeDate[i].Format(factors.TradeDateLayout), execErr)
			}
			n, _ := res.RowsAffected()
			written += n
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit factor values: %w", err)
	}
	r.logger.Info("Saved factor values",
		zap.String("factor", result.Factor),
		zap.String("run_id", runID),
		zap.Int64("rows", written))
	return written, nil
}

// LoadColumn returns the stored values of one output column for one
// instrument, ascending by date.
func (r *FactorRepository) LoadColumn(ctx context.Context, tsCode, column, params string) ([]StoredValue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT trade_date, value
		FROM factor_values
		WHERE ts_code = $1 AND column_name = $2 AND params = $3
		ORDER BY trade_date`, tsCode, column, params)
	if err != nil {
		return nil, fmt.Errorf("failed to query factor values: %w", err)
	}
	defer rows.Close()

	var out []StoredValue
	for rows.Next() {
		var v StoredValue
		if err := rows.Scan(&v.TradeDate, &v.Value); err != nil {
			return nil, fmt.Errorf("failed to scan factor value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteFactor removes every stored value of a factor.
func (r *FactorRepository) DeleteFactor(ctx context.Context, factor string) (int64, error) {
	res, err := r.pool.Exec(ctx, `DELETE FROM factor_values WHERE factor = $1`, factor)
	if err != nil {
		return 0, fmt.Errorf("failed to delete factor values: %w", err)
	}
	return res.RowsAffected()
}
