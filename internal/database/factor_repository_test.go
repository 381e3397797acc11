package database

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/etffactor/pkg/factors"
)

func newMockRepository(t *testing.T) (*FactorRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	pool, mock, err := NewMockDBPoolFromNewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewFactorRepository(pool, nil), mock
}

func sampleResult() *factors.Result {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	return &factors.Result{
		Factor:    "SMA",
		Category:  factors.CategoryMovingAverage,
		Params:    "periods=2",
		TsCode:    []string{"510300.SH", "510300.SH"},
		TradeDate: []time.Time{d1, d2},
		Columns: []factors.Column{
			{Name: "SMA_2", DataType: factors.DataTypePrice, Values: []float64{math.NaN(), 1.5}},
		},
	}
}

func TestFactorRepository_SaveResultSkipsMissing(t *testing.T) {
	repo, mock := newMockRepository(t)
	result := sampleResult()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO factor_values").
		WithArgs("510300.SH", result.TradeDate[1], "SMA", "periods=2", "SMA_2", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	written, err := repo.SaveResult(context.Background(), "run-1", result)
	require.NoError(t, err)
	assert.Equal(t, int64(1), written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactorRepository_SaveResultRollsBack(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO factor_values").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.SaveResult(context.Background(), "run-1", sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMA_2")
	assert.Contains(t, err.Error(), "20240103")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactorRepository_SaveResultNil(t *testing.T) {
	repo, _ := newMockRepository(t)
	_, err := repo.SaveResult(context.Background(), "run-1", nil)
	assert.Error(t, err)
}

func TestFactorRepository_EnsureSchema(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS factor_values").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactorRepository_LoadColumn(t *testing.T) {
	repo, mock := newMockRepository(t)
	d := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT trade_date, value").
		WithArgs("510300.SH", "SMA_2", "periods=2").
		WillReturnRows(mock.NewRows([]string{"trade_date", "value"}).AddRow(d, decimal.NewFromFloat(1.5)))

	values, err := repo.LoadColumn(context.Background(), "510300.SH", "SMA_2", "periods=2")
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.True(t, d.Equal(values[0].TradeDate))
	assert.True(t, decimal.NewFromFloat(1.5).Equal(values[0].Value))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactorRepository_DeleteFactor(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("DELETE FROM factor_values").
		WithArgs("SMA").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := repo.DeleteFactor(context.Background(), "SMA")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
