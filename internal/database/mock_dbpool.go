package database

import (
	"context"

	"github.com/pashagolub/pgxmock/v4"
)

// MockDBPool adapts a pgxmock pool to DBPool for repository tests.
type MockDBPool struct {
	mock pgxmock.PgxPoolIface
}

func NewMockDBPool(mock pgxmock.PgxPoolIface) *MockDBPool {
	return &MockDBPool{mock: mock}
}

// NewMockDBPoolFromNewPool creates the pgxmock pool as well.
func NewMockDBPoolFromNewPool() (*MockDBPool, pgxmock.PgxPoolIface, error) {
	mockPool, err := pgxmock.NewPool()
	if err != nil {
		return nil, nil, err
	}
	return &MockDBPool{mock: mockPool}, mockPool, nil
}

func (m *MockDBPool) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return pgxQuery(ctx, m.mock, query, args...)
}

func (m *MockDBPool) QueryRow(ctx context.Context, query string, args ...any) Row {
	return PgxRow{Row: m.mock.QueryRow(ctx, query, args...)}
}

func (m *MockDBPool) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	return pgxExec(ctx, m.mock, query, args...)
}

func (m *MockDBPool) Begin(ctx context.Context) (Tx, error) {
	tx, err := m.mock.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return PgxTx{Tx: tx}, nil
}

func (m *MockDBPool) Close() {
	m.mock.Close()
}

func (m *MockDBPool) ExpectationsWereMet() error {
	return m.mock.ExpectationsWereMet()
}
