package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/irfndi/etffactor/internal/config"
)

func TestBuildPGXPoolConfig(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:            "db.internal",
		Port:            5433,
		User:            "factor",
		Password:        "secret",
		DBName:          "factors",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    4,
		ConnMaxLifetime: "10m",
		ConnMaxIdleTime: "30s",
	}

	pc, err := buildPGXPoolConfig(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "db.internal", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5433), pc.ConnConfig.Port)
	assert.Equal(t, "factors", pc.ConnConfig.Database)
	assert.Equal(t, int32(20), pc.MaxConns)
	assert.Equal(t, int32(4), pc.MinConns)
	assert.Equal(t, 10*time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, 30*time.Second, pc.MaxConnIdleTime)
	assert.IsType(t, &PostgresSentryTracer{}, pc.ConnConfig.Tracer)
}

func TestBuildPGXPoolConfig_URL(t *testing.T) {
	pc, err := buildPGXPoolConfig(&config.DatabaseConfig{DatabaseURL: "postgres://u:p@url-host:6543/urldb"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "url-host", pc.ConnConfig.Host)
	assert.Equal(t, "urldb", pc.ConnConfig.Database)

	pc, err = buildPGXPoolConfig(&config.DatabaseConfig{Host: "postgresql://u:p@in-host/db"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "in-host", pc.ConnConfig.Host)
}

func TestBuildPGXPoolConfig_Errors(t *testing.T) {
	base := config.DatabaseConfig{Host: "localhost", Port: 5432, DBName: "x", SSLMode: "disable"}

	bad := base
	bad.ConnMaxLifetime = "forever"
	_, err := buildPGXPoolConfig(&bad, zap.NewNop())
	assert.ErrorContains(t, err, "conn_max_lifetime")

	bad = base
	bad.MaxOpenConns = 2
	bad.MaxIdleConns = 5
	_, err = buildPGXPoolConfig(&bad, zap.NewNop())
	assert.ErrorContains(t, err, "invalid pool sizing")
}

func TestClampToSafePoolSize(t *testing.T) {
	assert.Equal(t, int32(0), clampToSafePoolSize(-1, zap.NewNop()))
	assert.Equal(t, int32(25), clampToSafePoolSize(25, zap.NewNop()))
	assert.Equal(t, maxAllowedPoolConns, clampToSafePoolSize(1<<40, zap.NewNop()))
}
