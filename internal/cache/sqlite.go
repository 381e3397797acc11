package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/irfndi/etffactor/internal/database"
	"github.com/irfndi/etffactor/pkg/factors"
)

const sqliteCacheSchema = `
CREATE TABLE IF NOT EXISTS factor_cache (
	cache_key   TEXT PRIMARY KEY,
	factor      TEXT NOT NULL,
	params      TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	payload     BLOB NOT NULL,
	created_at  INTEGER NOT NULL,
	expires_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_factor_cache_factor ON factor_cache (factor);`

// SQLiteStore persists results on disk so they survive restarts.
type SQLiteStore struct {
	db     *database.SQLiteDB
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
	stats  Stats
}

// OpenSQLiteStore opens (or creates) the cache database at path.
func OpenSQLiteStore(ctx context.Context, path string, ttl time.Duration, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := database.NewSQLiteConnection(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(ctx, db, ttl, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore uses an existing connection and creates the cache table.
func NewSQLiteStore(ctx context.Context, db *database.SQLiteDB, ttl time.Duration, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.Exec(ctx, sqliteCacheSchema); err != nil {
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now, logger: logger}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (*factors.Result, bool, error) {
	var payload []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRow(ctx,
		`SELECT payload, expires_at FROM factor_cache WHERE cache_key = ?`, key.String(),
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.stats.miss()
		return nil, false, nil
	}
	if err != nil {
		s.stats.miss()
		return nil, false, fmt.Errorf("sqlite cache get %s: %w", key, err)
	}
	if expiresAt.Valid && s.now().UnixNano() >= expiresAt.Int64 {
		s.stats.miss()
		return nil, false, nil
	}

	e, err := decodeEntry(payload)
	if err != nil {
		s.logger.Warn("Dropping unreadable cache entry", zap.String("key", key.String()), zap.Error(err))
		_, _ = s.db.Exec(ctx, `DELETE FROM factor_cache WHERE cache_key = ?`, key.String())
		s.stats.miss()
		return nil, false, nil
	}
	s.stats.hit()
	return e.Result, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key Key, result *factors.Result) error {
	now := s.now()
	payload, err := encodeEntry(key, result, now.UTC())
	if err != nil {
		return err
	}
	var expiresAt sql.NullInt64
	if s.ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(s.ttl).UnixNano(), Valid: true}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sqlite cache put %s: %w", key, err)
	}
	// An expired row must not block the first-write-wins insert.
	if _, err := tx.Exec(ctx,
		`DELETE FROM factor_cache WHERE cache_key = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		key.String(), now.UnixNano()); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("sqlite cache put %s: %w", key, err)
	}
	res, err := tx.Exec(ctx,
		`INSERT OR IGNORE INTO factor_cache (cache_key, factor, params, fingerprint, payload, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.String(), key.Factor, key.Params, key.Fingerprint, payload, now.UnixNano(), expiresAt)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("sqlite cache put %s: %w", key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sqlite cache put %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.stats.set()
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context, factor string) ([]string, error) {
	query := `SELECT cache_key FROM factor_cache WHERE (expires_at IS NULL OR expires_at > ?)`
	args := []any{s.now().UnixNano()}
	if factor != "" {
		query += ` AND factor = ?`
		args = append(args, factors.NormalizeName(factor))
	}
	query += ` ORDER BY cache_key`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context, factor string) (int, error) {
	var (
		res database.Result
		err error
	)
	if factor == "" {
		res, err = s.db.Exec(ctx, `DELETE FROM factor_cache`)
	} else {
		res, err = s.db.Exec(ctx, `DELETE FROM factor_cache WHERE factor = ?`, factors.NormalizeName(factor))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.logger.Info("Cleared cache entries", zap.Int64("count", n), zap.String("factor", factor))
	return int(n), nil
}

func (s *SQLiteStore) Info(ctx context.Context) (Info, error) {
	rows, err := s.db.Query(ctx,
		`SELECT factor, COUNT(*) FROM factor_cache WHERE (expires_at IS NULL OR expires_at > ?) GROUP BY factor`,
		s.now().UnixNano())
	if err != nil {
		return Info{}, fmt.Errorf("failed to read cache info: %w", err)
	}
	defer rows.Close()

	info := Info{Backend: "sqlite", ByFactor: make(map[string]int)}
	if s.ttl > 0 {
		info.TTL = s.ttl.String()
	}
	for rows.Next() {
		var factor string
		var count int
		if err := rows.Scan(&factor, &count); err != nil {
			return Info{}, err
		}
		info.ByFactor[factor] = count
		info.Entries += count
	}
	if err := rows.Err(); err != nil {
		return Info{}, err
	}
	s.stats.fill(&info)
	return info, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
