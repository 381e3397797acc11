// Package cache stores computed factor results keyed by factor name,
// canonical parameters and input fingerprint.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/irfndi/etffactor/pkg/factors"
)

// Key identifies one cached result. Two requests with the same factor,
// equivalent parameters and identical input data produce the same Key.
type Key struct {
	Factor      string
	Params      string
	Fingerprint string
	Digest      string
}

// KeyFor builds the key for a factor run. Params are reduced to their
// canonical form, so {"periods": [20, 5]} and {"periods": [5, 20]} collide.
func KeyFor(factor string, params factors.ParameterSet, fingerprint string) Key {
	name := factors.NormalizeName(factor)
	canonical := ""
	if params != nil {
		canonical = params.Canonical()
	}
	sum := sha256.Sum256([]byte(name + "|" + canonical + "|" + fingerprint))
	return Key{
		Factor:      name,
		Params:      canonical,
		Fingerprint: fingerprint,
		Digest:      hex.EncodeToString(sum[:]),
	}
}

// String is the storage key: the factor name, a colon, then the digest.
func (k Key) String() string {
	return k.Factor + ":" + k.Digest
}

// Store is a cache backend. Implementations are safe for concurrent use.
// Put is first-write-wins: a second Put for a live key is ignored, so a
// reader never observes a replaced or partial entry.
type Store interface {
	Get(ctx context.Context, key Key) (*factors.Result, bool, error)
	Put(ctx context.Context, key Key, result *factors.Result) error
	Info(ctx context.Context) (Info, error)
	// Keys lists storage keys for one factor, or all keys when factor is empty.
	Keys(ctx context.Context, factor string) ([]string, error)
	// Clear removes entries for one factor, or everything when factor is
	// empty, and returns how many were removed.
	Clear(ctx context.Context, factor string) (int, error)
	Close() error
}

// Info summarises a store.
type Info struct {
	Backend  string         `json:"backend"`
	Entries  int            `json:"entries"`
	ByFactor map[string]int `json:"by_factor"`
	Hits     int64          `json:"hits"`
	Misses   int64          `json:"misses"`
	Sets     int64          `json:"sets"`
	HitRate  float64        `json:"hit_rate"`
	TTL      string         `json:"ttl,omitempty"`
}

// Stats counts store traffic.
type Stats struct {
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

func (s *Stats) hit()  { s.hits.Add(1) }
func (s *Stats) miss() { s.misses.Add(1) }
func (s *Stats) set()  { s.sets.Add(1) }

func (s *Stats) fill(info *Info) {
	info.Hits = s.hits.Load()
	info.Misses = s.misses.Load()
	info.Sets = s.sets.Load()
	info.HitRate = HitRate(info.Hits, info.Misses)
}

// HitRate is hits as a percentage of lookups.
func HitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// entry is the serialized form used by the Redis and SQLite stores.
type entry struct {
	Key         string          `json:"key"`
	Fingerprint string          `json:"fingerprint"`
	CachedAt    time.Time       `json:"cached_at"`
	Result      *factors.Result `json:"result"`
}

func encodeEntry(key Key, result *factors.Result, now time.Time) ([]byte, error) {
	data, err := json.Marshal(entry{Key: key.String(), Fingerprint: key.Fingerprint, CachedAt: now, Result: result})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry %s: %w", key, err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*entry, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	if e.Result == nil {
		return nil, fmt.Errorf("cache entry %s has no result", e.Key)
	}
	return &e, nil
}

func factorOfKey(storageKey string) string {
	for i := 0; i < len(storageKey); i++ {
		if storageKey[i] == ':' {
			return storageKey[:i]
		}
	}
	return storageKey
}
