package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/irfndi/etffactor/pkg/factors"
)

type memEntry struct {
	factor    string
	result    *factors.Result
	expiresAt time.Time
}

// MemoryStore keeps results in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	ttl     time.Duration
	now     func() time.Time
	stats   Stats
}

// NewMemoryStore creates a store. A zero ttl keeps entries until cleared.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) expired(e memEntry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*factors.Result, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key.String()]
	s.mu.RUnlock()

	if !ok || s.expired(e) {
		s.stats.miss()
		return nil, false, nil
	}
	s.stats.hit()
	return e.result, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key Key, result *factors.Result) error {
	k := key.String()
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[k]; ok && !s.expired(e) {
		return nil
	}
	e := memEntry{factor: key.Factor, result: result.Clone()}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.entries[k] = e
	s.stats.set()
	return nil
}

func (s *MemoryStore) Info(context.Context) (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{Backend: "memory", ByFactor: make(map[string]int)}
	if s.ttl > 0 {
		info.TTL = s.ttl.String()
	}
	for _, e := range s.entries {
		if s.expired(e) {
			continue
		}
		info.Entries++
		info.ByFactor[e.factor]++
	}
	s.stats.fill(&info)
	return info, nil
}

func (s *MemoryStore) Keys(_ context.Context, factor string) ([]string, error) {
	factor = factors.NormalizeName(factor)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, e := range s.entries {
		if s.expired(e) || (factor != "" && e.factor != factor) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Clear(_ context.Context, factor string) (int, error) {
	factor = factors.NormalizeName(factor)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if factor == "" || e.factor == factor {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }

// NoopStore never stores anything. It backs --no-cache runs.
type NoopStore struct {
	stats Stats
}

func (s *NoopStore) Get(context.Context, Key) (*factors.Result, bool, error) {
	s.stats.miss()
	return nil, false, nil
}

func (s *NoopStore) Put(context.Context, Key, *factors.Result) error { return nil }

func (s *NoopStore) Info(context.Context) (Info, error) {
	info := Info{Backend: "none", ByFactor: map[string]int{}}
	s.stats.fill(&info)
	return info, nil
}

func (s *NoopStore) Keys(context.Context, string) ([]string, error) { return nil, nil }
func (s *NoopStore) Clear(context.Context, string) (int, error)    { return 0, nil }
func (s *NoopStore) Close() error                                  { return nil }
