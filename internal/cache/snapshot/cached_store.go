package snapshot

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	snapshotrepo "wtcore/internal/gateway/repository/snapshot"
)

type Store = snapshotrepo.Store

type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        5 * time.Minute,
		MaxEntries: 1024,
	}
}

type MetricsSnapshot struct {
	Hits           uint64
	Misses         uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type Metrics struct {
	hits           atomic.Uint64
	misses         atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrites.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
	}
}

// CachedStore is a write-through cache in front of a snapshot store.
type CachedStore struct {
	origin  Store
	cache   *expirable.LRU[string, snapshotrepo.Record]
	metrics Metrics
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	return &CachedStore{
		origin: origin,
		cache:  expirable.NewLRU[string, snapshotrepo.Record](cfg.MaxEntries, nil, cfg.TTL),
	}
}

func (s *CachedStore) Put(ctx context.Context, rec snapshotrepo.Record) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.Put(ctx, rec); err != nil {
		s.metrics.originWriteErr.Add(1)
		s.cache.Remove(strings.TrimSpace(rec.SessionID))
		return err
	}
	rec.SessionID = strings.TrimSpace(rec.SessionID)
	rec.HTML = append([]byte(nil), rec.HTML...)
	s.cache.Add(rec.SessionID, rec)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, sessionID string) (snapshotrepo.Record, error) {
	key := strings.TrimSpace(sessionID)
	if rec, ok := s.cache.Get(key); ok {
		s.metrics.hits.Add(1)
		rec.HTML = append([]byte(nil), rec.HTML...)
		return rec, nil
	}
	s.metrics.misses.Add(1)
	s.metrics.originReads.Add(1)

	rec, err := s.origin.Get(ctx, key)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return snapshotrepo.Record{}, err
	}
	cached := rec
	cached.HTML = append([]byte(nil), rec.HTML...)
	s.cache.Add(key, cached)
	return rec, nil
}

func (s *CachedStore) Delete(ctx context.Context, sessionID string) error {
	key := strings.TrimSpace(sessionID)
	s.cache.Remove(key)
	return s.origin.Delete(ctx, key)
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}
