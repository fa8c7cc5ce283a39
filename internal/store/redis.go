package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafa-canseco/TokenDistributor/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// The cache serves the boot-time snapshot (warm restarts) and the event
// log; Apply keeps the ledger's atomicity by delegating to the primary
// before touching Redis.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) LoadState(ctx context.Context) (*model.State, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, snapshotKey()).Bytes()
	if err == nil {
		var st model.State
		if json.Unmarshal(data, &st) == nil {
			return &st, nil
		}
	}

	// Cache miss: read from primary.
	st, err := s.primary.LoadState(ctx)
	if err != nil || st == nil {
		return st, err
	}

	s.cacheSnapshot(ctx, st)
	return st, nil
}

func (s *CachedStore) Apply(ctx context.Context, m *Mutation) error {
	if err := s.primary.Apply(ctx, m); err != nil {
		return err
	}
	// Invalidate; next LoadState/Events re-populates.
	s.rdb.Del(ctx, snapshotKey(), eventsKey())
	return nil
}

func (s *CachedStore) Events(ctx context.Context, limit int) ([]model.Event, error) {
	data, err := s.rdb.Get(ctx, eventsKey()).Bytes()
	if err == nil {
		var events []model.Event
		if json.Unmarshal(data, &events) == nil && len(events) >= limit {
			if limit > 0 && limit < len(events) {
				events = events[:limit]
			}
			return events, nil
		}
	}

	events, err := s.primary.Events(ctx, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, eventsKey(), data, s.ttl)
	}
	return events, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheSnapshot(ctx context.Context, st *model.State) {
	if data, err := json.Marshal(st); err == nil {
		s.rdb.Set(ctx, snapshotKey(), data, s.ttl)
	}
}

func snapshotKey() string { return "tokendist:snapshot" }
func eventsKey() string   { return "tokendist:events" }
