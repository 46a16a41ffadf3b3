package cache

import (
	"context"
	"time"

	"github.com/kubilitics/cop-analytics/internal/db"
)

// SQL is a Store persisted through a db.CacheEntryStore, so cached reports
// survive restarts.
type SQL struct {
	entries db.CacheEntryStore
	now     func() time.Time
}

// NewSQL wraps entries as a Store.
func NewSQL(entries db.CacheEntryStore) *SQL {
	return &SQL{entries: entries, now: time.Now}
}

// Get implements Store.
func (s *SQL) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rec, err := s.entries.GetCacheEntry(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	if !s.now().Before(rec.ExpiresAt) {
		if err := s.entries.DeleteCacheEntry(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return rec.Payload, true, nil
}

// Set implements Store.
func (s *SQL) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	now := s.now()
	return s.entries.PutCacheEntry(ctx, &db.CacheEntry{
		Key:       key,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
}

// Delete implements Store.
func (s *SQL) Delete(ctx context.Context, key string) error {
	return s.entries.DeleteCacheEntry(ctx, key)
}

// Purge removes every expired entry and returns how many were dropped.
func (s *SQL) Purge(ctx context.Context) (int64, error) {
	return s.entries.PurgeExpiredCacheEntries(ctx, s.now())
}
