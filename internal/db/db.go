package db

import (
	"context"
	"time"
)

// Store is the persistence interface for the analytics service.
type Store interface {
	CacheEntryStore
	AnomalyStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Cache entries ────────────────────────────────────────────────────────────

// CacheEntry is one persisted result-cache row.
type CacheEntry struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CacheEntryStore persists result-cache entries. Expiry is enforced by the
// caller; the store only records the timestamps.
type CacheEntryStore interface {
	// PutCacheEntry inserts or replaces the entry for rec.Key.
	PutCacheEntry(ctx context.Context, rec *CacheEntry) error

	// GetCacheEntry returns the entry for key, or nil, nil when absent.
	GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error)

	// DeleteCacheEntry removes key. Deleting a missing key is not an error.
	DeleteCacheEntry(ctx context.Context, key string) error

	// PurgeExpiredCacheEntries removes every entry that expired before now
	// and returns how many were removed.
	PurgeExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error)
}

// ─── Anomaly history ──────────────────────────────────────────────────────────

// AnomalyRecord is a persisted outlier found while building a monthly report.
type AnomalyRecord struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	Category    string    `json:"category"`
	Unit        string    `json:"unit"`
	Year        int       `json:"year"`
	Month       int       `json:"month"`
	ParameterID string    `json:"parameter_id"`
	Day         int       `json:"day"`
	Value       float64   `json:"value"`
	Deviation   float64   `json:"deviation"`
	Severity    string    `json:"severity"`
	DetectedAt  time.Time `json:"detected_at"`
}

// AnomalyQuery filters anomaly history. Zero fields are ignored.
type AnomalyQuery struct {
	Category    string
	Unit        string
	Year        int
	Month       int
	ParameterID string
	Severity    string
	Limit       int
}

// AnomalyStore records outliers so they can be reviewed after the cached
// report expires.
type AnomalyStore interface {
	// AppendAnomalies inserts records in one transaction.
	AppendAnomalies(ctx context.Context, recs []*AnomalyRecord) error

	// QueryAnomalies returns matching records, newest first.
	QueryAnomalies(ctx context.Context, q AnomalyQuery) ([]*AnomalyRecord, error)
}
