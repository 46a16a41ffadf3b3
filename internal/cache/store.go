package cache

import (
	"context"
	"errors"
	"time"
)

// Package cache stores computed analytics results with a per-entry TTL.
//
// Backends speak bytes (Store). Typed wraps a Store with JSON encoding and
// optional snappy compression. Every failure a reader can hit (missing key,
// expired entry, undecodable payload, backend outage) is something the
// caller recovers from by recomputing.
//
// TTL strategy:
//   - Monthly reports: 24 hours, invalidated early on upstream change events
//   - Ad-hoc analysis requests: 30 minutes

var (
	// ErrInvalidTTL is returned by Set when ttl is not positive.
	ErrInvalidTTL = errors.New("cache: ttl must be positive")

	// ErrCorruptEntry is returned by Typed.Get when a payload cannot be decoded.
	// The entry has already been deleted when the caller sees it.
	ErrCorruptEntry = errors.New("cache: corrupt entry")
)

// Store is the result cache contract consumed by the analytics core.
type Store interface {
	// Get returns the payload for key. Entries past their expiry are
	// evicted and reported as not found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores payload under key for ttl.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Observer receives hit and miss notifications.
type Observer interface {
	CacheHit(backend string)
	CacheMiss(backend string)
}
