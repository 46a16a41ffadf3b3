package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds a Memory cache created with a non-positive size.
const DefaultMaxEntries = 1024

type memoryEntry struct {
	payload   []byte
	createdAt time.Time
	expiresAt time.Time
}

// Memory is an in-process Store. Entries carry their own expiry and are
// evicted lazily on read; the least recently used entry goes first once the
// cache is full.
type Memory struct {
	mu      sync.Mutex
	entries *lru.Cache[string, memoryEntry]
	now     func() time.Time
}

// NewMemory creates a Memory cache holding at most maxEntries entries.
func NewMemory(maxEntries int) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[string, memoryEntry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Memory{entries: entries, now: time.Now}, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.entries.Remove(key)
		return nil, false, nil
	}
	return e.payload, true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	now := m.now()
	buf := make([]byte, len(payload))
	copy(buf, payload)

	m.mu.Lock()
	m.entries.Add(key, memoryEntry{payload: buf, createdAt: now, expiresAt: now.Add(ttl)})
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	m.entries.Remove(key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of entries held, expired or not.
func (m *Memory) Len() int {
	return m.entries.Len()
}
