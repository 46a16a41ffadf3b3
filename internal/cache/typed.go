package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang/snappy"
)

// Payload header bytes.
const (
	formatJSON   byte = 'j'
	formatSnappy byte = 's'
)

// TypedOptions configures a Typed cache.
type TypedOptions struct {
	// Backend names the store in Observer callbacks ("memory", "sqlite", "redis").
	Backend string
	// Compress enables snappy compression of encoded payloads.
	Compress bool
	Observer Observer
}

// Typed stores values of T in a Store.
type Typed[T any] struct {
	store Store
	opts  TypedOptions
}

// NewTyped wraps store.
func NewTyped[T any](store Store, opts TypedOptions) *Typed[T] {
	if opts.Backend == "" {
		opts.Backend = "unknown"
	}
	return &Typed[T]{store: store, opts: opts}
}

// Get returns the value stored under key. A payload that cannot be decoded
// is deleted and reported as a miss wrapping ErrCorruptEntry.
func (t *Typed[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	payload, ok, err := t.store.Get(ctx, key)
	if err != nil {
		t.miss()
		return zero, false, err
	}
	if !ok {
		t.miss()
		return zero, false, nil
	}

	v, err := decode[T](payload)
	if err != nil {
		t.miss()
		if delErr := t.store.Delete(ctx, key); delErr != nil {
			return zero, false, errors.Join(fmt.Errorf("%w: %v", ErrCorruptEntry, err), delErr)
		}
		return zero, false, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if t.opts.Observer != nil {
		t.opts.Observer.CacheHit(t.opts.Backend)
	}
	return v, true, nil
}

// Set stores v under key for ttl.
func (t *Typed[T]) Set(ctx context.Context, key string, v T, ttl time.Duration) error {
	payload, err := encode(v, t.opts.Compress)
	if err != nil {
		return err
	}
	return t.store.Set(ctx, key, payload, ttl)
}

// Delete removes key.
func (t *Typed[T]) Delete(ctx context.Context, key string) error {
	return t.store.Delete(ctx, key)
}

func (t *Typed[T]) miss() {
	if t.opts.Observer != nil {
		t.opts.Observer.CacheMiss(t.opts.Backend)
	}
}

func encode(v any, compress bool) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode cache value: %w", err)
	}
	if !compress {
		return append([]byte{formatJSON}, raw...), nil
	}
	return append([]byte{formatSnappy}, snappy.Encode(nil, raw)...), nil
}

func decode[T any](payload []byte) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, errors.New("empty payload")
	}
	body := payload[1:]
	switch payload[0] {
	case formatJSON:
	case formatSnappy:
		var err error
		body, err = snappy.Decode(nil, body)
		if err != nil {
			return v, fmt.Errorf("snappy: %w", err)
		}
	default:
		return v, fmt.Errorf("unknown payload format %q", payload[0])
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("json: %w", err)
	}
	return v, nil
}
