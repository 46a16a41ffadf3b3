package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kubilitics/cop-analytics/internal/metrics"
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("events: hub closed")

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

type subscription struct {
	collection string
	pred       Predicate
	ch         chan ChangeEvent
}

// Hub fans published events out to in-process subscribers. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	buffer int
	closed bool
	logger *zap.Logger
}

// NewHub creates a Hub with the given per-subscriber buffer.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[*subscription]struct{}),
		buffer: buffer,
		logger: logger.Named("events"),
	}
}

// Subscribe implements Subscriber. An empty collection matches all.
func (h *Hub) Subscribe(ctx context.Context, collection string, pred Predicate) (<-chan ChangeEvent, error) {
	sub := &subscription{collection: collection, pred: pred, ch: make(chan ChangeEvent, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(sub)
	}()
	return sub.ch, nil
}

func (h *Hub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers ev to every matching subscriber.
func (h *Hub) Publish(ev ChangeEvent) {
	metrics.ChangeEventsTotal.WithLabelValues(ev.Collection, string(ev.Op)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.collection != "" && sub.collection != ev.Collection {
			continue
		}
		if sub.pred != nil && !sub.pred(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			metrics.ChangeEventsDropped.WithLabelValues(ev.Collection).Inc()
			h.logger.Warn("subscriber not keeping up, event dropped",
				zap.String("collection", ev.Collection))
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
