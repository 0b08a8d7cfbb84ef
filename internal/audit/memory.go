package audit

import (
	"context"
	"sync"

	"github.com/alexisbeaulieu97/stagehand/internal/logger"
)

const defaultMemoryCapacity = 10000

// MemoryStore keeps events in process memory. It is bounded and therefore lossy: beyond its
// capacity the oldest event is discarded to make room. Use the SQLite store for a complete trail.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	nextID   int64
	dropped  int64
	events   []Event
	log      *logger.Logger
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithDropLogger reports the first discarded event on log.
func WithDropLogger(log *logger.Logger) MemoryOption {
	return func(m *MemoryStore) {
		m.log = log
	}
}

// NewMemoryStore creates a store holding at most capacity events (defaults to 10000).
// Older events are discarded once it is full; Dropped reports how many.
func NewMemoryStore(capacity int, opts ...MemoryOption) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	m := &MemoryStore{capacity: capacity}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record implements Sink.
func (m *MemoryStore) Record(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	event.ID = m.nextID
	event.Details = copyDetails(event.Details)

	if len(m.events) == m.capacity {
		m.dropped++
		if m.dropped == 1 && m.log != nil {
			m.log.WithFields(map[string]any{"capacity": m.capacity}).
				Warn("in-memory audit store is full, discarding oldest events")
		}
		copy(m.events, m.events[1:])
		m.events[len(m.events)-1] = event
		return nil
	}
	m.events = append(m.events, event)
	return nil
}

// List implements Lister.
func (m *MemoryStore) List(_ context.Context, q Query) ([]Event, error) {
	limit := normalizeLimit(q.Limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, 0, min(limit, len(m.events)))
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		event := m.events[i]
		if q.Action != "" && event.Action != q.Action {
			continue
		}
		if q.Actor != "" && event.Actor != q.Actor {
			continue
		}
		event.Details = copyDetails(event.Details)
		out = append(out, event)
	}
	return out, nil
}

// Len reports how many events are held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Dropped reports how many events were discarded to stay within capacity.
func (m *MemoryStore) Dropped() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropped
}
