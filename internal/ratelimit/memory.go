package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps events in a bounded in-process cache. Entries vanish
// ttl after their last event, so ttl must be at least the longest limiter
// interval. State is lost on restart and not shared between replicas.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, []Event]
}

// NewMemoryStore creates a store holding at most size keys
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: expirable.NewLRU[string, []Event](size, nil, ttl),
	}
}

func memoryKey(name, key string) string {
	return name + "\x00" + key
}

// Log appends the event and drops expired ones of the same key
func (m *MemoryStore) Log(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memoryKey(event.Name, event.Key)
	events, _ := m.cache.Get(k)
	events = append(unexpired(events, event.Timestamp), event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	m.cache.Add(k, events)
	return nil
}

// Unexpired returns a copy of the live events of (name, key)
func (m *MemoryStore) Unexpired(_ context.Context, name, key string, now time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events, ok := m.cache.Get(memoryKey(name, key))
	if !ok {
		return nil, nil
	}
	return unexpired(events, now), nil
}

// Purge removes expired events and empty keys
func (m *MemoryStore) Purge(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for _, k := range m.cache.Keys() {
		events, ok := m.cache.Peek(k)
		if !ok {
			continue
		}
		live := unexpired(events, now)
		purged += int64(len(events) - len(live))
		if len(live) == 0 {
			m.cache.Remove(k)
		} else if len(live) != len(events) {
			m.cache.Add(k, live)
		}
	}
	return purged, nil
}

func unexpired(events []Event, now time.Time) []Event {
	live := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Expires.After(now) {
			live = append(live, e)
		}
	}
	return live
}
