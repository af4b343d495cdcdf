package cache

import (
	"context"
	"sync"
	"time"
)

type entry[T any] struct {
	value        T
	createdAt    time.Time
	ttl          time.Duration
	accessCount  int64
	lastAccessed time.Time
}

func (e *entry[T]) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Memory is an in-process TTL cache with least-recently-used eviction at capacity.
// All check-then-act sequences run under one mutex.
type Memory[T any] struct {
	mu         sync.Mutex
	entries    map[string]*entry[T]
	capacity   int
	defaultTTL time.Duration
	now        func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

type MemoryOption[T any] func(*Memory[T])

// WithClock replaces time.Now; tests use it to drive expiry and recency deterministically.
func WithClock[T any](now func() time.Time) MemoryOption[T] {
	return func(m *Memory[T]) { m.now = now }
}

func NewMemory[T any](capacity int, defaultTTL time.Duration, opts ...MemoryOption[T]) *Memory[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultSlideTTL
	}
	m := &Memory[T]{
		entries:    make(map[string]*entry[T]),
		capacity:   capacity,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool) {
	var zero T
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.misses++
		return zero, false
	}
	now := m.now()
	if e.expired(now) {
		delete(m.entries, key)
		m.misses++
		return zero, false
	}
	e.accessCount++
	e.lastAccessed = now
	m.hits++
	return cloneValue(e.value), true
}

func (m *Memory[T]) Set(_ context.Context, key string, v T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.removeExpiredLocked(now)
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.capacity {
		m.evictLRULocked()
	}
	m.entries[key] = &entry[T]{
		value:        cloneValue(v),
		createdAt:    now,
		ttl:          ttl,
		lastAccessed: now,
	}
	return nil
}

// Has reports presence without touching recency or the hit counters.
func (m *Memory[T]) Has(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return false
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return false
	}
	return true
}

func (m *Memory[T]) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *Memory[T]) Stats(_ context.Context) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		Size:      len(m.entries),
		HitRate:   hitRate(m.hits, m.misses),
		Evictions: m.evictions,
	}
}

func (m *Memory[T]) removeExpiredLocked(now time.Time) {
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

func (m *Memory[T]) evictLRULocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, e := range m.entries {
		if !found || e.lastAccessed.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.lastAccessed, true
		}
	}
	if found {
		delete(m.entries, oldestKey)
		m.evictions++
	}
}
