package ratecounter

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// Memory is an in-process Counter. Entries expire lazily on access and are
// purged in bulk by Sweep.
type Memory struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// MemoryOption customizes a Memory counter.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory returns an empty in-process counter.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[string]memoryEntry)}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) shardFor(key string) *shard {
	return m.shards[xxhash.Sum64String(key)%shardCount]
}

// Incr implements Counter.
func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (Entry, error) {
	s := m.shardFor(key)
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = memoryEntry{expiresAt: now.Add(ttl)}
	}
	e.count++
	s.entries[key] = e

	return Entry{Count: e.count, ExpiresAt: e.expiresAt}, nil
}

// Get implements Counter.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	s := m.shardFor(key)
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return Entry{}, false, nil
	}
	return Entry{Count: e.count, ExpiresAt: e.expiresAt}, true, nil
}

// Set implements Counter.
func (m *Memory) Set(_ context.Context, key string, value int64, ttl time.Duration) error {
	s := m.shardFor(key)
	expiresAt := m.now().Add(ttl)

	s.mu.Lock()
	s.entries[key] = memoryEntry{count: value, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

// Delete implements Counter.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s := m.shardFor(key)
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
	}
	return nil
}

// Sweep removes every expired entry and returns how many were dropped.
func (m *Memory) Sweep() int {
	now := m.now()
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if !now.Before(e.expiresAt) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Run sweeps every interval until ctx is cancelled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
