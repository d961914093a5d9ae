package kvstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development. It
// mirrors the redis semantics closely enough for the limiter and detector
// suites to run without a redis instance.
type Memory struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	counter map[string]memVal[int64]
	floats  map[string]memVal[float64]
	flags   map[string]time.Time

	now func() time.Time
}

type memVal[T any] struct {
	v         T
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		windows: make(map[string][]time.Time),
		counter: make(map[string]memVal[int64]),
		floats:  make(map[string]memVal[float64]),
		flags:   make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetNow overrides the clock, test use only.
func (m *Memory) SetNow(now func() time.Time) { m.now = now }

func (m *Memory) AddEntry(_ context.Context, key string, ts time.Time, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append(m.windows[key], ts)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Before(entries[j]) })
	m.windows[key] = entries
	return nil
}

func (m *Memory) CountSince(_ context.Context, key string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, ts := range m.windows[key] {
		if !ts.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) OldestSince(_ context.Context, key string, since time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ts := range m.windows[key] {
		if !ts.Before(since) {
			return ts, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (m *Memory) PruneBefore(_ context.Context, key string, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.windows[key][:0]
	for _, ts := range m.windows[key] {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.windows[key] = kept
	return nil
}

func (m *Memory) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.counter[key]
	if !ok || m.now().After(cur.expiresAt) {
		cur = memVal[int64]{}
	}
	cur.v += delta
	cur.expiresAt = m.now().Add(ttl)
	m.counter[key] = cur
	return cur.v, nil
}

func (m *Memory) GetFloat(_ context.Context, key string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.floats[key]
	if !ok || m.now().After(cur.expiresAt) {
		return 0, false, nil
	}
	return cur.v, true, nil
}

func (m *Memory) SetFloat(_ context.Context, key string, v float64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.floats[key] = memVal[float64]{v: v, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) SetFlag(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[key] = m.now().Add(ttl)
	return nil
}

func (m *Memory) HasFlag(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.flags[key]
	if !ok {
		return false, nil
	}
	if m.now().After(exp) {
		delete(m.flags, key)
		return false, nil
	}
	return true, nil
}
