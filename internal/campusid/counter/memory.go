package counter

import (
	"context"
	"sync"
	"time"
)

// MemoryFailures is a process-local FailureCounter. Timestamps older than
// the widest window are pruned on each Add.
type MemoryFailures struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

func NewMemoryFailures() *MemoryFailures {
	return &MemoryFailures{events: make(map[string][]time.Time)}
}

func (m *MemoryFailures) Add(_ context.Context, key string, at time.Time, windows ...time.Duration) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldest := at.Add(-maxWindow(windows))
	kept := m.events[key][:0]
	for _, t := range m.events[key] {
		if !t.Before(oldest) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, at)
	m.events[key] = kept

	counts := make([]int, len(windows))
	for i, w := range windows {
		from := at.Add(-w)
		for _, t := range kept {
			if !t.Before(from) && !t.After(at) {
				counts[i]++
			}
		}
	}
	return counts, nil
}

func (m *MemoryFailures) Count(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := now.Add(-window)
	n := 0
	for _, t := range m.events[key] {
		if !t.Before(from) && !t.After(now) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryFailures) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.events, key)
	m.mu.Unlock()
	return nil
}

// MemoryLocks is a process-local LockStore. Expired markers are dropped
// lazily.
type MemoryLocks struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{until: make(map[string]time.Time)}
}

func (m *MemoryLocks) Acquire(_ context.Context, key string, now time.Time, ttl time.Duration) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.until[key]; ok && u.After(now) {
		return u, false, nil
	}
	u := now.Add(ttl)
	m.until[key] = u
	return u, true, nil
}

func (m *MemoryLocks) Get(_ context.Context, key string, now time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.until[key]
	if !ok {
		return time.Time{}, false, nil
	}
	if !u.After(now) {
		delete(m.until, key)
		return time.Time{}, false, nil
	}
	return u, true, nil
}

// MemoryOccupancy is a process-local Occupancy.
type MemoryOccupancy struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryOccupancy() *MemoryOccupancy {
	return &MemoryOccupancy{counts: make(map[string]int)}
}

func (m *MemoryOccupancy) TryEnter(_ context.Context, facilityID string, capacity int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.counts[facilityID]
	if cur >= capacity {
		return cur, false, nil
	}
	cur++
	m.counts[facilityID] = cur
	return cur, true, nil
}

func (m *MemoryOccupancy) Enter(_ context.Context, facilityID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[facilityID]++
	return m.counts[facilityID], nil
}

func (m *MemoryOccupancy) Leave(_ context.Context, facilityID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[facilityID] > 0 {
		m.counts[facilityID]--
	}
	return m.counts[facilityID], nil
}

func (m *MemoryOccupancy) Current(_ context.Context, facilityID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[facilityID], nil
}
