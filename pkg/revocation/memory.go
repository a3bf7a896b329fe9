package revocation

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Registry. Entries are lost on restart, so it
// suits single-instance deployments and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemory returns an empty in-memory registry. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{entries: make(map[string]time.Time), now: now}
}

func (m *Memory) Revoke(_ context.Context, jti string, until time.Time) (bool, error) {
	if jti == "" {
		return false, ErrEmptyJTI
	}
	now := m.now()
	if !until.After(now) {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[jti]; ok && !now.After(cur) {
		return false, nil
	}
	m.entries[jti] = until
	return true, nil
}

func (m *Memory) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.RLock()
	exp, ok := m.entries[jti]
	m.mu.RUnlock()
	return ok && !m.now().After(exp), nil
}

// Purge drops entries whose expiry has passed.
func (m *Memory) Purge(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for jti, exp := range m.entries {
		if now.After(exp) {
			delete(m.entries, jti)
			n++
		}
	}
	return n, nil
}

// Len reports the number of tracked entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
