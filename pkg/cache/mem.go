package cache

import (
	"sync"
	"time"
)

// Mem is an in-process journal for single-node deployments and tests.
// Entries go away on restart; the sink is keyed for idempotent replay,
// so the worst case is one duplicate upload per entry.
type Mem struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value   []byte
	expires time.Time
}

func NewMem() *Mem {
	return &Mem{entries: map[string]memEntry{}}
}

func (m *Mem) GetKey(k Keyer) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[k.Key()]
	if !ok || time.Now().After(e.expires) {
		delete(m.entries, k.Key())
		return nil, ErrNotCached
	}
	return e.value, nil
}

func (m *Mem) SetKey(k Keyer, expiry time.Time, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[k.Key()] = memEntry{value: v, expires: time.Now().Add(GracePeriod(expiry))}
	return nil
}
