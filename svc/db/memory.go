package db

import (
	"context"
	"sync"
	"time"

	"pastelite/pkg/domain"
)

type memEntry struct {
	value    []byte
	deadline time.Time
}

// Memory keeps serialized records in a map. It backs tests and single-process
// development runs; records do not survive a restart.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry), now: time.Now}
}

// SetClock replaces the wall clock used for native expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// PutRaw stores data verbatim under Key(id).
func (m *Memory) PutRaw(id string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[Key(id)] = memEntry{value: append([]byte(nil), data...)}
}
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// liveLocked evicts key when its native deadline has passed.
func (m *Memory) liveLocked(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.deadline.IsZero() && !m.now().Before(e.deadline) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}
func (m *Memory) Put(ctx context.Context, id string, p *domain.Paste, ttlSeconds *int64) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageErr("memory put", err)
	}
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[Key(id)] = memEntry{value: data, deadline: nativeDeadline(m.now(), ttlSeconds)}
	return nil
}
func (m *Memory) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.StorageErr("memory get", err)
	}
	m.mu.Lock()
	e, ok := m.liveLocked(Key(id))
	m.mu.Unlock()
	if !ok {
		return nil, absent()
	}
	return domain.UnmarshalPaste(id, e.value)
}
func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageErr("memory delete", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, Key(id))
	return nil
}
func (m *Memory) CompareAndSwapViews(ctx context.Context, id string, expected, next int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.StorageErr("memory cas", err)
	}
	key := Key(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(key)
	if !ok {
		return false, nil
	}
	p, err := domain.UnmarshalPaste(id, e.value)
	if err != nil {
		return false, err
	}
	if p.Views != expected {
		return false, nil
	}
	p.Views = next
	data, err := p.Marshal()
	if err != nil {
		return false, err
	}
	e.value = data
	m.entries[key] = e
	return true, nil
}
func (m *Memory) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageErr("memory ping", err)
	}
	return nil
}
func (m *Memory) Close() error {
	return nil
}
