package cache

import (
	"errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"pastelite/pkg/domain"
	"sync"
)

// Tombstones remembers ids that are permanently gone. Expired and exhausted
// pastes never come back, so a hit can be answered without touching the store.
// Absent ids are not recorded: the id may simply not have been written yet.
type Tombstones struct {
	c  *lru.Cache[string, domain.NotFoundReason]
	mu sync.Mutex
}

func NewTombstones(size int) (*Tombstones, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 1000000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, domain.NotFoundReason](size)
	if err != nil {
		return nil, err
	}
	return &Tombstones{c: c}, nil
}
func (t *Tombstones) Mark(id string, reason domain.NotFoundReason) {
	if t == nil || reason == domain.ReasonAbsent {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.c.Add(id, reason)
}
func (t *Tombstones) Lookup(id string) (domain.NotFoundReason, bool) {
	if t == nil {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c.Get(id)
}
func (t *Tombstones) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c.Len()
}
