package db

import (
	"context"
	"time"

	"pastelite/cfg"
	"pastelite/pkg/domain"

	"github.com/pkg/errors"
)

// Store is the paste storage contract. Implementations report a missing key
// as domain.NotFound(ReasonAbsent), an undecodable payload as
// domain.ErrDataCorruption and every transport failure as
// domain.ErrStorageUnavailable.
type Store interface {
	// Put writes p under Key(id). A non-nil ttlSeconds also arms the
	// backend's native expiry for the key.
	Put(ctx context.Context, id string, p *domain.Paste, ttlSeconds *int64) error
	Get(ctx context.Context, id string) (*domain.Paste, error)
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
	// CompareAndSwapViews sets views to next only if it currently equals
	// expected. A missing key reports false without error.
	CompareAndSwapViews(ctx context.Context, id string, expected, next int64) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Sweeper is implemented by backends that emulate native expiry with an
// index instead of relying on the server to evict keys.
type Sweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

const keyPrefix = "paste:"

func Key(id string) string {
	return keyPrefix + id
}
func Open(c *cfg.Cfg) (Store, error) {
	switch c.StoreBackend {
	case cfg.BackendRedis:
		return NewRedis(c.RedisURL, c)
	case cfg.BackendSQLite:
		return NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.StoreTimeout)
	case cfg.BackendBolt:
		return NewBolt(c.BoltPath, c.StoreTimeout)
	case cfg.BackendMemory:
		return NewMemory(), nil
	}
	return nil, errors.Errorf("unknown store backend %q", c.StoreBackend)
}
// nativeTTL converts a ttl to a Duration, saturating at the largest one
// representable. Zero means no expiry.
func nativeTTL(ttlSeconds *int64) time.Duration {
	if ttlSeconds == nil || *ttlSeconds <= 0 {
		return 0
	}
	if *ttlSeconds > domain.MaxTTLSeconds {
		return time.Duration(domain.MaxTTLSeconds) * time.Second
	}
	return time.Duration(*ttlSeconds) * time.Second
}
func nativeDeadline(now time.Time, ttlSeconds *int64) time.Time {
	ttl := nativeTTL(ttlSeconds)
	if ttl == 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
func absent() error {
	return domain.NotFound(domain.ReasonAbsent)
}
