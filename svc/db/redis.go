package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"time"

	"pastelite/cfg"
	"pastelite/pkg/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedis(url string, cfg *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if cfg.RedisTLS {
		if err := applyRedisTLS(opt, cfg.RedisCACert); err != nil {
			return nil, err
		}
	}
	if cfg.RedisUsername != "" {
		opt.Username = cfg.RedisUsername
	}
	if cfg.RedisPassword.Value() != "" {
		opt.Password = cfg.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return NewRedisFromClient(client, cfg.StoreTimeout), nil
}
func NewRedisFromClient(client *redis.Client, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Redis{client: client, timeout: timeout}
}
// applyRedisTLS turns on TLS 1.2+ for opt, verifying against caPath when
// given and the system roots otherwise.
func applyRedisTLS(opt *redis.Options, caPath string) error {
	if opt.TLSConfig == nil {
		host, _, err := net.SplitHostPort(opt.Addr)
		if err != nil {
			host = opt.Addr
		}
		opt.TLSConfig = &tls.Config{ServerName: host}
	}
	opt.TLSConfig.MinVersion = tls.VersionTLS12
	if caPath == "" {
		return nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return errors.Wrap(err, "read redis CA cert")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return errors.Errorf("no certificates in %s", caPath)
	}
	opt.TLSConfig.RootCAs = pool
	return nil
}
func (r *Redis) Put(ctx context.Context, id string, p *domain.Paste, ttlSeconds *int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := p.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	if err := r.client.Set(ctx, Key(id), data, nativeTTL(ttlSeconds)).Err(); err != nil {
		return domain.StorageErr("set paste", err)
	}
	return nil
}
func (r *Redis) Get(ctx context.Context, id string) (*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, Key(id)).Bytes()
	if err == redis.Nil {
		return nil, absent()
	}
	if err != nil {
		return nil, domain.StorageErr("get paste", err)
	}
	return domain.UnmarshalPaste(id, data)
}
func (r *Redis) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, Key(id)).Err(); err != nil {
		return domain.StorageErr("delete paste", err)
	}
	return nil
}

// CompareAndSwapViews runs an optimistic WATCH/MULTI transaction. A
// concurrent writer touching the key aborts EXEC with TxFailedErr, which is
// reported as a lost swap. KEEPTTL preserves the native expiry armed by Put.
func (r *Redis) CompareAndSwapViews(ctx context.Context, id string, expected, next int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	key := Key(id)
	swapped := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		p, err := domain.UnmarshalPaste(id, data)
		if err != nil {
			return err
		}
		if p.Views != expected {
			return nil
		}
		p.Views = next
		out, err := p.Marshal()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, out, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)
	if err == redis.TxFailedErr {
		return false, nil
	}
	if err != nil {
		if errors.Is(err, domain.ErrDataCorruption) {
			return false, err
		}
		return false, domain.StorageErr("cas views", err)
	}
	return swapped, nil
}
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return domain.StorageErr("ping", err)
	}
	return nil
}

// TTL reports the remaining native expiry of a key, or a negative duration
// when none is set.
func (r *Redis) TTL(ctx context.Context, id string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	d, err := r.client.PTTL(ctx, Key(id)).Result()
	if err != nil {
		return 0, domain.StorageErr("pttl", err)
	}
	return d, nil
}
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
