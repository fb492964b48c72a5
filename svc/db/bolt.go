package db

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"pastelite/pkg/domain"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	kvBucket       = []byte("kv")
	deadlineBucket = []byte("deadlines")
	expireBucket   = []byte("expires")
)

// Bolt is a single-file store. Native expiry is emulated with a deadline per
// key plus a time-ordered index walked by DeleteExpired.
type Bolt struct {
	db      *bolt.DB
	timeout time.Duration
	now     func() time.Time
}

func NewBolt(path string, timeout time.Duration) (*Bolt, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{kvBucket, deadlineBucket, expireBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db, timeout: timeout, now: time.Now}, nil
}
func (b *Bolt) Put(ctx context.Context, id string, p *domain.Paste, ttlSeconds *int64) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageErr("bolt put", err)
	}
	data, err := p.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	key := []byte(Key(id))
	deadline := nativeDeadline(b.now(), ttlSeconds)
	err = b.db.Update(func(tx *bolt.Tx) error {
		kv, dl, ex := tx.Bucket(kvBucket), tx.Bucket(deadlineBucket), tx.Bucket(expireBucket)
		if prev := dl.Get(key); prev != nil {
			if err := ex.Delete(expireKey(binary.BigEndian.Uint64(prev), key)); err != nil {
				return err
			}
			if err := dl.Delete(key); err != nil {
				return err
			}
		}
		if err := kv.Put(key, data); err != nil {
			return err
		}
		if deadline.IsZero() {
			return nil
		}
		ms := uint64(deadline.UnixMilli())
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], ms)
		if err := dl.Put(key, buf[:]); err != nil {
			return err
		}
		return ex.Put(expireKey(ms, key), key)
	})
	if err != nil {
		return domain.StorageErr("bolt put", err)
	}
	return nil
}

// live returns the stored bytes for key, or nil when the key is missing or
// past its native deadline.
func (b *Bolt) live(tx *bolt.Tx, key []byte) []byte {
	raw := tx.Bucket(kvBucket).Get(key)
	if raw == nil {
		return nil
	}
	if dl := tx.Bucket(deadlineBucket).Get(key); dl != nil {
		if int64(binary.BigEndian.Uint64(dl)) <= b.now().UnixMilli() {
			return nil
		}
	}
	return raw
}
func (b *Bolt) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.StorageErr("bolt get", err)
	}
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if raw := b.live(tx, []byte(Key(id))); raw != nil {
			data = bytes.Clone(raw)
		}
		return nil
	})
	if err != nil {
		return nil, domain.StorageErr("bolt get", err)
	}
	if data == nil {
		return nil, absent()
	}
	return domain.UnmarshalPaste(id, data)
}
func (b *Bolt) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageErr("bolt delete", err)
	}
	key := []byte(Key(id))
	err := b.db.Update(func(tx *bolt.Tx) error {
		return deleteKey(tx, key)
	})
	if err != nil {
		return domain.StorageErr("bolt delete", err)
	}
	return nil
}
func deleteKey(tx *bolt.Tx, key []byte) error {
	dl := tx.Bucket(deadlineBucket)
	if prev := dl.Get(key); prev != nil {
		if err := tx.Bucket(expireBucket).Delete(expireKey(binary.BigEndian.Uint64(prev), key)); err != nil {
			return err
		}
		if err := dl.Delete(key); err != nil {
			return err
		}
	}
	return tx.Bucket(kvBucket).Delete(key)
}

// CompareAndSwapViews runs read, compare and write inside one read-write
// transaction; bolt admits a single writer at a time.
func (b *Bolt) CompareAndSwapViews(ctx context.Context, id string, expected, next int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.StorageErr("bolt cas", err)
	}
	key := []byte(Key(id))
	swapped := false
	var decodeErr error
	err := b.db.Update(func(tx *bolt.Tx) error {
		raw := b.live(tx, key)
		if raw == nil {
			return nil
		}
		p, err := domain.UnmarshalPaste(id, raw)
		if err != nil {
			decodeErr = err
			return nil
		}
		if p.Views != expected {
			return nil
		}
		p.Views = next
		data, err := p.Marshal()
		if err != nil {
			return err
		}
		if err := tx.Bucket(kvBucket).Put(key, data); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, domain.StorageErr("bolt cas", err)
	}
	if decodeErr != nil {
		return false, decodeErr
	}
	return swapped, nil
}
func (b *Bolt) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cutoff := uint64(before.UnixMilli())
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		ex := tx.Bucket(expireBucket)
		var due [][]byte
		c := ex.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if binary.BigEndian.Uint64(k[:8]) > cutoff {
				break
			}
			due = append(due, bytes.Clone(k[8:]))
		}
		for _, key := range due {
			if err := deleteKey(tx, key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, domain.StorageErr("bolt sweep", err)
	}
	return removed, nil
}
func (b *Bolt) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return domain.StorageErr("bolt ping", err)
	}
	if err := b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(kvBucket) == nil {
			return errors.New("kv bucket missing")
		}
		return nil
	}); err != nil {
		return domain.StorageErr("bolt ping", err)
	}
	return nil
}
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
func expireKey(ms uint64, key []byte) []byte {
	out := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(out, ms)
	copy(out[8:], key)
	return out
}
