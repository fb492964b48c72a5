package db

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	"pastelite/pkg/domain"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultQueryTimeout = 2 * time.Second
)

// SQLite stores pastes in a single key/value table. The native expiry of a
// key lives in its own column and is enforced on read and by DeleteExpired.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
	now           func() time.Time
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}
func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
		now:          time.Now,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}
func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return domain.StorageErr("sqlite", ErrCircuitOpen)
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}
func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	_, err = s.db.Exec("PRAGMA synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at);
	`
	_, err = s.db.Exec(query)
	return err
}
func (s *SQLite) Put(ctx context.Context, id string, p *domain.Paste, ttlSeconds *int64) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	data, err := p.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	var deadline interface{}
	if d := nativeDeadline(s.now(), ttlSeconds); !d.IsZero() {
		deadline = d.UnixMilli()
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`
	_, err = s.db.ExecContext(queryCtx, q, Key(id), data, deadline)
	s.recordError(err)
	if err != nil {
		return domain.StorageErr("sqlite put", err)
	}
	return nil
}
func (s *SQLite) getRaw(ctx context.Context, id string) ([]byte, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`
	var data []byte
	err := s.db.QueryRowContext(queryCtx, q, Key(id), s.now().UnixMilli()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, absent()
	}
	s.recordError(err)
	if err != nil {
		return nil, domain.StorageErr("sqlite get", err)
	}
	return data, nil
}
func (s *SQLite) Get(ctx context.Context, id string) (*domain.Paste, error) {
	data, err := s.getRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.UnmarshalPaste(id, data)
}
func (s *SQLite) Delete(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `DELETE FROM kv WHERE key = ?`, Key(id))
	s.recordError(err)
	if err != nil {
		return domain.StorageErr("sqlite delete", err)
	}
	return nil
}

// CompareAndSwapViews conditions the update on the exact stored bytes. Views
// only grow and content never changes, so byte equality cannot suffer ABA.
func (s *SQLite) CompareAndSwapViews(ctx context.Context, id string, expected, next int64) (bool, error) {
	old, err := s.getRaw(ctx, id)
	if errors.Is(err, domain.ErrPasteNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p, err := domain.UnmarshalPaste(id, old)
	if err != nil {
		return false, err
	}
	if p.Views != expected {
		return false, nil
	}
	p.Views = next
	data, err := p.Marshal()
	if err != nil {
		return false, errors.Wrap(err, "marshal paste")
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, `UPDATE kv SET value = ? WHERE key = ? AND value = ?`, data, Key(id), old)
	s.recordError(err)
	if err != nil {
		return false, domain.StorageErr("sqlite cas", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, domain.StorageErr("sqlite cas", err)
	}
	return n == 1, nil
}
func (s *SQLite) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	totalDeleted := 0
	maxIterations := 10000
	for i := 0; i < maxIterations; i++ {
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		result, err := s.db.ExecContext(queryCtx, `
			DELETE FROM kv
			WHERE key IN (
				SELECT key FROM kv
				WHERE expires_at IS NOT NULL AND expires_at <= ?
				LIMIT 100
			)
		`, before.UnixMilli())
		cancel()
		s.recordError(err)
		if err != nil {
			return totalDeleted, domain.StorageErr("sqlite sweep", err)
		}
		deleted, _ := result.RowsAffected()
		totalDeleted += int(deleted)
		if deleted < 100 {
			break
		}
	}
	return totalDeleted, nil
}
func (s *SQLite) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return domain.StorageErr("sqlite ping", err)
	}
	return nil
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
