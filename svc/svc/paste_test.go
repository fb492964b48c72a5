package svc

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pastelite/cfg"
	"pastelite/pkg/domain"
	"pastelite/svc/cache"
	"pastelite/svc/clock"
	"pastelite/svc/db"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const jan2024 = int64(1704067200000)

func i64(v int64) *int64 { return &v }

// spyStore counts calls and can inject failures in front of a real store.
type spyStore struct {
	db.Store
	puts, gets, cas, deletes atomic.Int64
	getErr                   error
	deleteErr                error
	casAlwaysFails           bool
}

func (s *spyStore) Put(ctx context.Context, id string, p *domain.Paste, ttl *int64) error {
	s.puts.Add(1)
	return s.Store.Put(ctx, id, p, ttl)
}
func (s *spyStore) Get(ctx context.Context, id string) (*domain.Paste, error) {
	s.gets.Add(1)
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, id)
}
func (s *spyStore) Delete(ctx context.Context, id string) error {
	s.deletes.Add(1)
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.Delete(ctx, id)
}
func (s *spyStore) CompareAndSwapViews(ctx context.Context, id string, expected, next int64) (bool, error) {
	s.cas.Add(1)
	if s.casAlwaysFails {
		return false, nil
	}
	return s.Store.CompareAndSwapViews(ctx, id, expected, next)
}

type fixture struct {
	svc   *Paste
	mem   *db.Memory
	spy   *spyStore
	clock *clock.Fixed
	cfg   *cfg.Cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, cfg.Default())
}
func newFixtureWith(t *testing.T, c *cfg.Cfg) *fixture {
	t.Helper()
	mem := db.NewMemory()
	frozen := time.Now()
	mem.SetClock(func() time.Time { return frozen })
	spy := &spyStore{Store: mem}
	tomb, err := cache.NewTombstones(128)
	if err != nil {
		t.Fatal(err)
	}
	clk := clock.NewFixed(jan2024)
	return &fixture{
		svc:   NewPaste(spy, clk, tomb, c),
		mem:   mem,
		spy:   spy,
		clock: clk,
		cfg:   c,
	}
}
func (f *fixture) create(t *testing.T, content string, ttl, maxViews *int64) string {
	t.Helper()
	p, err := f.svc.Create(context.Background(), domain.CreateParams{Content: content, TTLSeconds: ttl, MaxViews: maxViews})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p.ID
}
func assertNotFound(t *testing.T, err error, reason domain.NotFoundReason) {
	t.Helper()
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got, _ := domain.ReasonOf(err); got != reason {
		t.Fatalf("reason = %q, want %q", got, reason)
	}
	if domain.Status(err) != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", domain.Status(err))
	}
}

func TestCreateThenPeekReturnsContent(t *testing.T) {
	f := newFixture(t)
	for _, content := range []string{
		"hello",
		"  padded  \n",
		"multi\nline\r\ncontent\t",
		"unicode ✓ 日本語",
		`{"json": "looking"}`,
	} {
		id := f.create(t, content, nil, nil)
		res, err := f.svc.Peek(context.Background(), id)
		if err != nil {
			t.Fatalf("peek %q: %v", content, err)
		}
		if res.Content != content {
			t.Fatalf("peek = %q, want %q", res.Content, content)
		}
	}
}

func TestCreateAssignsHexID(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "x", nil, nil)
	if len(id) != 32 || strings.Trim(id, "0123456789abcdef") != "" {
		t.Fatalf("id %q is not 32 hex chars", id)
	}
}

func TestCreateValidationWritesNothing(t *testing.T) {
	c := cfg.Default()
	c.MaxPasteSize = 16
	tests := []struct {
		name   string
		params domain.CreateParams
		want   *domain.Err
	}{
		{"empty", domain.CreateParams{Content: ""}, domain.ErrInvalidContent},
		{"whitespace", domain.CreateParams{Content: " \n\t "}, domain.ErrInvalidContent},
		{"ttl zero", domain.CreateParams{Content: "x", TTLSeconds: i64(0)}, domain.ErrInvalidTTL},
		{"ttl negative", domain.CreateParams{Content: "x", TTLSeconds: i64(-3)}, domain.ErrInvalidTTL},
		{"views zero", domain.CreateParams{Content: "x", MaxViews: i64(0)}, domain.ErrInvalidMaxViews},
		{"views negative", domain.CreateParams{Content: "x", MaxViews: i64(-1)}, domain.ErrInvalidMaxViews},
		{"too large", domain.CreateParams{Content: strings.Repeat("a", 17)}, domain.ErrPasteTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureWith(t, c)
			_, err := f.svc.Create(context.Background(), tt.params)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if domain.Status(err) != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", domain.Status(err))
			}
			if n := f.spy.puts.Load(); n != 0 {
				t.Fatalf("%d puts after a validation failure", n)
			}
			if f.mem.Len() != 0 {
				t.Fatal("store is not empty")
			}
		})
	}
}

func TestCreateRejectsUnrepresentableTTL(t *testing.T) {
	f := newFixture(t)
	for _, ttl := range []int64{domain.MaxTTLSeconds + 1, 1e10, 1e16, math.MaxInt64} {
		_, err := f.svc.Create(context.Background(), domain.CreateParams{Content: "x", TTLSeconds: i64(ttl)})
		if !errors.Is(err, domain.ErrInvalidTTL) {
			t.Fatalf("ttl=%d: err = %v, want invalid ttl", ttl, err)
		}
	}
	ctx := clock.WithOverride(context.Background(), math.MaxInt64-500)
	if _, err := f.svc.Create(ctx, domain.CreateParams{Content: "x", TTLSeconds: i64(1)}); !errors.Is(err, domain.ErrInvalidTTL) {
		t.Fatalf("expiry past the int64 range: err = %v", err)
	}
	if f.spy.puts.Load() != 0 {
		t.Fatalf("rejected creates wrote %d records", f.spy.puts.Load())
	}

	p, err := f.svc.Create(context.Background(), domain.CreateParams{Content: "long lived", TTLSeconds: i64(domain.MaxTTLSeconds)})
	if err != nil {
		t.Fatalf("largest ttl: %v", err)
	}
	if *p.ExpiresAt <= jan2024 {
		t.Fatalf("expires_at = %d, want after creation", *p.ExpiresAt)
	}
	res, err := f.svc.Peek(context.Background(), p.ID)
	if err != nil || res.Content != "long lived" {
		t.Fatalf("peek = %v, %v", res, err)
	}
}

func TestCreateRoundTripsThroughStore(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Create(context.Background(), domain.CreateParams{Content: "rt", TTLSeconds: i64(90), MaxViews: i64(4)})
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.mem.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "rt" || got.CreatedAt != jan2024 || *got.ExpiresAt != jan2024+90_000 ||
		*got.MaxViews != 4 || got.Views != 0 {
		t.Fatalf("stored record = %+v", got)
	}
	if f.spy.puts.Load() != 1 {
		t.Fatalf("puts = %d, want exactly 1", f.spy.puts.Load())
	}
}

func TestConsumeSingleView(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "once", nil, i64(1))
	res, err := f.svc.Consume(context.Background(), id)
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if res.Content != "once" || res.RemainingViews == nil || *res.RemainingViews != 0 {
		t.Fatalf("first consume = %+v", res)
	}
	if res.ExpiresAt != nil {
		t.Fatalf("expires_at = %q, want nil", *res.ExpiresAt)
	}
	_, err = f.svc.Consume(context.Background(), id)
	assertNotFound(t, err, domain.ReasonLimitExceeded)
}

func TestConsumeCountsDown(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "three", i64(60), i64(3))
	for want := int64(2); want >= 0; want-- {
		res, err := f.svc.Consume(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if *res.RemainingViews != want {
			t.Fatalf("remaining = %d, want %d", *res.RemainingViews, want)
		}
		if *res.ExpiresAt != "2024-01-01T00:01:00Z" {
			t.Fatalf("expires_at = %q", *res.ExpiresAt)
		}
	}
	_, err := f.svc.Consume(context.Background(), id)
	assertNotFound(t, err, domain.ReasonLimitExceeded)
}

func TestConsumeUnlimited(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "forever", nil, nil)
	for i := 0; i < 20; i++ {
		res, err := f.svc.Consume(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if res.RemainingViews != nil {
			t.Fatal("unlimited paste reported remaining views")
		}
	}
	p, _ := f.mem.Get(context.Background(), id)
	if p.Views != 20 {
		t.Fatalf("views = %d, want 20", p.Views)
	}
}

func TestConsumeAbsent(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Consume(context.Background(), "0123456789abcdef0123456789abcdef")
	assertNotFound(t, err, domain.ReasonAbsent)
}

func TestConsumeExpiredDeletesRecord(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "brief", i64(1), nil)

	f.clock.Advance(time.Second)
	if _, err := f.svc.Consume(context.Background(), id); err != nil {
		t.Fatalf("consume at exactly expires_at should succeed: %v", err)
	}
	f.clock.Advance(time.Millisecond)
	_, err := f.svc.Consume(context.Background(), id)
	assertNotFound(t, err, domain.ReasonExpired)

	_, err = f.mem.Get(context.Background(), id)
	if reason, _ := domain.ReasonOf(err); reason != domain.ReasonAbsent {
		t.Fatalf("record should be gone from the store, got %v", err)
	}
}

func TestFailedLazyDeleteIsRetried(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "sticky", i64(1), nil)
	f.spy.deleteErr = domain.StorageErr("delete paste", errors.New("disk full"))
	f.clock.Advance(2 * time.Second)
	for i := 0; i < 3; i++ {
		_, err := f.svc.Consume(context.Background(), id)
		assertNotFound(t, err, domain.ReasonExpired)
	}
	if got := f.spy.deletes.Load(); got != 3 {
		t.Fatalf("delete attempts = %d, want one per access", got)
	}
	if _, ok := f.svc.tomb.Lookup(id); ok {
		t.Fatal("id tombstoned while its record is still stored")
	}

	f.spy.deleteErr = nil
	_, err := f.svc.Peek(context.Background(), id)
	assertNotFound(t, err, domain.ReasonExpired)
	if f.mem.Len() != 0 {
		t.Fatal("record should be deleted once the store recovers")
	}
	if reason, ok := f.svc.tomb.Lookup(id); !ok || reason != domain.ReasonExpired {
		t.Fatalf("tombstone after delete = %q, %v", reason, ok)
	}
}

func TestExpiryCheckedBeforeLimit(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "both", i64(5), i64(1))
	if _, err := f.svc.Consume(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(10 * time.Second)
	_, err := f.svc.ConsumeAt(context.Background(), id, f.clock.NowMs())
	assertNotFound(t, err, domain.ReasonExpired)
	if f.mem.Len() != 0 {
		t.Fatal("expired record was not deleted")
	}
}

func TestPeekExpiredDeletesRecord(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "peek", i64(2), nil)
	_, err := f.svc.PeekAt(context.Background(), id, jan2024+2001)
	assertNotFound(t, err, domain.ReasonExpired)
	if f.mem.Len() != 0 {
		t.Fatal("expired record was not deleted by peek")
	}
}

func TestPeekNeverConsumes(t *testing.T) {
	f := newFixture(t)
	limited := f.create(t, "limited", nil, i64(1))
	unlimited := f.create(t, "unlimited", nil, nil)
	for i := 0; i < 25; i++ {
		for _, id := range []string{limited, unlimited} {
			if _, err := f.svc.Peek(context.Background(), id); err != nil {
				t.Fatalf("peek %d: %v", i, err)
			}
		}
	}
	p, _ := f.mem.Get(context.Background(), unlimited)
	if p.Views != 0 {
		t.Fatalf("peek mutated views to %d", p.Views)
	}
	res, err := f.svc.Consume(context.Background(), limited)
	if err != nil {
		t.Fatalf("limited paste exhausted by peeks: %v", err)
	}
	if *res.RemainingViews != 0 {
		t.Fatalf("remaining = %d", *res.RemainingViews)
	}
	_, err = f.svc.Peek(context.Background(), limited)
	assertNotFound(t, err, domain.ReasonLimitExceeded)
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	for _, n := range []int{2, 16, 64} {
		f := newFixture(t)
		id := f.create(t, "race", nil, i64(1))
		var wins, misses atomic.Int64
		var g errgroup.Group
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			g.Go(func() error {
				<-start
				_, err := f.svc.Consume(context.Background(), id)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, domain.ErrPasteNotFound):
					misses.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		close(start)
		if err := g.Wait(); err != nil {
			t.Fatalf("n=%d: unexpected error %v", n, err)
		}
		if wins.Load() != 1 || misses.Load() != int64(n-1) {
			t.Fatalf("n=%d: wins=%d misses=%d", n, wins.Load(), misses.Load())
		}
	}
}

func TestConcurrentConsumeRespectsBudget(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "budget", nil, i64(5))
	var wg sync.WaitGroup
	var wins atomic.Int64
	seen := make([]bool, 5)
	var mu sync.Mutex
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Consume(context.Background(), id)
			if err != nil {
				return
			}
			wins.Add(1)
			mu.Lock()
			seen[*res.RemainingViews] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if wins.Load() != 5 {
		t.Fatalf("wins = %d, want 5", wins.Load())
	}
	for r, ok := range seen {
		if !ok {
			t.Fatalf("remaining_views %d never handed out", r)
		}
	}
}

func TestStorageErrorIsNotNotFound(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "x", nil, nil)
	f.spy.getErr = domain.StorageErr("memory get", errors.New("connection refused"))
	for name, call := range map[string]func() error{
		"consume": func() error { _, err := f.svc.Consume(context.Background(), id); return err },
		"peek":    func() error { _, err := f.svc.Peek(context.Background(), id); return err },
		"create": func() error {
			_, err := f.svc.Create(context.Background(), domain.CreateParams{Content: "y"})
			return err
		},
	} {
		err := call()
		if errors.Is(err, domain.ErrPasteNotFound) {
			t.Fatalf("%s: storage failure reported as not found", name)
		}
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			t.Fatalf("%s: err = %v", name, err)
		}
		if domain.Status(err) != http.StatusServiceUnavailable {
			t.Fatalf("%s: status = %d", name, domain.Status(err))
		}
	}
}

func TestCorruptRecord(t *testing.T) {
	f := newFixture(t)
	f.mem.PutRaw("broken", []byte(`{"content": 12`))
	_, err := f.svc.Consume(context.Background(), "broken")
	if !errors.Is(err, domain.ErrDataCorruption) {
		t.Fatalf("err = %v", err)
	}
	if domain.Status(err) != http.StatusInternalServerError {
		t.Fatalf("status = %d", domain.Status(err))
	}
	if _, err := f.svc.Peek(context.Background(), "broken"); !errors.Is(err, domain.ErrDataCorruption) {
		t.Fatalf("peek err = %v", err)
	}

	for _, raw := range []string{`{}`, `null`} {
		f.mem.PutRaw("hollow", []byte(raw))
		res, err := f.svc.Consume(context.Background(), "hollow")
		if !errors.Is(err, domain.ErrDataCorruption) {
			t.Fatalf("consume of %s = %+v, %v; want data corruption", raw, res, err)
		}
	}
}

func TestCASExhaustionIsTransient(t *testing.T) {
	c := cfg.Default()
	c.CASMaxRetries = 3
	f := newFixtureWith(t, c)
	id := f.create(t, "contended", nil, nil)
	f.spy.casAlwaysFails = true
	_, err := f.svc.Consume(context.Background(), id)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if domain.Status(err) != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", domain.Status(err))
	}
	if f.spy.cas.Load() != 3 {
		t.Fatalf("cas attempts = %d, want 3", f.spy.cas.Load())
	}
}

func TestTombstoneSkipsStore(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "gone", nil, i64(1))
	if _, err := f.svc.Consume(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Consume(context.Background(), id)
	assertNotFound(t, err, domain.ReasonLimitExceeded)
	before := f.spy.gets.Load()
	for i := 0; i < 5; i++ {
		_, err = f.svc.Consume(context.Background(), id)
		assertNotFound(t, err, domain.ReasonLimitExceeded)
		_, err = f.svc.Peek(context.Background(), id)
		assertNotFound(t, err, domain.ReasonLimitExceeded)
	}
	if f.spy.gets.Load() != before {
		t.Fatalf("tombstoned id still read the store %d times", f.spy.gets.Load()-before)
	}
}

func TestTestModeBypassesTombstones(t *testing.T) {
	c := cfg.Default()
	c.TestMode = true
	f := newFixtureWith(t, c)
	id := f.create(t, "short", i64(10), nil)

	_, err := f.svc.ConsumeAt(context.Background(), id, jan2024+60_000)
	assertNotFound(t, err, domain.ReasonExpired)
	before := f.spy.gets.Load()
	_, err = f.svc.ConsumeAt(context.Background(), id, jan2024)
	assertNotFound(t, err, domain.ReasonAbsent)
	if f.spy.gets.Load() == before {
		t.Fatal("test mode should always consult the store")
	}
}

func TestClockOverrideFromContext(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "clocked", i64(30), nil)
	ctx := clock.WithOverride(context.Background(), jan2024+31_000)
	_, err := f.svc.Consume(ctx, id)
	assertNotFound(t, err, domain.ReasonExpired)
}

func TestCreateUsesClockOverride(t *testing.T) {
	f := newFixture(t)
	ctx := clock.WithOverride(context.Background(), 1_000)
	p, err := f.svc.Create(ctx, domain.CreateParams{Content: "c", TTLSeconds: i64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if p.CreatedAt != 1_000 || *p.ExpiresAt != 2_000 {
		t.Fatalf("record = %+v", p)
	}
}

func TestCommittedViewSurvivesCancellation(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "charged", nil, i64(2))
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := f.svc.Consume(ctx, id); err != nil {
		t.Fatal(err)
	}
	cancel()
	p, _ := f.mem.Get(context.Background(), id)
	if p.Views != 1 {
		t.Fatalf("views = %d, want 1", p.Views)
	}
}

func TestShutdownRejectsNewWork(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "late", nil, nil)
	f.svc.Shutdown()
	if _, err := f.svc.Create(context.Background(), domain.CreateParams{Content: "x"}); !errors.Is(err, domain.ErrShuttingDown) {
		t.Fatalf("create after shutdown: %v", err)
	}
	if _, err := f.svc.Consume(context.Background(), id); !errors.Is(err, domain.ErrShuttingDown) {
		t.Fatalf("consume after shutdown: %v", err)
	}
	if _, err := f.svc.Peek(context.Background(), id); !errors.Is(err, domain.ErrShuttingDown) {
		t.Fatalf("peek after shutdown: %v", err)
	}
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
