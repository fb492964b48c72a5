package svc

import (
	"context"
	"pastelite/cfg"
	"pastelite/metrics"
	"pastelite/pkg/domain"
	"pastelite/svc/cache"
	"pastelite/svc/clock"
	"pastelite/svc/db"
	"pastelite/svc/util"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const defaultCASRetries = 16

// Paste drives the paste lifecycle on top of a Store. It holds no per-paste
// state, so any number of instances may share one store.
type Paste struct {
	store    db.Store
	clock    clock.Clock
	tomb     *cache.Tombstones
	cfg      *cfg.Cfg
	reads    singleflight.Group
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

func NewPaste(store db.Store, clk clock.Clock, tomb *cache.Tombstones, c *cfg.Cfg) *Paste {
	if store == nil || c == nil {
		panic("paste service: nil dependency (store or cfg)")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Paste{
		store: store,
		clock: clk,
		tomb:  tomb,
		cfg:   c,
	}
}
func (p *Paste) begin() error {
	if p.shutdown.Load() {
		return domain.ErrShuttingDown
	}
	p.opWg.Add(1)
	return nil
}
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}
func (p *Paste) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}
func (p *Paste) validate(params domain.CreateParams, nowMs int64) error {
	if strings.TrimSpace(params.Content) == "" {
		return domain.ErrInvalidContent
	}
	if p.cfg.MaxPasteSize > 0 && int64(len(params.Content)) > p.cfg.MaxPasteSize {
		return domain.ErrPasteTooLarge
	}
	if params.TTLSeconds != nil && !domain.TTLFits(nowMs, *params.TTLSeconds) {
		return domain.ErrInvalidTTL
	}
	if params.MaxViews != nil && *params.MaxViews < 1 {
		return domain.ErrInvalidMaxViews
	}
	return nil
}

// Create validates params and writes a fresh record with a single Put.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	nowMs := clock.Resolve(ctx, p.clock)
	if err := p.validate(params, nowMs); err != nil {
		return nil, err
	}
	id, err := util.GenID(func(id string) (bool, error) {
		_, err := p.store.Get(ctx, id)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, domain.ErrPasteNotFound) {
			return false, nil
		}
		return false, err
	})
	if err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) {
			p.storeFailure("get", "", err)
			return nil, err
		}
		return nil, &domain.KindErr{Kind: domain.ErrIDGenerationFailed, Op: "gen id", Cause: err}
	}
	paste := domain.NewPaste(id, params.Content, nowMs, params.TTLSeconds, params.MaxViews)
	if err := p.store.Put(ctx, id, paste, params.TTLSeconds); err != nil {
		p.storeFailure("put", id, err)
		return nil, err
	}
	metrics.PasteCreated.Inc()
	util.Debug().
		Str("id", id).
		Str("preview", util.RedactPasteContent(params.Content)).
		Bool("ttl", params.TTLSeconds != nil).
		Bool("max_views", params.MaxViews != nil).
		Msg("paste created")
	return paste, nil
}
func (p *Paste) Consume(ctx context.Context, id string) (*domain.ConsumeResult, error) {
	return p.ConsumeAt(ctx, id, clock.Resolve(ctx, p.clock))
}

// ConsumeAt charges one view against id as of nowMs. A lost compare-and-swap
// restarts the whole check sequence on a fresh read.
func (p *Paste) ConsumeAt(ctx context.Context, id string, nowMs int64) (*domain.ConsumeResult, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	if err := p.tombstoned(id); err != nil {
		return nil, err
	}
	retries := p.cfg.CASMaxRetries
	if retries <= 0 {
		retries = defaultCASRetries
	}
	for attempt := 0; attempt < retries; attempt++ {
		paste, err := p.store.Get(ctx, id)
		if err != nil {
			return nil, p.readFailure("get", id, err)
		}
		if err := p.accessible(ctx, paste, nowMs); err != nil {
			return nil, err
		}
		next := paste.Views + 1
		swapped, err := p.store.CompareAndSwapViews(ctx, id, paste.Views, next)
		if err != nil {
			return nil, p.readFailure("cas", id, err)
		}
		if !swapped {
			metrics.CASConflicts.Inc()
			continue
		}
		paste.Views = next
		metrics.PasteConsumed.Inc()
		return &domain.ConsumeResult{
			Content:        paste.Content,
			RemainingViews: paste.RemainingViews(),
			ExpiresAt:      paste.ExpiresAtISO(),
		}, nil
	}
	util.Warn().Str("id", id).Int("attempts", retries).Msg("view counter contention, giving up")
	return nil, domain.ErrConflict
}
func (p *Paste) Peek(ctx context.Context, id string) (*domain.PeekResult, error) {
	return p.PeekAt(ctx, id, clock.Resolve(ctx, p.clock))
}

// PeekAt reads id without charging a view. Concurrent peeks of one id share a
// single store read; every caller then applies its own nowMs.
func (p *Paste) PeekAt(ctx context.Context, id string, nowMs int64) (*domain.PeekResult, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	if err := p.tombstoned(id); err != nil {
		return nil, err
	}
	v, err, _ := p.reads.Do(id, func() (interface{}, error) {
		return p.store.Get(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		return nil, p.readFailure("get", id, err)
	}
	paste := v.(*domain.Paste)
	if err := p.accessible(ctx, paste, nowMs); err != nil {
		return nil, err
	}
	metrics.PastePeeked.Inc()
	return &domain.PeekResult{Content: paste.Content}, nil
}

// accessible applies the expiry and view-limit gates in that order. An
// expired record is deleted on the spot.
func (p *Paste) accessible(ctx context.Context, paste *domain.Paste, nowMs int64) error {
	if paste.Expired(nowMs) {
		if err := p.store.Delete(ctx, paste.ID); err != nil {
			p.storeFailure("delete", paste.ID, err)
		} else {
			p.markGone(paste.ID, domain.ReasonExpired)
		}
		return p.notFound(paste.ID, domain.ReasonExpired)
	}
	if paste.Exhausted() {
		p.markGone(paste.ID, domain.ReasonLimitExceeded)
		return p.notFound(paste.ID, domain.ReasonLimitExceeded)
	}
	return nil
}

// Tombstones are bypassed in test mode, where a request may move the clock
// backwards and revive an expired id.
func (p *Paste) tombstoned(id string) error {
	if p.cfg.TestMode {
		return nil
	}
	reason, ok := p.tomb.Lookup(id)
	if !ok {
		return nil
	}
	metrics.TombstoneHits.Inc()
	return p.notFound(id, reason)
}
func (p *Paste) markGone(id string, reason domain.NotFoundReason) {
	if p.cfg.TestMode {
		return
	}
	p.tomb.Mark(id, reason)
}
func (p *Paste) notFound(id string, reason domain.NotFoundReason) error {
	metrics.PasteNotFound.WithLabelValues(string(reason)).Inc()
	util.Debug().Str("id", id).Str("reason", string(reason)).Msg("paste not found")
	return domain.NotFound(reason)
}
func (p *Paste) readFailure(op, id string, err error) error {
	if reason, ok := domain.ReasonOf(err); ok {
		return p.notFound(id, reason)
	}
	if errors.Is(err, domain.ErrDataCorruption) {
		util.Error().Err(err).Str("id", id).Msg("stored paste is corrupt")
		return err
	}
	p.storeFailure(op, id, err)
	return err
}
func (p *Paste) storeFailure(op, id string, err error) {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	util.Warn().Err(err).Str("op", op).Str("id", id).Msg("store operation failed")
}
