package svc

import (
	"context"
	"pastelite/metrics"
	"pastelite/svc/db"
	"pastelite/svc/util"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var cleanerRunning atomic.Bool

// StartCleaner periodically removes records whose native deadline has passed.
// Only backends that emulate native expiry need it; redis evicts on its own.
func StartCleaner(ctx context.Context, sw db.Sweeper, interval time.Duration) error {
	if sw == nil {
		return errors.New("cleaner: nil sweeper")
	}
	if interval <= 0 {
		return errors.New("cleaner: interval must be positive")
	}
	if !cleanerRunning.CompareAndSwap(false, true) {
		return errors.New("cleaner already running")
	}
	go runCleaner(ctx, sw, interval)
	return nil
}
func CleanerRunning() bool {
	return cleanerRunning.Load()
}
func runCleaner(ctx context.Context, sw db.Sweeper, interval time.Duration) {
	defer cleanerRunning.Store(false)
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			metrics.PruneCycles.Inc()
			deleted, err := sw.DeleteExpired(ctx, time.Now())
			metrics.CleanupDeleted.Add(float64(deleted))
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				metrics.StoreErrors.WithLabelValues("sweep").Inc()
				util.Error().
					Err(err).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup failed")
			} else if deleted > 0 {
				util.Info().
					Int("deleted", deleted).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("cleanup completed")
			}
		}
	}
}
