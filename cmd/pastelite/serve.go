package main

import (
	"context"
	"os"
	"os/signal"
	"pastelite/cfg"
	"pastelite/svc/api"
	"pastelite/svc/cache"
	"pastelite/svc/clock"
	"pastelite/svc/db"
	"pastelite/svc/svc"
	"pastelite/svc/util"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCfg()
			if err != nil {
				return err
			}
			if port != "" {
				c.Port = port
			}
			defer c.Wipe()
			return serve(c)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port, overrides PORT")
	return cmd
}
func serve(c *cfg.Cfg) error {
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().
		Str("version", version).
		Str("backend", c.StoreBackend).
		Bool("test_mode", c.TestMode).
		Msg("starting pastelite API")
	if c.TestMode {
		util.Warn().Msg("TEST_MODE enabled: X-Test-Now-Ms overrides the clock")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.Open(c)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer store.Close()
	pingCtx, pingCancel := context.WithTimeout(ctx, c.StoreTimeout)
	err = store.Ping(pingCtx)
	pingCancel()
	if err != nil {
		if c.Environment == "production" {
			return errors.Wrap(err, "store unreachable")
		}
		util.Warn().Err(err).Msg("store unreachable at startup, continuing")
	}
	util.Info().Str("backend", c.StoreBackend).Msg("store initialized")

	var walDone chan struct{}
	if sq, ok := store.(*db.SQLite); ok {
		walDone = make(chan struct{})
		go db.StartWALMaintenance(ctx, sq.DB(), walDone)
		util.Info().Msg("WAL maintenance worker started")
	}
	if sw, ok := store.(db.Sweeper); ok {
		if err := svc.StartCleaner(ctx, sw, c.CleanupInterval); err != nil {
			util.Error().Err(err).Msg("failed to start cleaner")
		} else {
			util.Info().Dur("interval", c.CleanupInterval).Msg("expired paste cleanup worker started")
		}
	}

	tomb, err := cache.NewTombstones(c.TombstoneCacheSize)
	if err != nil {
		return errors.Wrap(err, "create tombstone cache")
	}
	pasteSvc := svc.NewPaste(store, clock.System{}, tomb, c)
	server := api.NewServer(c, pasteSvc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	pasteSvc.Shutdown()
	cancel()
	if walDone != nil {
		select {
		case <-walDone:
			util.Info().Msg("WAL maintenance stopped")
		case <-time.After(6 * time.Second):
			util.Warn().Msg("WAL maintenance did not stop gracefully")
		}
	}
	util.Info().Msg("shutdown complete")
	return nil
}
