package main

import (
	"context"
	"fmt"
	"time"

	"pastelite/svc/db"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// newHealthCmd pings the configured store and exits non-zero when it is
// unreachable. Suited to container health checks.
func newHealthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the configured store is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadCfg()
			if err != nil {
				return err
			}
			defer c.Wipe()
			store, err := db.Open(c)
			if err != nil {
				return errors.Wrap(err, "open store")
			}
			defer store.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				return errors.Wrap(err, "store unhealthy")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "ping timeout")
	return cmd
}
