package main

import (
	"pastelite/cfg"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:           "pastelite",
		Short:         "Pastelite is a small paste-sharing service with expiring, view-limited links",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.LoadDotEnv(envFile)
		},
	}
	cmd.Version = version
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	cmd.AddCommand(
		newServeCmd(),
		newHealthCmd(),
	)
	return cmd
}
func loadCfg() (*cfg.Cfg, error) {
	c, err := cfg.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return c, nil
}
