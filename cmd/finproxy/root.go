package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jassus213/go-finance-proxy/config"
)

// rootOptions is shared by every subcommand. cfg is loaded before any
// subcommand runs.
type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "finproxy",
		Short: "Finance dashboard API proxy",
		Long: `finproxy fronts third-party market data APIs for the dashboard.

Every request is checked against a host allowlist, rate limited per caller
and host, given the server-side provider API key and served from a
short-lived response cache when possible.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("FINPROXY_CONFIG"), "Path to a TOML config file")
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newServeCmd(opts),
		newHostsCmd(opts),
		newCheckCmd(opts),
		newFetchCmd(),
	)
	return cmd
}
