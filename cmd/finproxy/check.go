package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jassus213/go-finance-proxy/provider"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <url>",
		Short: "Validate an upstream URL against the allowlist",
		Long: `check runs the proxy's URL validation and prints the normalized upstream
URL the proxy would fetch. The provider API key is never printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, host, err := opts.cfg.Allowlist().Validate(args[0])
			if err != nil {
				return err
			}

			keys := provider.KeysFromEnv()
			normalized := provider.Build(u, host.Provider, provider.Keys{})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "allowed:  %s\n", host.Name)
			fmt.Fprintf(out, "provider: %s\n", host.Provider)
			fmt.Fprintf(out, "limit:    %d requests, refill %.4g/s\n", host.Bucket.Capacity, host.Bucket.Rate())
			fmt.Fprintf(out, "api key:  %s\n", keyStatus(host.Provider, keys))
			fmt.Fprintf(out, "upstream: %s\n", normalized.FinalURL)
			return nil
		},
	}
}
