package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jassus213/go-finance-proxy/config"
	"github.com/jassus213/go-finance-proxy/provider"
)

func newHostsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List allowlisted hosts and their rate limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts := append([]config.HostConfig(nil), opts.cfg.Hosts...)
			sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })
			keys := provider.KeysFromEnv()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tPROVIDER\tCAPACITY\tREFILL\tAPI KEY")
			for _, h := range hosts {
				fmt.Fprintf(w, "%s\t%s\t%d\t1 per %s\t%s\n",
					h.Name, h.Provider, h.Capacity, h.RefillEvery, keyStatus(h.Provider, keys))
			}
			return w.Flush()
		},
	}
}

func keyStatus(p provider.Provider, keys provider.Keys) string {
	switch {
	case p == provider.None:
		return "-"
	case keys.Configured(p):
		return "set (" + p.KeyEnv() + ")"
	default:
		return "missing (" + p.KeyEnv() + ")"
	}
}
