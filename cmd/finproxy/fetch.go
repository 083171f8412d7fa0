package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/jassus213/go-finance-proxy/client"
	"github.com/jassus213/go-finance-proxy/jsonpath"
)

const defaultProxyURL = "http://localhost:8080"

func newFetchCmd() *cobra.Command {
	var (
		proxyURL  string
		fields    []string
		format    string
		listPaths bool
		retries   int
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch an upstream URL through a running proxy",
		Example: `  finproxy fetch "https://finnhub.io/api/v1/quote?symbol=AAPL" --field c --format currency
  finproxy fetch "https://api.twelvedata.com/price?symbol=MSFT" --paths`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			style, err := jsonpath.ParseStyle(format)
			if err != nil {
				return err
			}
			for _, f := range fields {
				if !jsonpath.ValidPath(f) {
					return fmt.Errorf("invalid field path %q", f)
				}
			}

			c, err := client.New(proxyURL,
				client.WithRetries(retries),
				client.WithHTTPClient(&http.Client{Timeout: timeout}),
			)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(retries+1)*timeout)
			defer cancel()

			body, err := c.Fetch(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if body.FromCache {
				fmt.Fprintln(cmd.ErrOrStderr(), "(served from proxy cache)")
			}

			switch {
			case listPaths:
				for _, p := range jsonpath.Paths(body.Raw, 0) {
					fmt.Fprintln(out, p)
				}
			case len(fields) > 0:
				for _, f := range fields {
					v, ok := jsonpath.Get(body.Raw, f)
					if !ok {
						return missingField(body.Raw, f)
					}
					fmt.Fprintf(out, "%s\t%s\n", f, jsonpath.Format(v, style))
				}
			case gjson.ValidBytes(body.Raw):
				_, err = out.Write(pretty.Pretty(body.Raw))
				return err
			default:
				fmt.Fprintln(out, string(body.Raw))
			}
			return nil
		},
	}

	defaultURL := os.Getenv("FINPROXY_URL")
	if defaultURL == "" {
		defaultURL = defaultProxyURL
	}
	cmd.Flags().StringVar(&proxyURL, "proxy", defaultURL, "Base URL of the proxy")
	cmd.Flags().StringSliceVarP(&fields, "field", "f", nil, "Print only these fields (dotted paths, repeatable)")
	cmd.Flags().StringVar(&format, "format", "number", "Field format: number, currency, percent or text")
	cmd.Flags().BoolVar(&listPaths, "paths", false, "List every field path in the response")
	cmd.Flags().IntVar(&retries, "retries", client.DefaultMaxRetries, "Retries for timeouts and server errors")
	cmd.Flags().DurationVar(&timeout, "timeout", 35*time.Second, "Timeout per attempt")
	return cmd
}

func missingField(doc []byte, field string) error {
	suggestions := jsonpath.Match(jsonpath.Paths(doc, 0), field)
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	if len(suggestions) == 0 {
		return fmt.Errorf("field %q not found", field)
	}
	return fmt.Errorf("field %q not found (did you mean %s?)", field, strings.Join(suggestions, ", "))
}
