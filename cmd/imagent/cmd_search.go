package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/floegence/imagent/internal/websearch"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		count   int
		format  string
		noSites bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run the web search tool directly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return errors.New("empty query")
			}
			if a.cfg.Search.Provider == websearch.ProviderDisabled {
				return errors.New("web search is disabled (search.provider: disabled)")
			}
			if noSites {
				a.cfg.Search.SiteFilters = []string{}
			}
			client, err := a.searchClient()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			result, err := client.Search(ctx, websearch.SearchRequest{Query: query, Count: count})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			out := cmd.OutOrStdout()
			switch strings.TrimSpace(strings.ToLower(format)) {
			case "", "text":
				_, err = fmt.Fprintln(out, result.Text())
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				enc.SetEscapeHTML(false)
				err = enc.Encode(result)
			default:
				return &exitError{code: 2, err: fmt.Errorf("invalid --format: %q (want json|text)", format)}
			}
			return err
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Number of results (default: search.count, max: 10)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: json|text")
	cmd.Flags().BoolVar(&noSites, "no-site-filters", false, "Search the whole web instead of search.site_filters")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Search timeout")
	return cmd
}
