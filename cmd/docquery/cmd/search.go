package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/output"
	"github.com/docquery/docquery/internal/search"
	"github.com/docquery/docquery/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	user     int64
	limit    int
	mode     string // "hybrid", "vector", "lexical"
	alpha    float64
	document int64
	format   string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search your indexed documents",
		Long: `Search your indexed documents using hybrid retrieval.

Combines lexical (full-text) and semantic (embedding) search with
Reciprocal Rank Fusion. Use --mode to run a single branch.

Examples:
  docquery search "termination clause"
  docquery search "quarterly revenue" --limit 10
  docquery search "error budget" --mode lexical
  docquery search "payment terms" --document 12 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().Int64VarP(&opts.user, "owner", "u", 1, "Owner user id")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: from config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, vector, lexical")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", -1, "Vector-branch weight in [0,1] for hybrid fusion")
	cmd.Flags().Int64VarP(&opts.document, "document", "d", 0, "Restrict to one document id")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	engine, err := app.newEngine()
	if err != nil {
		return err
	}

	resp, err := engine.Search(cmd.Context(), search.Request{
		Query:      query,
		K:          opts.limit,
		Mode:       search.Mode(opts.mode),
		Alpha:      opts.alpha,
		UserID:     opts.user,
		DocumentID: opts.document,
	})
	if err != nil {
		return err
	}
	logSearchQuery(cmd.Context(), app, query, opts.user, resp)

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	return formatSearchText(output.New(cmd.OutOrStdout()), query, resp)
}

// logSearchQuery appends the served query to the query log. Failures only
// warn; the search result still goes out.
func logSearchQuery(ctx context.Context, app *app, query string, userID int64, resp *search.Response) {
	results := make([]store.QueryLogResult, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = store.QueryLogResult{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Score:      r.Score,
			Rank:       r.Rank,
		}
	}
	entry := &store.QueryLog{
		QueryID:        resp.QueryID,
		UserID:         userID,
		QueryText:      query,
		K:              resp.K,
		ResultCount:    len(resp.Results),
		Results:        results,
		ResponseTimeMs: resp.TookMs,
	}
	if err := app.store.InsertQueryLog(ctx, entry); err != nil {
		app.logger.Warn("query_log_failed", "query_id", resp.QueryID, "error", err)
	}
}

// formatSearchText outputs results in human-readable format.
func formatSearchText(out *output.Writer, query string, resp *search.Response) error {
	if len(resp.Results) == 0 {
		out.Statusf("", "No results found for %q (query %s)", query, resp.QueryID)
		return nil
	}

	suffix := ""
	if resp.Cached {
		suffix = ", cached"
	}
	out.Statusf("🔍", "Found %d results for %q (%.0f ms%s):", len(resp.Results), query, resp.TookMs, suffix)
	out.Statusf("", "query %s", resp.QueryID)
	out.Newline()

	for _, r := range resp.Results {
		location := r.DocumentFilename
		if r.Page != nil {
			location = fmt.Sprintf("%s p.%d", location, *r.Page)
		}
		out.Statusf("", "%d. %s (chunk %d, score: %.3f)", r.Rank, location, r.ChunkIndex, r.Score)
		for _, line := range snippet(r.Content, 3) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}
	return nil
}

// snippet returns the first n lines of content.
func snippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
