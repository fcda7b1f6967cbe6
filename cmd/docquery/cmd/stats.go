package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/cache"
	"github.com/docquery/docquery/internal/output"
	"github.com/docquery/docquery/internal/store"
)

// statsReport aggregates store, index, and cache counters for one snapshot.
type statsReport struct {
	Store *store.Stats `json:"store"`
	Index indexStats   `json:"index"`
	Cache cache.Stats  `json:"cache"`
}

type indexStats struct {
	Dimensions     int     `json:"dimensions"`
	Vectors        int     `json:"vectors"`
	LiveVectors    int     `json:"live_vectors"`
	TombstoneRatio float64 `json:"tombstone_ratio"`
	Reloads        uint64  `json:"reloads"`
}

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store, index, and cache statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output statistics as JSON")

	return cmd
}

func runStats(cmd *cobra.Command, jsonOutput bool) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	storeStats, err := app.store.GetStats(cmd.Context())
	if err != nil {
		return err
	}

	report := statsReport{
		Store: storeStats,
		Index: indexStats{
			Dimensions:     app.index.Dimensions(),
			Vectors:        app.index.Size(),
			LiveVectors:    app.index.LiveCount(),
			TombstoneRatio: app.index.TombstoneRatio(),
			Reloads:        app.index.ReloadCount(),
		},
		Cache: app.cache.Stats(),
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out := output.New(cmd.OutOrStdout())

	out.Status("📚", "Documents")
	for _, status := range []store.DocumentStatus{
		store.StatusPending, store.StatusProcessing, store.StatusCompleted, store.StatusFailed,
	} {
		if n := report.Store.DocumentsByStatus[status]; n > 0 {
			out.Statusf("", "%-12s %d", status, n)
		}
	}
	out.Statusf("", "%-12s %d (%d embedded)", "chunks", report.Store.ChunkCount, report.Store.EmbeddedChunks)
	out.Statusf("", "%-12s %d pending jobs, %d logged queries", "queue",
		report.Store.PendingJobs, report.Store.QueryLogCount)
	out.Newline()

	out.Status("🧭", "Vector index")
	out.Statusf("", "%-12s %d live / %d total (dim %d)", "vectors",
		report.Index.LiveVectors, report.Index.Vectors, report.Index.Dimensions)
	out.Statusf("", "%-12s %.1f%% tombstoned, %d hot reloads", "health",
		report.Index.TombstoneRatio*100, report.Index.Reloads)
	out.Newline()

	out.Status("⚡", "Cache")
	out.Statusf("", "%-12s %.0f%% hit rate (%d hits, %d misses)", "queries",
		report.Cache.QueryHitRate*100, report.Cache.QueryHits, report.Cache.QueryMisses)
	out.Statusf("", "%-12s %.0f%% hit rate (%d hits, %d misses)", "embeddings",
		report.Cache.EmbeddingHitRate*100, report.Cache.EmbeddingHits, report.Cache.EmbeddingMisses)

	return nil
}
