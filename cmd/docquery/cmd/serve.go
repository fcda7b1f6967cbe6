package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/ingest"
	"github.com/docquery/docquery/internal/output"
)

func newServeCmd() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion workers",
		Long: `Run the ingestion worker pool until interrupted.

Workers claim queued documents and drive them through extraction,
chunking, embedding, and indexing. Submit documents from another
terminal with 'docquery ingest'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, workers)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Number of ingestion workers (default: from config)")

	return cmd
}

func runServe(cmd *cobra.Command, workers int) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if workers > 0 {
		app.cfg.Ingestion.Workers = workers
	}

	svc, err := app.newIngestService(true)
	if err != nil {
		return err
	}
	pool := ingest.NewPool(svc)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := output.New(cmd.OutOrStdout())
	out.Statusf("🚀", "Ingestion workers running (workers: %d). Press Ctrl+C to stop.",
		app.cfg.Ingestion.Workers)
	slog.Info("serve_started", "workers", app.cfg.Ingestion.Workers)

	if err := pool.Run(ctx); err != nil {
		return err
	}

	out.Success("Shut down cleanly")
	slog.Info("serve_stopped")
	return nil
}
