package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/ingest"
	"github.com/docquery/docquery/internal/output"
	"github.com/docquery/docquery/internal/store"
)

// ingestOptions holds CLI flags for ingest.
type ingestOptions struct {
	user    int64
	wait    bool
	timeout time.Duration
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Submit documents for ingestion",
		Long: `Submit one or more documents to the ingestion queue.

Documents are processed asynchronously by 'docquery serve'. With --wait,
an inline worker processes the queue and the command blocks until every
submitted document completes or fails.

Examples:
  docquery ingest report.pdf
  docquery ingest --owner 2 notes.md slides.pdf
  docquery ingest --wait contract.docx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args, opts)
		},
	}

	cmd.Flags().Int64VarP(&opts.user, "owner", "u", 1, "Owner user id")
	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "Process inline and wait for completion")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait")

	return cmd
}

func runIngest(cmd *cobra.Command, paths []string, opts ingestOptions) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	svc, err := app.newIngestService(opts.wait)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	ctx := cmd.Context()

	docs := make([]*store.Document, 0, len(paths))
	for _, path := range paths {
		doc, err := svc.Submit(ctx, opts.user, path, filepath.Base(path))
		if err != nil {
			return fmt.Errorf("failed to submit %s: %w", path, err)
		}
		out.Statusf("📄", "Queued %s (document %d, job %s)", doc.Filename, doc.ID, doc.JobID)
		docs = append(docs, doc)
	}

	if !opts.wait {
		out.Statusf("", "Run 'docquery serve' to process the queue.")
		return nil
	}

	return waitForDocuments(ctx, app, svc, out, docs, opts.timeout)
}

// waitForDocuments runs an inline worker pool until every submitted document
// reaches a terminal status.
func waitForDocuments(ctx context.Context, app *app, svc *ingest.Service, out *output.Writer, docs []*store.Document, timeout time.Duration) error {
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ingest.NewPool(svc).Run(poolCtx) }()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	pending := make(map[int64]string, len(docs))
	for _, d := range docs {
		pending[d.ID] = d.Filename
	}

	var failed int
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out after %s with %d documents still processing", timeout, len(pending))
		case <-tick.C:
		}

		for id, filename := range pending {
			doc, err := app.store.GetDocument(ctx, id)
			if err != nil {
				return err
			}
			switch doc.Status {
			case store.StatusCompleted:
				out.Successf("%s ingested", filename)
				delete(pending, id)
			case store.StatusFailed:
				out.Errorf("%s failed: %s", filename, doc.ErrorMessage)
				failed++
				delete(pending, id)
			}
		}
	}

	cancel()
	<-done

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(docs))
	}
	return nil
}
