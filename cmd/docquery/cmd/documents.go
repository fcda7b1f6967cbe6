package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/output"
	"github.com/docquery/docquery/internal/store"
)

func newDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Manage ingested documents",
	}

	cmd.AddCommand(newDocumentsListCmd())
	cmd.AddCommand(newDocumentsShowCmd())
	cmd.AddCommand(newDocumentsDeleteCmd())
	cmd.AddCommand(newDocumentsResubmitCmd())

	return cmd
}

func newDocumentsListCmd() *cobra.Command {
	var user int64
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			docs, err := app.store.ListDocuments(cmd.Context(), user)
			if err != nil {
				return err
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(docs)
			}
			return formatDocumentsText(output.New(cmd.OutOrStdout()), docs)
		},
	}

	cmd.Flags().Int64VarP(&user, "owner", "u", 1, "Owner user id")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func formatDocumentsText(out *output.Writer, docs []*store.Document) error {
	if len(docs) == 0 {
		out.Status("", "No documents. Add one with 'docquery ingest <file>'.")
		return nil
	}

	for _, d := range docs {
		out.Statusf("", "%-5d %-10s %-30s %8d bytes  %s",
			d.ID, d.Status, d.Filename, d.SizeBytes, d.MIMEType)
		if d.Status == store.StatusFailed && d.ErrorMessage != "" {
			out.Statusf("", "      ↳ %s", d.ErrorMessage)
		}
	}
	return nil
}

func newDocumentsShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show one document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}

			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			doc, err := app.store.GetDocument(cmd.Context(), id)
			if err != nil {
				return err
			}
			chunks, err := app.store.GetDocumentChunks(cmd.Context(), id)
			if err != nil {
				return err
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Document *store.Document `json:"document"`
					Chunks   []*store.Chunk  `json:"chunks"`
				}{doc, chunks})
			}

			out := output.New(cmd.OutOrStdout())
			out.Statusf("📄", "%s (document %d, owner %d)", doc.Filename, doc.ID, doc.OwnerID)
			out.Statusf("", "status:  %s", doc.Status)
			out.Statusf("", "type:    %s, %d bytes", doc.MIMEType, doc.SizeBytes)
			out.Statusf("", "created: %s", doc.CreatedAt.Format("2006-01-02 15:04:05"))
			if doc.ProcessedAt != nil {
				out.Statusf("", "processed: %s", doc.ProcessedAt.Format("2006-01-02 15:04:05"))
			}
			if doc.ErrorMessage != "" {
				out.Statusf("", "error:   %s", doc.ErrorMessage)
			}

			embedded := 0
			for _, c := range chunks {
				if c.HasEmbedding {
					embedded++
				}
			}
			out.Statusf("", "chunks:  %d (%d embedded)", len(chunks), embedded)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func newDocumentsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document and its index entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}

			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			svc, err := app.newIngestService(false)
			if err != nil {
				return err
			}
			if err := svc.Delete(cmd.Context(), id); err != nil {
				return err
			}

			output.New(cmd.OutOrStdout()).Successf("Document %d deleted", id)
			return nil
		},
	}
	return cmd
}

func newDocumentsResubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "resubmit <document-id>",
		Aliases: []string{"retry"},
		Short:   "Re-queue a failed document",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}

			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			svc, err := app.newIngestService(false)
			if err != nil {
				return err
			}
			doc, err := svc.Resubmit(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("Document %d re-queued (job %s)", doc.ID, doc.JobID)
			out.Status("", "Run 'docquery serve' to process the queue.")
			return nil
		},
	}
	return cmd
}

func parseDocumentID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid document id %q", arg)
	}
	return id, nil
}
