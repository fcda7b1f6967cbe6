package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/output"
	"github.com/docquery/docquery/internal/rag"
	"github.com/docquery/docquery/internal/search"
)

// askOptions holds CLI flags for ask.
type askOptions struct {
	user        int64
	k           int
	mode        string
	alpha       float64
	document    int64
	model       string
	temperature float64
	maxTokens   int
	noStream    bool
	jsonEvents  bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about your documents",
		Long: `Ask a question answered from your indexed documents.

Retrieves the most relevant chunks, generates an answer with the
configured LLM, and binds [n] citation markers back to their sources.
The answer streams by default; use --no-stream for a single response.

Examples:
  docquery ask "What is the notice period in the lease?"
  docquery ask "Summarize the Q3 findings" -k 8
  docquery ask "Who signed the contract?" --document 12 --no-stream`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().Int64VarP(&opts.user, "owner", "u", 1, "Owner user id")
	cmd.Flags().IntVarP(&opts.k, "limit", "k", 0, "Number of chunks to retrieve (default: from config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Search mode: hybrid, vector, lexical")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", -1, "Vector-branch weight in [0,1] for hybrid fusion")
	cmd.Flags().Int64VarP(&opts.document, "document", "d", 0, "Restrict retrieval to one document id")
	cmd.Flags().StringVar(&opts.model, "model", "", "Generation model (default: from config)")
	cmd.Flags().Float64Var(&opts.temperature, "temperature", -1, "Generation temperature in [0,2] (default: from config)")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 0, "Generation token limit in [100,4000] (default: from config)")
	cmd.Flags().BoolVar(&opts.noStream, "no-stream", false, "Wait for the complete answer instead of streaming")
	cmd.Flags().BoolVar(&opts.jsonEvents, "json", false, "Emit stream events as JSON lines")

	return cmd
}

func runAsk(cmd *cobra.Command, question string, opts askOptions) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	if opts.model != "" {
		app.cfg.Generation.Model = opts.model
	}
	orchestrator, err := app.newOrchestrator()
	if err != nil {
		return err
	}

	req := rag.AskRequest{
		Query:       question,
		K:           opts.k,
		Mode:        search.Mode(opts.mode),
		Alpha:       opts.alpha,
		UserID:      opts.user,
		DocumentID:  opts.document,
		Temperature: opts.temperature,
		MaxTokens:   opts.maxTokens,
	}

	if opts.noStream {
		return runAskOnce(cmd, orchestrator, req)
	}
	if opts.jsonEvents {
		enc := json.NewEncoder(cmd.OutOrStdout())
		return orchestrator.AskStream(cmd.Context(), req, func(ev rag.Event) error {
			return enc.Encode(ev)
		})
	}
	return orchestrator.AskStream(cmd.Context(), req, textSink(cmd))
}

// textSink renders stream events for a terminal.
func textSink(cmd *cobra.Command) rag.Sink {
	stdout := cmd.OutOrStdout()
	out := output.New(stdout)
	answering := false

	return func(ev rag.Event) error {
		switch ev.Type {
		case rag.EventSearchComplete:
			out.Statusf("🔍", "Found %d sources", ev.ResultCount)
		case rag.EventSources:
			for _, s := range ev.Sources {
				out.Statusf("", "[%d] %s%s", s.Number, s.DocumentFilename, pageSuffix(s.Page))
			}
			out.Newline()
		case rag.EventAnswerChunk:
			answering = true
			_, _ = fmt.Fprint(stdout, ev.Text)
		case rag.EventCitations:
			if answering {
				_, _ = fmt.Fprintln(stdout)
			}
			if len(ev.Citations) > 0 {
				out.Newline()
				out.Status("📎", "Cited:")
				for _, c := range ev.Citations {
					out.Statusf("", "[%d] %s%s", c.Marker, c.DocumentFilename, pageSuffix(c.Page))
				}
			}
			if len(ev.InvalidMarkers) > 0 {
				out.Warningf("Markers with no matching source: %v", ev.InvalidMarkers)
			}
		case rag.EventDone:
			out.Newline()
			out.Statusf("", "Done in %.0f ms", ev.TookMs)
		case rag.EventError:
			if answering {
				_, _ = fmt.Fprintln(stdout)
			}
			out.Error(ev.Message)
		}
		return nil
	}
}

func runAskOnce(cmd *cobra.Command, orchestrator *rag.Orchestrator, req rag.AskRequest) error {
	ans, err := orchestrator.Ask(cmd.Context(), req)
	if err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	out := output.New(stdout)

	_, _ = fmt.Fprintln(stdout, ans.Answer)
	if len(ans.Citations) > 0 {
		out.Newline()
		out.Status("📎", "Cited:")
		for _, c := range ans.Citations {
			out.Statusf("", "[%d] %s%s", c.Marker, c.DocumentFilename, pageSuffix(c.Page))
		}
	}
	if len(ans.InvalidMarkers) > 0 {
		out.Warningf("Markers with no matching source: %v", ans.InvalidMarkers)
	}
	return nil
}

func pageSuffix(page *int) string {
	if page == nil {
		return ""
	}
	return fmt.Sprintf(" (p.%d)", *page)
}
