// Package cmd provides the CLI commands for DocQuery.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docquery/docquery/internal/config"
	"github.com/docquery/docquery/pkg/version"
)

// Persistent flags shared by every command.
var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the docquery CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docquery",
		Short: "Document intelligence: ingest, search, and ask",
		Long: `DocQuery ingests your documents, indexes them for hybrid search
(lexical + semantic with Reciprocal Rank Fusion), and answers questions
about them with cited sources.

Start the ingestion workers with 'docquery serve', add documents with
'docquery ingest', then query with 'docquery search' or 'docquery ask'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("docquery version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config file (default: "+config.ConfigPath()+")")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newDocumentsCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
