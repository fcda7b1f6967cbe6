// Command docquery is the DocQuery CLI: document ingestion, hybrid search,
// and retrieval-augmented answering over your own documents.
package main

import (
	"os"

	"github.com/docquery/docquery/cmd/docquery/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
