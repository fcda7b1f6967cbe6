package rag

import (
	"fmt"
	"strings"

	"github.com/docquery/docquery/internal/search"
)

// systemPrompt instructs the model to answer strictly from the provided
// context and to cite sources with bracketed markers.
const systemPrompt = `You are a document assistant. Answer the user's question using ONLY the numbered context passages provided.

Rules:
- Cite every claim with the bracketed number of its supporting passage, like [1] or [2].
- Use multiple citations when a claim draws on several passages.
- If the passages do not contain the answer, say so plainly instead of guessing.
- Do not mention passages that you did not use.`

// refusalAnswer is returned without calling the model when retrieval finds
// nothing for the query.
const refusalAnswer = "I couldn't find any relevant information in your documents to answer that question."

// BuildPrompt renders the retrieved chunks into the user message. Passages
// are numbered 1..n in rank order, matching the markers the model is asked
// to emit.
func BuildPrompt(query string, results []search.Result) (system, user string) {
	var b strings.Builder
	b.WriteString("Context passages:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s", i+1, r.DocumentFilename)
		if r.Page != nil {
			fmt.Fprintf(&b, " (page %d)", *r.Page)
		}
		b.WriteString("\n")
		b.WriteString(r.Content)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Question: %s", query)
	return systemPrompt, b.String()
}
