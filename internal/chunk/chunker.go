package chunk

import (
	"strings"

	dqerrors "github.com/docquery/docquery/internal/errors"
)

// Split turns extracted segments into sentence-aligned chunks. Sentences are
// accumulated greedily up to MaxTokens, with a tail of roughly OverlapTokens
// carried into the next chunk. Sentences longer than MaxTokens are cut into
// word windows with stride MaxTokens-OverlapTokens. A final fragment below
// MinTokens merges into the preceding chunk of the same segment. Indices are
// 0-based and global across segments.
//
// Returns ErrCodeExtractionEmpty when the segments contain no tokens at all.
func Split(segments []Segment, opts Options) ([]Chunk, error) {
	opts = opts.withDefaults()

	var chunks []Chunk
	for _, seg := range segments {
		chunks = append(chunks, splitSegment(seg, opts)...)
	}

	if len(chunks) == 0 {
		return nil, dqerrors.New(dqerrors.ErrCodeExtractionEmpty,
			"document produced no extractable text", nil)
	}

	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks, nil
}

func splitSegment(seg Segment, opts Options) []Chunk {
	sentences := SplitSentences(seg.Text)
	if len(sentences) == 0 {
		return nil
	}

	var out []Chunk
	var current []string
	currentTokens := 0

	emit := func() {
		if len(current) == 0 {
			return
		}
		content := strings.Join(current, " ")
		out = append(out, Chunk{
			Page:       seg.Page,
			Content:    content,
			TokenCount: EstimateTokens(content),
		})
	}

	for _, sentence := range sentences {
		tokens := EstimateTokens(sentence)
		if tokens == 0 {
			continue
		}

		if tokens > opts.MaxTokens {
			emit()
			current, currentTokens = nil, 0
			out = append(out, windowSentence(seg.Page, sentence, opts)...)
			continue
		}

		if currentTokens+tokens > opts.MaxTokens && currentTokens > 0 {
			emit()
			current, currentTokens = overlapTail(current, opts.OverlapTokens)
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	emit()

	// Merge an undersized tail into its predecessor.
	if n := len(out); n > 1 && out[n-1].TokenCount < opts.MinTokens {
		merged := out[n-2].Content + " " + out[n-1].Content
		out[n-2].Content = merged
		out[n-2].TokenCount = EstimateTokens(merged)
		out = out[:n-1]
	}
	return out
}

// overlapTail returns the trailing sentences of the just-emitted chunk whose
// combined estimate fits the overlap budget, oldest first.
func overlapTail(sentences []string, budget int) ([]string, int) {
	var tail []string
	total := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		tokens := EstimateTokens(sentences[i])
		if total+tokens > budget {
			break
		}
		tail = append([]string{sentences[i]}, tail...)
		total += tokens
	}
	return tail, total
}

// windowSentence cuts an oversized sentence into word windows of at most
// MaxTokens, advancing by MaxTokens-OverlapTokens each step.
func windowSentence(page *int, sentence string, opts Options) []Chunk {
	words := strings.Fields(sentence)
	costs := make([]int, len(words))
	for i, w := range words {
		costs[i] = wordTokens(w)
	}

	stride := opts.MaxTokens - opts.OverlapTokens
	if stride < 1 {
		stride = 1
	}

	var out []Chunk
	start := 0
	for start < len(words) {
		end := start
		tokens := 0
		for end < len(words) && tokens+costs[end] <= opts.MaxTokens {
			tokens += costs[end]
			end++
		}
		if end == start {
			// A single word exceeding the budget still becomes a chunk.
			tokens = costs[end]
			end++
		}

		content := strings.Join(words[start:end], " ")
		out = append(out, Chunk{Page: page, Content: content, TokenCount: tokens})

		if end == len(words) {
			break
		}
		advanced := 0
		next := start
		for next < len(words) && advanced < stride {
			advanced += costs[next]
			next++
		}
		if next == start {
			next++
		}
		start = next
	}
	return out
}
