// Package chunk splits extracted document text into sentence-aligned,
// token-bounded fragments for embedding and retrieval.
package chunk

// Chunk size defaults, in estimated tokens.
const (
	DefaultMaxTokens     = 512
	DefaultOverlapTokens = 50
	DefaultMinTokens     = 100
)

// Options controls chunk sizing. Zero values fall back to the defaults.
type Options struct {
	MaxTokens     int // hard upper bound per chunk
	OverlapTokens int // trailing tokens carried into the next chunk
	MinTokens     int // final fragments below this merge into the previous chunk
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.OverlapTokens <= 0 {
		o.OverlapTokens = DefaultOverlapTokens
	}
	if o.MinTokens <= 0 {
		o.MinTokens = DefaultMinTokens
	}
	return o
}

// Segment is one extracted unit of source text, typically a page. Page is
// nil for formats without page structure.
type Segment struct {
	Page *int
	Text string
}

// Chunk is one embeddable fragment. Index is 0-based and global across the
// whole document, not per page.
type Chunk struct {
	Index      int
	Page       *int
	Content    string
	TokenCount int
}
