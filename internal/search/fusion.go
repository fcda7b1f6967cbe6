package search

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search, OpenSearch, etc.).
const DefaultRRFConstant = 60

// rankedHit is one branch result entering fusion, ordered best-first.
type rankedHit struct {
	ChunkID int64
	Score   float64 // branch-native score, preserved for display
}

// FusedResult is a single result after RRF fusion.
type FusedResult struct {
	ChunkID      int64
	RRFScore     float64
	VectorScore  float64 // similarity, 0 if absent from the vector list
	VectorRank   int     // 1-indexed, 0 if absent
	LexicalScore float64 // bm25 relevance, 0 if absent from the lexical list
	LexicalRank  int     // 1-indexed, 0 if absent
	InBothLists  bool
}

// RRFFusion combines vector and lexical rankings with weighted
// Reciprocal Rank Fusion:
//
//	score(d) = alpha/(k + rank_vec) + (1-alpha)/(k + rank_lex)
//
// A document absent from one list contributes nothing for that list.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates an RRF fusion instance. k <= 0 falls back to 60.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges the two branch rankings. alpha weights the vector branch;
// 1 yields pure vector order, 0 pure lexical order.
//
// Results are sorted by RRFScore desc, then InBothLists, then ChunkID asc
// for determinism.
func (f *RRFFusion) Fuse(vector, lexical []rankedHit, alpha float64) []*FusedResult {
	if len(vector) == 0 && len(lexical) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[int64]*FusedResult, len(vector)+len(lexical))

	for rank, hit := range vector {
		r := f.getOrCreate(scores, hit.ChunkID)
		r.VectorScore = hit.Score
		r.VectorRank = rank + 1
		r.RRFScore += alpha / float64(f.K+rank+1)
	}

	for rank, hit := range lexical {
		r := f.getOrCreate(scores, hit.ChunkID)
		r.LexicalScore = hit.Score
		r.LexicalRank = rank + 1
		r.RRFScore += (1 - alpha) / float64(f.K+rank+1)
		if r.VectorRank > 0 {
			r.InBothLists = true
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})
	return results
}

func (f *RRFFusion) getOrCreate(m map[int64]*FusedResult, id int64) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

// compare orders a before b. Ties prefer documents found by both branches,
// then the smaller chunk id for determinism.
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	return a.ChunkID < b.ChunkID
}
