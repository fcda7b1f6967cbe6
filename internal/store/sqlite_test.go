package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dqerrors "github.com/docquery/docquery/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureUser(context.Background(), 1))
	require.NoError(t, s.EnsureUser(context.Background(), 2))
	return s
}

func createTestDocument(t *testing.T, s *Store, ownerID int64, filename string) *Document {
	t.Helper()
	doc := &Document{
		OwnerID:    ownerID,
		Filename:   filename,
		StoredPath: "/data/uploads/" + filename,
		SizeBytes:  1024,
		MIMEType:   "text/plain",
		JobID:      fmt.Sprintf("job-%s-%d", filename, ownerID),
	}
	_, err := s.CreateDocument(context.Background(), doc)
	require.NoError(t, err)
	return doc
}

func insertTestChunks(t *testing.T, s *Store, docID int64, contents ...string) []*Chunk {
	t.Helper()
	chunks := make([]*Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = &Chunk{
			DocumentID: docID,
			ChunkIndex: i,
			Content:    content,
			TokenCount: len(content) / 4,
		}
	}
	require.NoError(t, s.InsertChunks(context.Background(), chunks))
	return chunks
}

func TestCreateAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := createTestDocument(t, s, 1, "report.pdf")
	require.NotZero(t, doc.ID)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got.Filename)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, int64(1), got.OwnerID)
	assert.Nil(t, got.ProcessedAt)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetDocument_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDocument(context.Background(), 999)
	require.Error(t, err)
	assert.Equal(t, dqerrors.ErrCodeNotFound, dqerrors.GetCode(err))
}

func TestTransitionDocument_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, 1, "a.txt")

	// pending -> processing -> completed
	require.NoError(t, s.TransitionDocument(ctx, doc.ID, StatusPending, StatusProcessing, ""))
	require.NoError(t, s.TransitionDocument(ctx, doc.ID, StatusProcessing, StatusCompleted, ""))

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.ProcessedAt)
}

func TestTransitionDocument_WrongFromStateFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, 1, "a.txt")

	// The document is pending, so a processing -> completed transition must
	// not match any row.
	err := s.TransitionDocument(ctx, doc.ID, StatusProcessing, StatusCompleted, "")
	require.Error(t, err)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestTransitionDocument_FailedRecordsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, 1, "bad.pdf")

	require.NoError(t, s.TransitionDocument(ctx, doc.ID, StatusPending, StatusProcessing, ""))
	require.NoError(t, s.TransitionDocument(ctx, doc.ID, StatusProcessing, StatusFailed, "pdftotext: damaged file"))

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "pdftotext: damaged file", got.ErrorMessage)
}

func TestInsertChunks_AssignsIDsAndEnforcesOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, 1, "a.txt")

	chunks := insertTestChunks(t, s, doc.ID, "first chunk", "second chunk", "third chunk")
	for _, c := range chunks {
		assert.NotZero(t, c.ID)
	}

	got, err := s.GetDocumentChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, i, c.ChunkIndex)
		assert.False(t, c.HasEmbedding)
	}
}

func TestInsertChunks_DuplicateIndexRejected(t *testing.T) {
	s := newTestStore(t)
	doc := createTestDocument(t, s, 1, "a.txt")
	insertTestChunks(t, s, doc.ID, "only")

	err := s.InsertChunks(context.Background(), []*Chunk{
		{DocumentID: doc.ID, ChunkIndex: 0, Content: "duplicate"},
	})
	assert.Error(t, err)
}

func TestMarkChunksEmbedded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, 1, "a.txt")
	chunks := insertTestChunks(t, s, doc.ID, "one", "two")

	ids := []int64{chunks[0].ID, chunks[1].ID}
	require.NoError(t, s.MarkChunksEmbedded(ctx, ids, "text-embedding-3-small"))

	got, err := s.GetDocumentChunks(ctx, doc.ID)
	require.NoError(t, err)
	for _, c := range got {
		assert.True(t, c.HasEmbedding)
		assert.Equal(t, "text-embedding-3-small", c.EmbeddingModel)
	}
}

func TestDeleteDocument_CascadesAndReturnsChunkIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, 1, "a.txt")
	chunks := insertTestChunks(t, s, doc.ID, "one", "two")

	ids, err := s.DeleteDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{chunks[0].ID, chunks[1].ID}, ids)

	_, err = s.GetDocument(ctx, doc.ID)
	assert.Error(t, err)

	remaining, err := s.GetDocumentChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSearchLexical_RanksAndFiltersByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docA := createTestDocument(t, s, 1, "go.txt")
	insertTestChunks(t, s, docA.ID,
		"The Go programming language makes concurrent programming simple.",
		"Channels and goroutines are the heart of Go concurrency.")

	docB := createTestDocument(t, s, 2, "other.txt")
	insertTestChunks(t, s, docB.ID,
		"Go concurrency patterns with goroutines belong to another user.")

	hits, err := s.SearchLexical(ctx, "Go concurrency goroutines", 10, 1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	owned, err := s.GetChunksWithDocuments(ctx, hitIDs(hits))
	require.NoError(t, err)
	for _, hit := range hits {
		assert.Equal(t, int64(1), owned[hit.ChunkID].OwnerID, "cross-user chunk leaked")
		assert.Greater(t, hit.Score, 0.0)
	}

	// Scores are descending.
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestSearchLexical_DocumentScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docA := createTestDocument(t, s, 1, "a.txt")
	insertTestChunks(t, s, docA.ID, "alpha document mentions kubernetes")
	docB := createTestDocument(t, s, 1, "b.txt")
	chunksB := insertTestChunks(t, s, docB.ID, "beta document mentions kubernetes too")

	hits, err := s.SearchLexical(ctx, "kubernetes", 10, 1, docB.ID)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunksB[0].ID, hits[0].ChunkID)
}

func TestSearchLexical_EmptyAndNoisyQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, 1, "a.txt")
	insertTestChunks(t, s, doc.ID, "some indexed content here")

	hits, err := s.SearchLexical(ctx, "", 10, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Punctuation-only input must not produce an FTS syntax error.
	hits, err = s.SearchLexical(ctx, `"(((*`, 10, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGetChunksWithDocuments_BatchLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := createTestDocument(t, s, 1, "report.pdf")
	chunks := insertTestChunks(t, s, doc.ID, "one", "two")

	got, err := s.GetChunksWithDocuments(ctx, []int64{chunks[0].ID, chunks[1].ID, 9999})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "report.pdf", got[chunks[0].ID].DocumentFilename)
	assert.Equal(t, int64(1), got[chunks[0].ID].OwnerID)
}

func TestQueryLog_InsertAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	log := &QueryLog{
		QueryID:     "q-123",
		UserID:      1,
		QueryText:   "what is hybrid search",
		K:           5,
		ResultCount: 2,
		Results: []QueryLogResult{
			{ChunkID: 1, DocumentID: 1, Score: 0.9, Rank: 1},
			{ChunkID: 2, DocumentID: 1, Score: 0.5, Rank: 2},
		},
		ResponseTimeMs: 42.5,
	}
	require.NoError(t, s.InsertQueryLog(ctx, log))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.QueryLogCount)
}

func TestJobQueue_EnqueueClaimFinish(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docA := createTestDocument(t, s, 1, "a.txt")
	docB := createTestDocument(t, s, 1, "b.txt")
	require.NoError(t, s.EnqueueJob(ctx, docA.ID, "job-a"))
	require.NoError(t, s.EnqueueJob(ctx, docB.ID, "job-b"))

	// FIFO claim order.
	job1, err := s.ClaimJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, job1)
	assert.Equal(t, "job-a", job1.JobID)
	assert.Equal(t, JobRunning, job1.Status)
	assert.Equal(t, 1, job1.Attempts)
	require.NotNil(t, job1.StartedAt)

	job2, err := s.ClaimJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, job2)
	assert.Equal(t, "job-b", job2.JobID)

	// Queue drained.
	job3, err := s.ClaimJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, job3)

	require.NoError(t, s.FinishJob(ctx, job1.ID, true))
	require.NoError(t, s.FinishJob(ctx, job2.ID, false))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingJobs)
}

func TestGetStats_Counts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := createTestDocument(t, s, 1, "a.txt")
	chunks := insertTestChunks(t, s, doc.ID, "one", "two", "three")
	require.NoError(t, s.MarkChunksEmbedded(ctx, []int64{chunks[0].ID}, "m"))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentsByStatus[StatusPending])
	assert.Equal(t, 3, stats.ChunkCount)
	assert.Equal(t, 1, stats.EmbeddedChunks)
}

func TestClose_Idempotent(t *testing.T) {
	s, err := Open("", nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.GetDocument(context.Background(), 1)
	assert.Error(t, err)
}

func hitIDs(hits []LexicalHit) []int64 {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	return ids
}
