package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docquery/docquery/internal/chunk"
	"github.com/docquery/docquery/internal/store"
)

// Pool runs the ingestion workers. Each worker claims jobs from the durable
// queue and drives a document through extract, chunk, embed, and index.
type Pool struct {
	svc *Service
}

// NewPool creates a worker pool over the service's dependencies.
func NewPool(svc *Service) *Pool {
	return &Pool{svc: svc}
}

// Run blocks until ctx is cancelled, processing jobs with the configured
// number of workers. Idle workers poll the queue at the poll interval.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.svc.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return p.runWorker(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) runWorker(ctx context.Context, worker int) error {
	logger := p.svc.logger.With("worker", worker)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := p.svc.store.ClaimJob(ctx)
		if err != nil {
			logger.Error("job_claim_failed", "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.svc.cfg.PollInterval):
			}
			continue
		}

		p.processJob(ctx, logger.With("job_id", job.JobID, "document_id", job.DocumentID), job)
	}
}

// processJob runs the full pipeline for one claimed job. Any failure after
// the processing transition rolls persisted chunks and vector slots back, so
// a document is either fully indexed or not indexed at all.
func (p *Pool) processJob(ctx context.Context, logger *slog.Logger, job *store.Job) {
	svc := p.svc
	started := time.Now()

	doc, err := svc.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		logger.Warn("job_document_missing", "error", err)
		_ = svc.store.FinishJob(ctx, job.ID, false)
		return
	}

	// A resubmitted document carries a fresh job id; a stale queue entry for
	// the old id is a no-op.
	if doc.JobID != job.JobID {
		logger.Info("job_superseded", "current_job_id", doc.JobID)
		_ = svc.store.FinishJob(ctx, job.ID, true)
		return
	}

	if err := svc.store.TransitionDocument(ctx, doc.ID, store.StatusPending, store.StatusProcessing, ""); err != nil {
		// Another worker won the claim, or the document moved on.
		logger.Info("job_not_pending", "error", err)
		_ = svc.store.FinishJob(ctx, job.ID, true)
		return
	}

	fail := func(stage string, cause error) {
		logger.Error("ingestion_failed", "stage", stage, "error", cause)
		p.rollback(ctx, logger, doc.ID)
		msg := fmt.Sprintf("%s: %v", stage, cause)
		if err := svc.store.TransitionDocument(ctx, doc.ID, store.StatusProcessing, store.StatusFailed, msg); err != nil {
			logger.Error("failed_transition_failed", "error", err)
		}
		_ = svc.store.FinishJob(ctx, job.ID, false)
	}

	extractor, err := svc.registry.ForMIME(doc.MIMEType)
	if err != nil {
		fail("extract", err)
		return
	}
	segments, err := extractor.Extract(ctx, doc.StoredPath)
	if err != nil {
		fail("extract", err)
		return
	}

	chunks, err := chunk.Split(segments, svc.cfg.ChunkOptions)
	if err != nil {
		fail("chunk", err)
		return
	}

	records := make([]*store.Chunk, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		records[i] = &store.Chunk{
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			PageNumber: c.Page,
			Content:    c.Content,
			TokenCount: c.TokenCount,
		}
		texts[i] = c.Content
	}
	if err := svc.store.InsertChunks(ctx, records); err != nil {
		fail("persist", err)
		return
	}

	vectors, err := svc.embedder.Embed(ctx, texts)
	if err != nil {
		fail("embed", err)
		return
	}

	chunkIDs := make([]int64, len(records))
	for i, r := range records {
		chunkIDs[i] = r.ID
	}
	if _, err := svc.index.Append(vectors, chunkIDs); err != nil {
		fail("index", err)
		return
	}
	if err := svc.index.Save(); err != nil {
		fail("index", err)
		return
	}

	if err := svc.store.MarkChunksEmbedded(ctx, chunkIDs, svc.embedder.ModelID()); err != nil {
		fail("persist", err)
		return
	}

	// Evict the owner's cached queries before the document becomes visible
	// as completed, so no reader observes completed with stale results.
	if svc.cache != nil {
		svc.cache.InvalidateUser(doc.OwnerID)
	}

	if err := svc.store.TransitionDocument(ctx, doc.ID, store.StatusProcessing, store.StatusCompleted, ""); err != nil {
		fail("finalize", err)
		return
	}
	_ = svc.store.FinishJob(ctx, job.ID, true)

	logger.Info("document_ingested",
		"owner_id", doc.OwnerID,
		"chunks", len(chunks),
		"duration_ms", time.Since(started).Milliseconds())
}

// rollback removes any chunks and vector slots persisted by a failed run.
func (p *Pool) rollback(ctx context.Context, logger *slog.Logger, documentID int64) {
	chunkIDs, err := p.svc.store.DeleteDocumentChunks(ctx, documentID)
	if err != nil {
		logger.Error("rollback_chunks_failed", "error", err)
		return
	}
	if len(chunkIDs) == 0 {
		return
	}
	if err := p.svc.dropVectors(chunkIDs); err != nil {
		logger.Error("rollback_vectors_failed", "error", err)
	}
}
