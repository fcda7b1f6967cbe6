// Package ingest implements the asynchronous document pipeline: upload
// intake, the durable job queue workers that extract, chunk, embed, and
// index documents, and the teardown paths that keep the vector index and
// the primary store consistent.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/docquery/docquery/internal/cache"
	"github.com/docquery/docquery/internal/chunk"
	"github.com/docquery/docquery/internal/embed"
	dqerrors "github.com/docquery/docquery/internal/errors"
	"github.com/docquery/docquery/internal/extract"
	"github.com/docquery/docquery/internal/store"
	"github.com/docquery/docquery/internal/vecindex"
)

// Config configures the ingestion service and worker pool.
type Config struct {
	Workers                  int
	PollInterval             time.Duration
	MaxFileSizeMB            int
	UploadDir                string
	ChunkOptions             chunk.Options
	CompactionTombstoneRatio float64
}

// DefaultConfig returns the standard ingestion configuration.
func DefaultConfig(uploadDir string) Config {
	return Config{
		Workers:                  runtime.NumCPU(),
		PollInterval:             time.Second,
		MaxFileSizeMB:            50,
		UploadDir:                uploadDir,
		CompactionTombstoneRatio: 0.2,
	}
}

// Service handles document intake and lifecycle operations. The worker pool
// (Pool) consumes the jobs it enqueues.
type Service struct {
	store    *store.Store
	index    *vecindex.Index
	embedder embed.Embedder
	registry *extract.Registry
	cache    *cache.Cache // nil disables invalidation
	cfg      Config
	logger   *slog.Logger
}

// NewService creates the ingestion service.
func NewService(st *store.Store, index *vecindex.Index, embedder embed.Embedder, registry *extract.Registry, c *cache.Cache, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.CompactionTombstoneRatio <= 0 {
		cfg.CompactionTombstoneRatio = 0.2
	}
	return &Service{
		store:    st,
		index:    index,
		embedder: embedder,
		registry: registry,
		cache:    c,
		cfg:      cfg,
		logger:   logger.With("component", "ingest"),
	}
}

// Submit takes an uploaded file, stores a private copy, creates the pending
// document record, and enqueues its ingestion job.
func (s *Service) Submit(ctx context.Context, ownerID int64, srcPath, filename string) (*store.Document, error) {
	if filename == "" {
		filename = filepath.Base(srcPath)
	}

	mimeType := extract.DetectMIME(filename)
	if mimeType == "" {
		return nil, dqerrors.New(dqerrors.ErrCodeUnsupportedMedia,
			fmt.Sprintf("cannot determine media type of %q", filename), nil)
	}
	if _, err := s.registry.ForMIME(mimeType); err != nil {
		return nil, err
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, dqerrors.Wrap(dqerrors.ErrCodeInvalidInput, err)
	}
	if maxBytes := int64(s.cfg.MaxFileSizeMB) << 20; s.cfg.MaxFileSizeMB > 0 && info.Size() > maxBytes {
		return nil, dqerrors.New(dqerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("file is %d bytes, limit is %d MB", info.Size(), s.cfg.MaxFileSizeMB), nil)
	}

	if err := s.store.EnsureUser(ctx, ownerID); err != nil {
		return nil, err
	}

	storedPath, err := s.storeCopy(ownerID, srcPath, filename)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	doc := &store.Document{
		OwnerID:    ownerID,
		Filename:   filename,
		StoredPath: storedPath,
		SizeBytes:  info.Size(),
		MIMEType:   mimeType,
		Status:     store.StatusPending,
		JobID:      jobID,
	}
	docID, err := s.store.CreateDocument(ctx, doc)
	if err != nil {
		_ = os.Remove(storedPath)
		return nil, err
	}
	doc.ID = docID

	if err := s.store.EnqueueJob(ctx, docID, jobID); err != nil {
		return nil, err
	}

	s.logger.Info("document_submitted",
		"document_id", docID,
		"owner_id", ownerID,
		"filename", filename,
		"mime_type", mimeType,
		"job_id", jobID)
	return doc, nil
}

// storeCopy copies the upload into the owner-scoped upload directory.
func (s *Service) storeCopy(ownerID int64, srcPath, filename string) (string, error) {
	dir := filepath.Join(s.cfg.UploadDir, strconv.FormatInt(ownerID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	dst := filepath.Join(dir, uuid.NewString()+filepath.Ext(filename))
	in, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

// Resubmit re-queues a failed document under a fresh job id. Its previous
// chunks are removed from both indexes first, so a successful retry starts
// clean.
func (s *Service) Resubmit(ctx context.Context, documentID int64) (*store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != store.StatusFailed {
		return nil, dqerrors.ValidationError(
			fmt.Sprintf("document %d is %s, only failed documents can be resubmitted", documentID, doc.Status))
	}

	chunkIDs, err := s.store.DeleteDocumentChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.dropVectors(chunkIDs); err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	if err := s.store.ReassignDocumentJob(ctx, documentID, jobID); err != nil {
		return nil, err
	}
	if err := s.store.TransitionDocument(ctx, documentID, store.StatusFailed, store.StatusPending, ""); err != nil {
		return nil, err
	}
	if err := s.store.EnqueueJob(ctx, documentID, jobID); err != nil {
		return nil, err
	}

	doc.Status = store.StatusPending
	doc.JobID = jobID
	doc.ErrorMessage = ""
	s.logger.Info("document_resubmitted", "document_id", documentID, "job_id", jobID)
	return doc, nil
}

// Delete removes a document, its chunks, its vector slots, and its stored
// file, then invalidates the owner's cached queries.
func (s *Service) Delete(ctx context.Context, documentID int64) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	chunkIDs, err := s.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.dropVectors(chunkIDs); err != nil {
		return err
	}

	if doc.StoredPath != "" {
		if err := os.Remove(doc.StoredPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("stored_file_remove_failed", "path", doc.StoredPath, "error", err)
		}
	}
	if s.cache != nil {
		s.cache.InvalidateUser(doc.OwnerID)
	}

	s.logger.Info("document_deleted",
		"document_id", documentID,
		"owner_id", doc.OwnerID,
		"chunks", len(chunkIDs))
	return nil
}

// dropVectors tombstones chunk slots and persists the index, compacting
// when the tombstone ratio crosses the configured threshold.
func (s *Service) dropVectors(chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	s.index.Remove(chunkIDs)
	if s.index.TombstoneRatio() > s.cfg.CompactionTombstoneRatio {
		return s.index.Compact()
	}
	return s.index.Save()
}
