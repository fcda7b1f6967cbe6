package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	dqerrors "github.com/docquery/docquery/internal/errors"
)

const schemaVersion = 1

// timeFormat is the canonical on-disk timestamp encoding.
const timeFormat = time.RFC3339Nano

// Store is the SQLite-backed primary store. Safe for concurrent use; writes
// are serialized through a single connection in WAL mode so multiple
// processes (workers and searchers) can share one database file.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
	logger *slog.Logger
}

// Open opens (or creates) the store at path and applies migrations.
// An empty path opens an in-memory store for testing.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, dqerrors.Wrap(dqerrors.ErrCodeStoreUnavailable, err)
	}

	// Single writer prevents lock contention; WAL allows concurrent readers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, path: path, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return s, nil
}

// migrate creates or upgrades the schema.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id         INTEGER PRIMARY KEY,
		email      TEXT UNIQUE,
		is_admin   INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id      INTEGER NOT NULL REFERENCES users(id),
		filename      TEXT NOT NULL,
		stored_path   TEXT NOT NULL,
		size_bytes    INTEGER NOT NULL DEFAULT 0,
		mime_type     TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'pending',
		job_id        TEXT UNIQUE,
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		processed_at  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS chunks (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id     INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index     INTEGER NOT NULL,
		page_number     INTEGER,
		content         TEXT NOT NULL,
		token_count     INTEGER NOT NULL DEFAULT 0,
		has_embedding   INTEGER NOT NULL DEFAULT 0,
		embedding_model TEXT NOT NULL DEFAULT '',
		UNIQUE(document_id, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	-- External-content FTS5 table over chunk text. Porter stemming plus
	-- unicode61 gives stemmed, lower-cased, stop-worded English matching.
	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		content='chunks',
		content_rowid='id',
		tokenize='porter unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS chunks_fts_insert AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_fts_delete AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_fts_update AFTER UPDATE OF content ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
	END;

	CREATE TABLE IF NOT EXISTS query_logs (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id         TEXT NOT NULL UNIQUE,
		user_id          INTEGER NOT NULL,
		query_text       TEXT NOT NULL,
		k                INTEGER NOT NULL,
		result_count     INTEGER NOT NULL,
		results          TEXT NOT NULL DEFAULT '[]',
		response_time_ms REAL NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_logs_user ON query_logs(user_id);

	CREATE TABLE IF NOT EXISTS ingest_jobs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id      TEXT NOT NULL UNIQUE,
		document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		status      TEXT NOT NULL DEFAULT 'pending',
		attempts    INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		started_at  TEXT,
		finished_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_ingest_jobs_status ON ingest_jobs(status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// Close closes the store. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return dqerrors.New(dqerrors.ErrCodeStoreUnavailable, "store is closed", nil)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Users

// EnsureUser makes sure a user row exists for the given id. The auth edge
// owns user administration; this keeps foreign keys satisfied for ids it
// hands us.
func (s *Store) EnsureUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users(id, created_at) VALUES (?, ?)`,
		id, time.Now().UTC().Format(timeFormat))
	return err
}

// ---------------------------------------------------------------------------
// Documents

// CreateDocument inserts a new document in state pending and returns its id.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	if doc.Status == "" {
		doc.Status = StatusPending
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents(owner_id, filename, stored_path, size_bytes, mime_type, status, job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.OwnerID, doc.Filename, doc.StoredPath, doc.SizeBytes, doc.MIMEType,
		string(doc.Status), doc.JobID, doc.CreatedAt.Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("failed to insert document: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	doc.ID = id
	return id, nil
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, filename, stored_path, size_bytes, mime_type, status,
		       COALESCE(job_id, ''), error_message, created_at, processed_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocuments returns the owner's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, ownerID int64) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, filename, stored_path, size_bytes, mime_type, status,
		       COALESCE(job_id, ''), error_message, created_at, processed_at
		FROM documents WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// TransitionDocument moves a document from one lifecycle state to another.
// The conditional update serializes competing workers: only one can win the
// pending -> processing transition for a given row.
func (s *Store) TransitionDocument(ctx context.Context, id int64, from, to DocumentStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	var processedAt any
	if to == StatusCompleted || to == StatusFailed {
		processedAt = time.Now().UTC().Format(timeFormat)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error_message = ?, processed_at = COALESCE(?, processed_at)
		WHERE id = ? AND status = ?`,
		string(to), errMsg, processedAt, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to transition document %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return dqerrors.New(dqerrors.ErrCodeNotFound,
			fmt.Sprintf("document %d not in state %s", id, from), nil)
	}
	return nil
}

// ReassignDocumentJob points a document at a fresh ingestion job id, used
// when a failed document is resubmitted. Stale workers still holding the old
// job id see the mismatch and skip.
func (s *Store) ReassignDocumentJob(ctx context.Context, id int64, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET job_id = ? WHERE id = ?`, jobID, id)
	if err != nil {
		return fmt.Errorf("failed to reassign job for document %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dqerrors.New(dqerrors.ErrCodeNotFound,
			fmt.Sprintf("document %d not found", id), nil)
	}
	return nil
}

// DeleteDocument removes a document and (via cascade) its chunks.
// Returns the ids of the removed chunks so the caller can tombstone their
// vector slots.
func (s *Store) DeleteDocument(ctx context.Context, id int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	chunkIDs, err := chunkIDsForDocument(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete document %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, dqerrors.New(dqerrors.ErrCodeNotFound,
			fmt.Sprintf("document %d not found", id), nil)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return chunkIDs, nil
}

// ---------------------------------------------------------------------------
// Chunks

// InsertChunks persists chunks for a document in order, assigning ids back
// onto the passed values. All-or-nothing.
func (s *Store) InsertChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks(document_id, chunk_index, page_number, content, token_count, has_embedding, embedding_model)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		var page any
		if c.PageNumber != nil {
			page = *c.PageNumber
		}
		res, err := stmt.ExecContext(ctx, c.DocumentID, c.ChunkIndex, page,
			c.Content, c.TokenCount, boolToInt(c.HasEmbedding), c.EmbeddingModel)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d of document %d: %w", c.ChunkIndex, c.DocumentID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		c.ID = id
	}

	return tx.Commit()
}

// MarkChunksEmbedded flips the embedding-present flag and records the model.
func (s *Store) MarkChunksEmbedded(ctx context.Context, chunkIDs []int64, model string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE chunks SET has_embedding = 1, embedding_model = ? WHERE id IN (%s)`,
		placeholders(len(chunkIDs)))
	args := make([]any, 0, len(chunkIDs)+1)
	args = append(args, model)
	for _, id := range chunkIDs {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// GetDocumentChunks returns a document's chunks in index order.
func (s *Store) GetDocumentChunks(ctx context.Context, documentID int64) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, page_number, content, token_count, has_embedding, embedding_model
		FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteDocumentChunks removes all chunks of a document and returns their
// ids for vector-slot tombstoning. Used when re-submitting a failed document.
func (s *Store) DeleteDocumentChunks(ctx context.Context, documentID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := chunkIDsForDocument(ctx, tx, documentID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return nil, fmt.Errorf("failed to delete chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetChunksWithDocuments batch-fetches chunks joined to their documents.
// The result maps chunk id to the enriched row; missing ids are absent.
func (s *Store) GetChunksWithDocuments(ctx context.Context, ids []int64) (map[int64]*ChunkWithDocument, error) {
	result := make(map[int64]*ChunkWithDocument, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.chunk_index, c.page_number, c.content, c.token_count,
		       c.has_embedding, c.embedding_model, d.owner_id, d.filename
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.id IN (%s)`, placeholders(len(ids)))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cw ChunkWithDocument
		var page sql.NullInt64
		var hasEmbedding int
		if err := rows.Scan(&cw.ID, &cw.DocumentID, &cw.ChunkIndex, &page, &cw.Content,
			&cw.TokenCount, &hasEmbedding, &cw.EmbeddingModel, &cw.OwnerID, &cw.DocumentFilename); err != nil {
			return nil, err
		}
		if page.Valid {
			p := int(page.Int64)
			cw.PageNumber = &p
		}
		cw.HasEmbedding = hasEmbedding != 0
		result[cw.ID] = &cw
	}
	return result, rows.Err()
}

// ---------------------------------------------------------------------------
// Lexical search

// SearchLexical runs an FTS5 BM25 query over chunk content, filtered to the
// owner (and optionally one document) in-SQL. Scores are negated bm25()
// values, so higher is better.
func (s *Store) SearchLexical(ctx context.Context, query string, k int, ownerID int64, documentID int64) ([]LexicalHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	match := ftsQuery(query)
	if match == "" {
		return []LexicalHit{}, nil
	}

	sqlQuery := `
		SELECT c.id, bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ? AND d.owner_id = ?`
	args := []any{match, ownerID}
	if documentID > 0 {
		sqlQuery += ` AND c.document_id = ?`
		args = append(args, documentID)
	}
	sqlQuery += ` ORDER BY score LIMIT ?`
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		// FTS5 rejects some syntax; treat as no results rather than failing
		// the whole search.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []LexicalHit{}, nil
		}
		return nil, dqerrors.Wrap(dqerrors.ErrCodeStoreUnavailable, err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var hit LexicalHit
		if err := rows.Scan(&hit.ChunkID, &hit.Score); err != nil {
			return nil, err
		}
		hit.Score = -hit.Score
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ftsQuery converts free text into a safe FTS5 MATCH expression: each term
// quoted, AND semantics.
func ftsQuery(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + f + `"`
	}
	return strings.Join(quoted, " ")
}

// ---------------------------------------------------------------------------
// Query logs

// InsertQueryLog appends a query log row.
func (s *Store) InsertQueryLog(ctx context.Context, log *QueryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	results, err := json.Marshal(log.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal query log results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_logs(query_id, user_id, query_text, k, result_count, results, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.QueryID, log.UserID, log.QueryText, log.K, log.ResultCount,
		string(results), log.ResponseTimeMs, log.CreatedAt.Format(timeFormat))
	return err
}

// ---------------------------------------------------------------------------
// Ingestion job queue

// EnqueueJob adds a pending ingestion job for a document.
func (s *Store) EnqueueJob(ctx context.Context, documentID int64, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_jobs(job_id, document_id, status, created_at)
		VALUES (?, ?, 'pending', ?)`,
		jobID, documentID, time.Now().UTC().Format(timeFormat))
	return err
}

// ClaimJob transactionally claims the oldest pending job, moving it to
// running. Returns nil when the queue is empty.
func (s *Store) ClaimJob(ctx context.Context) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, job_id, document_id, attempts, created_at
		FROM ingest_jobs WHERE status = 'pending' ORDER BY id LIMIT 1`)

	var job Job
	var createdAt string
	if err := row.Scan(&job.ID, &job.JobID, &job.DocumentID, &job.Attempts, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	job.CreatedAt, _ = time.Parse(timeFormat, createdAt)

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE ingest_jobs SET status = 'running', attempts = attempts + 1, started_at = ?
		WHERE id = ? AND status = 'pending'`,
		now.Format(timeFormat), job.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job.Status = JobRunning
	job.Attempts++
	job.StartedAt = &now
	return &job, nil
}

// FinishJob records a job outcome.
func (s *Store) FinishJob(ctx context.Context, id int64, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	status := JobDone
	if !success {
		status = JobFailed
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_jobs SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(timeFormat), id)
	return err
}

// ---------------------------------------------------------------------------
// Stats

// GetStats returns store-wide counts.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	stats := &Stats{DocumentsByStatus: make(map[DocumentStatus]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.DocumentsByStatus[DocumentStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&stats.ChunkCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE has_embedding = 1`).Scan(&stats.EmbeddedChunks); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_logs`).Scan(&stats.QueryLogCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingest_jobs WHERE status = 'pending'`).Scan(&stats.PendingJobs); err != nil {
		return nil, err
	}

	return stats, nil
}

// ---------------------------------------------------------------------------
// Scan helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var status, createdAt string
	var processedAt sql.NullString
	err := row.Scan(&doc.ID, &doc.OwnerID, &doc.Filename, &doc.StoredPath,
		&doc.SizeBytes, &doc.MIMEType, &status, &doc.JobID, &doc.ErrorMessage,
		&createdAt, &processedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dqerrors.New(dqerrors.ErrCodeNotFound, "document not found", err)
		}
		return nil, err
	}
	doc.Status = DocumentStatus(status)
	doc.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	if processedAt.Valid {
		t, err := time.Parse(timeFormat, processedAt.String)
		if err == nil {
			doc.ProcessedAt = &t
		}
	}
	return &doc, nil
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var page sql.NullInt64
	var hasEmbedding int
	err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &page, &c.Content,
		&c.TokenCount, &hasEmbedding, &c.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	if page.Valid {
		p := int(page.Int64)
		c.PageNumber = &p
	}
	c.HasEmbedding = hasEmbedding != 0
	return &c, nil
}

func chunkIDsForDocument(ctx context.Context, tx *sql.Tx, documentID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
