package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/askdoc/askdoc/internal/log"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// documentCols is the standard SELECT column list for scanDocument.
const documentCols = `id, filename, content_type, size_bytes, sha256,
	storage_path, status, error, chunk_count, created_at, updated_at`

// queryTimeout bounds individual store queries.
const queryTimeout = 10 * time.Second

// Store persists documents in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger log.Logger
}

// NewStore creates a document Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{
		db:     pool,
		logger: logger.With("component", "document_store"),
	}
}

// Create inserts a new document in pending state. Returns
// ErrDuplicateContent when a document with the same sha256 already exists.
func (s *Store) Create(ctx context.Context, doc *Document) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.Exec(ctx, `
		INSERT INTO documents (id, filename, content_type, size_bytes, sha256, storage_path, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.Filename, doc.ContentType, doc.SizeBytes, doc.SHA256, doc.StoragePath, StatusPending,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation &&
			pgErr.ConstraintName == "idx_documents_sha256" {
			return fmt.Errorf("%w: sha256 %s", ErrDuplicateContent, doc.SHA256)
		}
		return fmt.Errorf("creating document: %w", err)
	}

	s.logger.Debug("document created", "id", doc.ID, "filename", doc.Filename)
	return nil
}

// Get retrieves a document by ID. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.db.QueryRow(ctx, `SELECT `+documentCols+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// GetBySHA256 retrieves a document by content hash, used to deduplicate
// byte-identical uploads. Returns ErrNotFound if absent.
func (s *Store) GetBySHA256(ctx context.Context, sha256 string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.db.QueryRow(ctx, `SELECT `+documentCols+` FROM documents WHERE sha256 = $1`, sha256)
	return scanDocument(row)
}

// List returns documents ordered by creation time descending.
func (s *Store) List(ctx context.Context, limit, offset int32) ([]*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT `+documentCols+`
		FROM documents
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// ListPending returns documents awaiting indexing, oldest first.
// Used on startup to resume work interrupted by a restart.
func (s *Store) ListPending(ctx context.Context) ([]*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT `+documentCols+`
		FROM documents
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC`,
		StatusPending, StatusIndexing,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending documents: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing pending documents: %w", err)
	}
	return docs, nil
}

// Delete removes a document. Chunks and conversations cascade in the schema.
// Returns ErrNotFound if the document does not exist.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("document deleted", "id", id)
	return nil
}

// MarkIndexing transitions a document from pending to indexing.
// The status guard makes the claim atomic: two indexer workers racing on the
// same document see exactly one winner. Returns ErrNotFound when the
// document is gone or already claimed.
func (s *Store) MarkIndexing(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, StatusIndexing, `
		UPDATE documents SET status = $2, error = '', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'indexing')`)
}

// MarkReady transitions a document to ready with its final chunk count.
func (s *Store) MarkReady(ctx context.Context, id uuid.UUID, chunkCount int) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		UPDATE documents SET status = $2, chunk_count = $3, error = '', updated_at = now()
		WHERE id = $1`,
		id, StatusReady, chunkCount,
	)
	if err != nil {
		return fmt.Errorf("marking document ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Info("document ready", "id", id, "chunks", chunkCount)
	return nil
}

// MarkFailed transitions a document to failed, recording the cause.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		UPDATE documents SET status = $2, error = $3, updated_at = now()
		WHERE id = $1`,
		id, StatusFailed, cause,
	)
	if err != nil {
		return fmt.Errorf("marking document failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Warn("document indexing failed", "id", id, "cause", cause)
	return nil
}

// Count returns the total number of documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func (s *Store) setStatus(ctx context.Context, id uuid.UUID, status Status, sql string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.db.Exec(ctx, sql, id, status)
	if err != nil {
		return fmt.Errorf("setting document status %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanDocument scans one document row, mapping pgx.ErrNoRows to ErrNotFound.
func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.ContentType, &doc.SizeBytes, &doc.SHA256,
		&doc.StoragePath, &doc.Status, &doc.Error, &doc.ChunkCount,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return &doc, nil
}
