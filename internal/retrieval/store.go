// Package retrieval stores document chunk embeddings and performs vector
// similarity search over them using PostgreSQL + pgvector.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/askdoc/askdoc/internal/log"
)

// VectorDimension is the embedding size the schema stores; see the
// document_chunks migration. Embeddings of any other size are rejected.
const VectorDimension = 768

// ErrDimensionMismatch indicates an embedding that does not fit the schema.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// searchTimeout bounds vector search queries.
const searchTimeout = 5 * time.Second

// writeTimeout bounds chunk replacement, which may touch thousands of rows.
const writeTimeout = 60 * time.Second

// Chunk is one indexed piece of a document.
type Chunk struct {
	DocumentID uuid.UUID
	Seq        int
	Content    string
	Embedding  []float32
}

// Result is a search hit, most similar first.
type Result struct {
	Seq        int     `json:"seq"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Store manages the chunk index.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a chunk Store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With("component", "retrieval_store"),
	}
}

// ReplaceChunks atomically replaces all chunks for a document.
// Used by the indexer so a re-index never leaves a mix of old and new chunks.
func (s *Store) ReplaceChunks(ctx context.Context, docID uuid.UUID, chunks []Chunk) error {
	for i, c := range chunks {
		if len(c.Embedding) != VectorDimension {
			return fmt.Errorf("%w: chunk %d has %d dimensions, want %d",
				ErrDimensionMismatch, i, len(c.Embedding), VectorDimension)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("chunk replace rollback", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("clearing old chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO document_chunks (id, document_id, seq, content, embedding)
			VALUES ($1, $2, $3, $4, $5)`,
			chunkID(docID, c.Seq), docID, c.Seq, c.Content, pgvector.NewVector(c.Embedding),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}

	s.logger.Debug("chunks replaced", "document_id", docID, "count", len(chunks))
	return nil
}

// Search returns the topK chunks of a document most similar to the query
// embedding, ordered by cosine similarity descending.
func (s *Store) Search(ctx context.Context, docID uuid.UUID, query []float32, topK int) ([]Result, error) {
	if len(query) != VectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d",
			ErrDimensionMismatch, len(query), VectorDimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	// <=> is cosine distance; similarity = 1 - distance
	rows, err := s.pool.Query(ctx, `
		SELECT seq, content, 1 - (embedding <=> $2) AS similarity
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		docID, pgvector.NewVector(query), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Seq, &r.Content, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	return results, nil
}

// DeleteByDocument removes all chunks for a document. The schema also
// cascades on document delete; this exists for explicit cleanup paths.
func (s *Store) DeleteByDocument(ctx context.Context, docID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// Count returns the total number of indexed chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM document_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// chunkID builds the deterministic primary key "<document_id>:<seq>".
func chunkID(docID uuid.UUID, seq int) string {
	return fmt.Sprintf("%s:%d", docID, seq)
}
