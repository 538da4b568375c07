package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/askdoc/askdoc/internal/log"
	"github.com/askdoc/askdoc/internal/retrieval"
)

// embedBatchSize is how many chunks go into one embedding request.
const embedBatchSize = 32

// indexTimeout bounds the full pipeline for one document.
const indexTimeout = 10 * time.Minute

// maxConcurrentIndexes limits how many documents index at once; embedding is
// the bottleneck and the provider rate limiter serializes most of the work
// anyway.
const maxConcurrentIndexes = 2

// Embedder produces document embeddings. Implemented by llm.Client.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkWriter stores indexed chunks. Implemented by retrieval.Store.
type ChunkWriter interface {
	ReplaceChunks(ctx context.Context, docID uuid.UUID, chunks []retrieval.Chunk) error
}

// BlobOpener reads stored document blobs. Implemented by storage.Store.
type BlobOpener interface {
	Open(path string) (io.ReadCloser, error)
}

// Documents is the slice of Store the indexer needs.
type Documents interface {
	MarkIndexing(ctx context.Context, id uuid.UUID) error
	MarkReady(ctx context.Context, id uuid.UUID, chunkCount int) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) error
	ListPending(ctx context.Context) ([]*Document, error)
}

// Indexer runs the background pipeline that turns pending documents into
// searchable chunks: read blob, chunk, embed, store, mark ready.
//
// Every Enqueue is tracked by a WaitGroup so Close can drain in-flight work
// during graceful shutdown.
type Indexer struct {
	docs     Documents
	chunks   ChunkWriter
	blobs    BlobOpener
	embedder Embedder
	chunker  *Chunker
	logger   log.Logger

	wg  sync.WaitGroup
	sem chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewIndexer creates an Indexer.
func NewIndexer(docs Documents, chunks ChunkWriter, blobs BlobOpener, embedder Embedder, chunker *Chunker, logger log.Logger) *Indexer {
	return &Indexer{
		docs:     docs,
		chunks:   chunks,
		blobs:    blobs,
		embedder: embedder,
		chunker:  chunker,
		logger:   logger.With("component", "indexer"),
		sem:      make(chan struct{}, maxConcurrentIndexes),
	}
}

// Enqueue schedules a document for background indexing.
// Returns false if the indexer is already closed.
func (ix *Indexer) Enqueue(doc *Document) bool {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		ix.logger.Warn("enqueue after close dropped", "id", doc.ID)
		return false
	}
	ix.wg.Add(1)
	ix.mu.Unlock()

	go func() {
		defer ix.wg.Done()

		ix.sem <- struct{}{}
		defer func() { <-ix.sem }()

		// Detached from the request context: indexing outlives the upload
		// request that triggered it.
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()

		if err := ix.index(ctx, doc); err != nil {
			ix.logger.Error("indexing failed", "id", doc.ID, "error", err)
		}
	}()
	return true
}

// Resume re-enqueues documents left pending or indexing by a previous run.
func (ix *Indexer) Resume(ctx context.Context) error {
	docs, err := ix.docs.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending documents: %w", err)
	}
	for _, doc := range docs {
		ix.Enqueue(doc)
	}
	if len(docs) > 0 {
		ix.logger.Info("resumed pending documents", "count", len(docs))
	}
	return nil
}

// Close waits for all in-flight indexing to finish. No new work is accepted
// after Close.
func (ix *Indexer) Close() {
	ix.mu.Lock()
	ix.closed = true
	ix.mu.Unlock()

	ix.wg.Wait()
}

// index runs the pipeline for one document.
func (ix *Indexer) index(ctx context.Context, doc *Document) error {
	ctx, span := otel.Tracer("askdoc/document").Start(ctx, "Indexer.index")
	defer span.End()

	start := time.Now()

	if err := ix.docs.MarkIndexing(ctx, doc.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Deleted before indexing started, or claimed by another worker
			ix.logger.Debug("document vanished before indexing", "id", doc.ID)
			return nil
		}
		return err
	}

	texts, err := ix.loadChunks(doc)
	if err != nil {
		ix.markFailed(doc.ID, err)
		return err
	}
	if len(texts) == 0 {
		err := errors.New("document contains no indexable text")
		ix.markFailed(doc.ID, err)
		return err
	}

	chunks := make([]retrieval.Chunk, 0, len(texts))
	for batchStart := 0; batchStart < len(texts); batchStart += embedBatchSize {
		batchEnd := min(batchStart+embedBatchSize, len(texts))
		batch := texts[batchStart:batchEnd]

		vectors, err := ix.embedder.EmbedDocuments(ctx, batch)
		if err != nil {
			wrapped := fmt.Errorf("embedding batch %d: %w", batchStart/embedBatchSize, err)
			ix.markFailed(doc.ID, wrapped)
			return wrapped
		}

		for i, vec := range vectors {
			chunks = append(chunks, retrieval.Chunk{
				DocumentID: doc.ID,
				Seq:        batchStart + i,
				Content:    batch[i],
				Embedding:  vec,
			})
		}
	}

	if err := ix.chunks.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		ix.markFailed(doc.ID, err)
		return err
	}

	if err := ix.docs.MarkReady(ctx, doc.ID, len(chunks)); err != nil {
		return err
	}

	ix.logger.Info("document indexed",
		"id", doc.ID,
		"chunks", len(chunks),
		"elapsed", time.Since(start),
	)
	return nil
}

// loadChunks reads the blob and splits it into chunk texts.
func (ix *Indexer) loadChunks(doc *Document) ([]string, error) {
	rc, err := ix.blobs.Open(doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	texts, err := ix.chunker.Chunk(string(content))
	if err != nil {
		return nil, fmt.Errorf("chunking: %w", err)
	}
	return texts, nil
}

// markFailed records the failure cause. Uses a fresh context so the status
// update survives pipeline cancellation.
func (ix *Indexer) markFailed(id uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if err := ix.docs.MarkFailed(ctx, id, cause.Error()); err != nil {
		ix.logger.Error("failed to record indexing failure", "id", id, "error", err)
	}
}
