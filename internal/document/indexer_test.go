package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/askdoc/askdoc/internal/log"
	"github.com/askdoc/askdoc/internal/retrieval"
)

// fakeDocuments records status transitions in memory.
type fakeDocuments struct {
	mu       sync.Mutex
	status   map[uuid.UUID]Status
	failures map[uuid.UUID]string
	ready    map[uuid.UUID]int
	pending  []*Document

	markIndexingErr error
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{
		status:   make(map[uuid.UUID]Status),
		failures: make(map[uuid.UUID]string),
		ready:    make(map[uuid.UUID]int),
	}
}

func (f *fakeDocuments) MarkIndexing(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markIndexingErr != nil {
		return f.markIndexingErr
	}
	f.status[id] = StatusIndexing
	return nil
}

func (f *fakeDocuments) MarkReady(ctx context.Context, id uuid.UUID, chunkCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = StatusReady
	f.ready[id] = chunkCount
	return nil
}

func (f *fakeDocuments) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = StatusFailed
	f.failures[id] = cause
	return nil
}

func (f *fakeDocuments) ListPending(ctx context.Context) ([]*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeDocuments) statusOf(id uuid.UUID) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[id]
}

// fakeChunkWriter captures replaced chunks.
type fakeChunkWriter struct {
	mu     sync.Mutex
	chunks map[uuid.UUID][]retrieval.Chunk
	err    error
}

func newFakeChunkWriter() *fakeChunkWriter {
	return &fakeChunkWriter{chunks: make(map[uuid.UUID][]retrieval.Chunk)}
}

func (f *fakeChunkWriter) ReplaceChunks(ctx context.Context, docID uuid.UUID, chunks []retrieval.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.chunks[docID] = chunks
	return nil
}

// fakeBlobs serves blobs from a map keyed by storage path.
type fakeBlobs struct {
	blobs map[string]string
}

func (f *fakeBlobs) Open(path string) (io.ReadCloser, error) {
	content, ok := f.blobs[path]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

// fakeEmbedder returns deterministic vectors.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, retrieval.VectorDimension)
		vectors[i][0] = float32(i)
	}
	return vectors, nil
}

type indexerFixture struct {
	docs     *fakeDocuments
	chunks   *fakeChunkWriter
	blobs    *fakeBlobs
	embedder *fakeEmbedder
	indexer  *Indexer
}

func newIndexerFixture() *indexerFixture {
	f := &indexerFixture{
		docs:     newFakeDocuments(),
		chunks:   newFakeChunkWriter(),
		blobs:    &fakeBlobs{blobs: make(map[string]string)},
		embedder: &fakeEmbedder{},
	}
	f.indexer = NewIndexer(f.docs, f.chunks, f.blobs, f.embedder, NewChunker(200, 40), log.NewNop())
	return f
}

func testDoc(path string) *Document {
	return &Document{
		ID:          uuid.New(),
		Filename:    "notes.txt",
		ContentType: "text/plain",
		StoragePath: path,
		Status:      StatusPending,
	}
}

func TestIndexer_HappyPath(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newIndexerFixture()
	f.blobs.blobs["p1"] = strings.Repeat("Useful facts about the topic. ", 40)
	doc := testDoc("p1")

	if ok := f.indexer.Enqueue(doc); !ok {
		t.Fatal("Enqueue() returned false")
	}
	f.indexer.Close()

	if got := f.docs.statusOf(doc.ID); got != StatusReady {
		t.Fatalf("status = %s, want ready (failure: %s)", got, f.docs.failures[doc.ID])
	}

	chunks := f.chunks.chunks[doc.ID]
	if len(chunks) == 0 {
		t.Fatal("no chunks written")
	}
	if f.docs.ready[doc.ID] != len(chunks) {
		t.Errorf("chunk count = %d, want %d", f.docs.ready[doc.ID], len(chunks))
	}
	for i, c := range chunks {
		if c.Seq != i {
			t.Errorf("chunk %d has seq %d", i, c.Seq)
		}
		if c.DocumentID != doc.ID {
			t.Errorf("chunk %d has wrong document id", i)
		}
	}
}

func TestIndexer_BinaryContentFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newIndexerFixture()
	f.blobs.blobs["bin"] = "pdf\xff\xfe\x00binary"
	doc := testDoc("bin")

	f.indexer.Enqueue(doc)
	f.indexer.Close()

	if got := f.docs.statusOf(doc.ID); got != StatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
	if cause := f.docs.failures[doc.ID]; !strings.Contains(cause, "UTF-8") {
		t.Errorf("failure cause = %q, want UTF-8 mention", cause)
	}
}

func TestIndexer_EmptyDocumentFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newIndexerFixture()
	f.blobs.blobs["empty"] = "   \n  "
	doc := testDoc("empty")

	f.indexer.Enqueue(doc)
	f.indexer.Close()

	if got := f.docs.statusOf(doc.ID); got != StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

func TestIndexer_EmbedErrorFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newIndexerFixture()
	f.blobs.blobs["p1"] = "some perfectly fine text"
	f.embedder.err = errors.New("quota exceeded")
	doc := testDoc("p1")

	f.indexer.Enqueue(doc)
	f.indexer.Close()

	if got := f.docs.statusOf(doc.ID); got != StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

func TestIndexer_MissingBlobFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newIndexerFixture()
	doc := testDoc("nowhere")

	f.indexer.Enqueue(doc)
	f.indexer.Close()

	if got := f.docs.statusOf(doc.ID); got != StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

func TestIndexer_VanishedDocumentSkipped(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newIndexerFixture()
	f.docs.markIndexingErr = ErrNotFound
	doc := testDoc("p1")

	f.indexer.Enqueue(doc)
	f.indexer.Close()

	if len(f.docs.failures) != 0 {
		t.Errorf("vanished document should not be marked failed: %v", f.docs.failures)
	}
}

func TestIndexer_EnqueueAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newIndexerFixture()
	f.indexer.Close()

	if ok := f.indexer.Enqueue(testDoc("p1")); ok {
		t.Error("Enqueue() after Close should return false")
	}
}

func TestIndexer_Resume(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newIndexerFixture()
	for i := 0; i < 3; i++ {
		path := fmt.Sprintf("p%d", i)
		f.blobs.blobs[path] = "resumable document content"
		f.docs.pending = append(f.docs.pending, testDoc(path))
	}

	if err := f.indexer.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	f.indexer.Close()

	for _, doc := range f.docs.pending {
		if got := f.docs.statusOf(doc.ID); got != StatusReady {
			t.Errorf("resumed document %s status = %s, want ready", doc.ID, got)
		}
	}
}

func TestIndexer_ConcurrentEnqueues(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newIndexerFixture()
	docs := make([]*Document, 10)
	for i := range docs {
		path := fmt.Sprintf("doc-%d", i)
		f.blobs.blobs[path] = strings.Repeat("text for concurrency testing. ", 20)
		docs[i] = testDoc(path)
	}

	var wg sync.WaitGroup
	for _, doc := range docs {
		wg.Add(1)
		go func(d *Document) {
			defer wg.Done()
			f.indexer.Enqueue(d)
		}(doc)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		f.indexer.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close() did not drain within timeout")
	}

	for _, doc := range docs {
		if got := f.docs.statusOf(doc.ID); got != StatusReady {
			t.Errorf("document %s status = %s, want ready", doc.ID, got)
		}
	}
}
