// Package document manages uploaded documents and their indexing lifecycle.
//
// A document moves through four states:
//
//	pending -> indexing -> ready
//	                    -> failed
//
// Uploads land as pending. The background Indexer picks them up, chunks the
// blob, embeds the chunks, writes them into the retrieval index, and flips
// the status to ready. Chat is only allowed against ready documents.
package document

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrNotText indicates blob content that cannot be indexed as text.
	ErrNotText = errors.New("document content is not valid UTF-8 text")

	// ErrDuplicateContent indicates a document with the same sha256 already
	// exists. Concurrent uploads of identical bytes can both miss the
	// dedupe lookup; the unique index decides the winner.
	ErrDuplicateContent = errors.New("duplicate document content")
)

// Status is the indexing lifecycle state of a document.
type Status string

const (
	StatusPending  Status = "pending"
	StatusIndexing Status = "indexing"
	StatusReady    Status = "ready"
	StatusFailed   Status = "failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusIndexing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Document is one uploaded file and its indexing state.
type Document struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	SHA256      string    `json:"sha256"`
	StoragePath string    `json:"-"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	ChunkCount  int       `json:"chunkCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
