package api

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/askdoc/askdoc/internal/document"
)

// maxFilenameLength caps stored filenames.
const maxFilenameLength = 255

// allowedContentTypes are the upload types the service accepts. PDF bytes
// are stored but indexing will fail them until text extraction exists; the
// document surfaces that through its failed status.
var allowedContentTypes = map[string]bool{
	"text/plain":      true,
	"text/markdown":   true,
	"application/pdf": true,
}

var extensionTypes = map[string]string{
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".pdf":      "application/pdf",
}

// handleUploadDocument accepts a multipart upload under the "file" field.
// A byte-identical re-upload returns the existing document with 200 instead
// of creating and re-indexing a duplicate.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeTooLarge, "upload exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "multipart field 'file' is required")
		return
	}
	defer func() { _ = file.Close() }()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "filename is required")
		return
	}
	if len(filename) > maxFilenameLength {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "filename too long")
		return
	}

	contentType := resolveContentType(header.Header.Get("Content-Type"), filename)
	if !allowedContentTypes[contentType] {
		writeError(w, http.StatusUnsupportedMediaType, CodeUnsupportedType,
			"only text, markdown, and PDF uploads are accepted")
		return
	}

	ctx := r.Context()
	id := uuid.New()

	saved, err := s.blobs.Save(ctx, id, file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeTooLarge, "upload exceeds size limit")
			return
		}
		s.logger.Error("failed to store upload", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to store upload")
		return
	}

	// Same bytes already uploaded: drop the fresh blob, return the
	// original document.
	existing, err := s.documents.GetBySHA256(ctx, saved.SHA256)
	if err == nil {
		_ = s.blobs.Remove(saved.Path)
		writeData(w, http.StatusOK, existing)
		return
	}
	if !errors.Is(err, document.ErrNotFound) {
		_ = s.blobs.Remove(saved.Path)
		s.logger.Error("duplicate lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to store upload")
		return
	}

	doc := &document.Document{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   saved.Size,
		SHA256:      saved.SHA256,
		StoragePath: saved.Path,
		Status:      document.StatusPending,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		_ = s.blobs.Remove(saved.Path)
		if errors.Is(err, document.ErrDuplicateContent) {
			// Lost a race against a concurrent upload of the same bytes.
			existing, lookupErr := s.documents.GetBySHA256(ctx, saved.SHA256)
			if lookupErr == nil {
				writeData(w, http.StatusOK, existing)
				return
			}
			s.logger.Error("duplicate lookup failed", "error", lookupErr)
		} else {
			s.logger.Error("failed to create document", "error", err)
		}
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to create document")
		return
	}

	s.indexer.Enqueue(doc)
	writeData(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 100, 1, 1000)
	offset := parseIntParam(r, "offset", 0, 0, 100000)

	docs, err := s.documents.List(r.Context(), int32(limit), int32(offset))
	if err != nil {
		s.logger.Error("failed to list documents", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	writeData(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	doc, err := s.documents.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "document not found")
			return
		}
		s.logger.Error("failed to get document", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to get document")
		return
	}
	writeData(w, http.StatusOK, doc)
}

// handleDeleteDocument removes the document row (chunks cascade) and then
// the blob. A missing blob is not an error; the row is authoritative.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()

	doc, err := s.documents.Get(ctx, id)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "document not found")
			return
		}
		s.logger.Error("failed to get document", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to delete document")
		return
	}

	if err := s.documents.Delete(ctx, id); err != nil {
		s.logger.Error("failed to delete document", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to delete document")
		return
	}

	if err := s.blobs.Remove(doc.StoragePath); err != nil {
		s.logger.Warn("failed to remove blob", "document_id", id, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// resolveContentType normalizes the multipart part's declared type, falling
// back to the file extension when the client sent none or a generic one.
func resolveContentType(declared, filename string) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil &&
			mediaType != "application/octet-stream" {
			return mediaType
		}
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return declared
}

// pathUUID parses the {id} path segment, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
