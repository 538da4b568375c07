// Package api exposes the document-chat service over HTTP.
//
// Routes (under /api/v1):
//
//	GET    /csrf-token
//	POST   /documents                     multipart upload
//	GET    /documents
//	GET    /documents/{id}
//	DELETE /documents/{id}
//	POST   /conversations
//	GET    /conversations
//	GET    /conversations/{id}
//	GET    /conversations/{id}/messages
//	GET    /conversations/{id}/export
//	DELETE /conversations/{id}
//	POST   /conversations/{id}/stream     SSE answer stream
//	GET    /stats
//
// /health and /ready sit outside the middleware stack so probes are never
// rate limited or CSRF checked. Responses use a {"data": ...} envelope;
// errors use {"error": {"code", "message"}}.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/askdoc/askdoc/internal/chat"
	"github.com/askdoc/askdoc/internal/conversation"
	"github.com/askdoc/askdoc/internal/document"
	"github.com/askdoc/askdoc/internal/log"
	"github.com/askdoc/askdoc/internal/storage"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against Slowloris-style clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading a request,
	// sized for the multipart upload path.
	ReadTimeout = 60 * time.Second

	// WriteTimeout must cover a full SSE answer stream, which can run
	// for minutes on long documents.
	WriteTimeout = 5 * time.Minute

	// IdleTimeout bounds keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// DocumentStore is the document persistence the API needs.
type DocumentStore interface {
	Create(ctx context.Context, doc *document.Document) error
	Get(ctx context.Context, id uuid.UUID) (*document.Document, error)
	GetBySHA256(ctx context.Context, sha256 string) (*document.Document, error)
	List(ctx context.Context, limit, offset int32) ([]*document.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int64, error)
}

// BlobStore persists uploaded file contents.
type BlobStore interface {
	Save(ctx context.Context, id uuid.UUID, r io.Reader) (storage.SaveResult, error)
	Remove(path string) error
}

// Enqueuer hands accepted documents to the background indexer.
type Enqueuer interface {
	Enqueue(doc *document.Document) bool
}

// ConversationStore is the conversation persistence the API needs.
type ConversationStore interface {
	Create(ctx context.Context, documentID, ownerID uuid.UUID) (*conversation.Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int32) ([]*conversation.Conversation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	History(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*conversation.Message, error)
	Count(ctx context.Context) (int64, error)
	CountMessages(ctx context.Context) (int64, error)
}

// Asker answers one question with streamed output.
type Asker interface {
	Ask(ctx context.Context, req chat.Request, onChunk func(string) error) (*chat.Answer, error)
}

// Pinger reports backend connectivity for the readiness probe.
// Satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the API-facing settings.
type Config struct {
	HMACSecret     string
	CORSOrigins    []string
	TrustProxy     bool
	RateLimit      float64
	RateBurst      int
	MaxUploadBytes int64
}

// Server is the HTTP server for the document-chat API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	documents     DocumentStore
	blobs         BlobStore
	indexer       Enqueuer
	conversations ConversationStore
	assistant     Asker
	pinger        Pinger

	identity    *identity
	limiter     *ipLimiter
	corsOrigins []string
	maxUpload   int64
}

// NewServer creates a server with all routes registered.
func NewServer(
	cfg Config,
	documents DocumentStore,
	blobs BlobStore,
	indexer Enqueuer,
	conversations ConversationStore,
	assistant Asker,
	pinger Pinger,
	logger log.Logger,
) *Server {
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 30
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 16 << 20
	}

	s := &Server{
		mux:           http.NewServeMux(),
		logger:        logger.With("component", "api"),
		documents:     documents,
		blobs:         blobs,
		indexer:       indexer,
		conversations: conversations,
		assistant:     assistant,
		pinger:        pinger,
		identity:      newIdentity(cfg.HMACSecret),
		limiter:       newIPLimiter(rps, burst, cfg.TrustProxy),
		corsOrigins:   cfg.CORSOrigins,
		maxUpload:     maxUpload,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	mux := s.mux

	mux.HandleFunc("GET /api/v1/csrf-token", s.handleCSRFToken)

	mux.HandleFunc("POST /api/v1/documents", s.handleUploadDocument)
	mux.HandleFunc("GET /api/v1/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/v1/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", s.handleDeleteDocument)

	mux.HandleFunc("POST /api/v1/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/v1/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/v1/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /api/v1/conversations/{id}/export", s.handleExportConversation)
	mux.HandleFunc("DELETE /api/v1/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("POST /api/v1/conversations/{id}/stream", s.handleStream)

	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
}

// Handler returns the full handler: probe endpoints on a bare mux, the API
// behind the middleware stack.
func (s *Server) Handler() http.Handler {
	api := chain(s.mux,
		s.recoveryMiddleware,
		s.requestIDMiddleware,
		s.loggingMiddleware,
		s.securityHeadersMiddleware,
		s.corsMiddleware,
		s.rateLimitMiddleware,
		s.userMiddleware,
		s.csrfMiddleware,
	)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleLiveness)
	root.HandleFunc("GET /ready", s.handleReadiness)
	root.Handle("/api/v1/", api)

	// Server spans for every request; a no-op unless a tracer provider is
	// configured at startup.
	return otelhttp.NewHandler(root, "askdoc.http")
}

// handleCSRFToken returns the caller's CSRF token. The user middleware has
// already issued the uid cookie by the time this runs.
func (s *Server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{
		"token": s.identity.csrfToken(userID(r.Context())),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pinger == nil {
		http.Error(w, "database not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.pinger.Ping(r.Context()); err != nil {
		s.logger.Error("readiness check failed", "error", err)
		http.Error(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
