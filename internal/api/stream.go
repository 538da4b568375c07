package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/askdoc/askdoc/internal/chat"
	"github.com/askdoc/askdoc/internal/conversation"
	"github.com/askdoc/askdoc/internal/llm"
	"github.com/askdoc/askdoc/internal/retrieval"
)

// maxQuestionLength caps a single question.
const maxQuestionLength = 8000

type streamRequest struct {
	MessageID uuid.UUID `json:"messageId"`
	Question  string    `json:"question"`
}

type sseChunkData struct {
	Text string `json:"text"`
}

type sseSourcesData struct {
	Sources []retrieval.Result `json:"sources"`
}

type sseDoneData struct {
	MessageID uuid.UUID `json:"messageId"`
	Response  string    `json:"response"`
	Replayed  bool      `json:"replayed"`
}

type sseErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sseWriter lazily opens the event stream. Until the first event is
// written the handler can still fall back to a plain JSON error response
// with a real HTTP status code.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	failed  bool
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

// event writes one SSE frame. A write failure marks the stream dead so the
// caller stops generating.
func (s *sseWriter) event(name string, data any) error {
	if s.failed {
		return errors.New("event stream closed")
	}
	s.start()

	payload, err := json.Marshal(data)
	if err != nil {
		s.failed = true
		return fmt.Errorf("encoding %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		s.failed = true
		return fmt.Errorf("writing %s event: %w", name, err)
	}
	s.flusher.Flush()
	return nil
}

// handleStream answers a question over SSE.
//
// Events, in order: zero or more "chunk" frames while the model streams,
// one "sources" frame with the retrieved excerpts, then "done". Failures
// before the first chunk are plain JSON errors with a meaningful HTTP
// status; failures mid-stream become an "error" frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeInternal, "streaming not supported")
		return
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return
	}
	if req.MessageID == uuid.Nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "messageId is required")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "question is required")
		return
	}
	if len(req.Question) > maxQuestionLength {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "question too long")
		return
	}

	ctx := r.Context()
	sse := &sseWriter{w: w, flusher: flusher}

	answer, err := s.assistant.Ask(ctx, chat.Request{
		Conversation: conv,
		MessageID:    req.MessageID,
		Question:     req.Question,
	}, func(text string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return sse.event("chunk", sseChunkData{Text: text})
	})
	if err != nil {
		s.streamError(sse, conv.ID, err)
		return
	}

	sources := answer.Sources
	if sources == nil {
		sources = []retrieval.Result{}
	}
	if err := sse.event("sources", sseSourcesData{Sources: sources}); err != nil {
		return
	}
	_ = sse.event("done", sseDoneData{
		MessageID: answer.MessageID,
		Response:  answer.Content,
		Replayed:  answer.Replayed,
	})
}

// streamError reports a failed turn, as an HTTP error when the stream has
// not started and as an "error" frame when it has.
func (s *Server) streamError(sse *sseWriter, convID uuid.UUID, err error) {
	code := CodeInternal
	status := http.StatusInternalServerError
	message := "failed to generate answer"

	switch {
	case errors.Is(err, chat.ErrDocumentNotReady):
		code, status = CodeConflict, http.StatusConflict
		message = "document is not ready for questions"
	case errors.Is(err, conversation.ErrDuplicateMessage):
		code, status = CodeConflict, http.StatusConflict
		message = "message is already being processed"
	case errors.Is(err, llm.ErrCircuitOpen):
		code, status = "model_unavailable", http.StatusServiceUnavailable
		message = "model temporarily unavailable"
	}

	s.logger.Error("stream failed", "conversation_id", convID, "error", err)

	if sse.started {
		_ = sse.event("error", sseErrorData{Code: code, Message: message})
		return
	}
	writeError(sse.w, status, code, message)
}
