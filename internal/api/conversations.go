package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/askdoc/askdoc/internal/conversation"
	"github.com/askdoc/askdoc/internal/document"
)

type createConversationRequest struct {
	DocumentID uuid.UUID `json:"documentId"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return
	}
	if req.DocumentID == uuid.Nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "documentId is required")
		return
	}
	ctx := r.Context()

	if _, err := s.documents.Get(ctx, req.DocumentID); err != nil {
		if errors.Is(err, document.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "document not found")
			return
		}
		s.logger.Error("failed to get document", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to create conversation")
		return
	}

	conv, err := s.conversations.Create(ctx, req.DocumentID, userID(ctx))
	if err != nil {
		s.logger.Error("failed to create conversation", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to create conversation")
		return
	}
	writeData(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 100, 1, 1000)
	offset := parseIntParam(r, "offset", 0, 0, 100000)

	convs, err := s.conversations.ListByOwner(r.Context(), userID(r.Context()), int32(limit), int32(offset))
	if err != nil {
		s.logger.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []*conversation.Conversation{}
	}
	writeData(w, http.StatusOK, convs)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, conv)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r)
	if !ok {
		return
	}
	limit := parseIntParam(r, "limit", 200, 1, 1000)

	messages, err := s.conversations.History(r.Context(), conv.ID, int32(limit))
	if err != nil {
		s.logger.Error("failed to load messages", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []*conversation.Message{}
	}
	writeData(w, http.StatusOK, messages)
}

// handleExportConversation downloads the conversation with its full message
// history as a JSON attachment.
func (s *Server) handleExportConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r)
	if !ok {
		return
	}

	messages, err := s.conversations.History(r.Context(), conv.ID, 10000)
	if err != nil {
		s.logger.Error("failed to export conversation", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to export conversation")
		return
	}
	if messages == nil {
		messages = []*conversation.Message{}
	}

	export := struct {
		Conversation *conversation.Conversation `json:"conversation"`
		Messages     []*conversation.Message    `json:"messages"`
	}{conv, messages}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "askdoc-"+conv.ID.String()+".json"))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		s.logger.Error("failed to encode export", "error", err)
	}
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r)
	if !ok {
		return
	}

	if err := s.conversations.Delete(r.Context(), conv.ID); err != nil && !errors.Is(err, conversation.ErrNotFound) {
		s.logger.Error("failed to delete conversation", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedConversation loads the {id} conversation and enforces ownership.
// Foreign conversations read as 404 so IDs do not leak existence.
func (s *Server) ownedConversation(w http.ResponseWriter, r *http.Request) (*conversation.Conversation, bool) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return nil, false
	}

	conv, err := s.conversations.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "conversation not found")
			return nil, false
		}
		s.logger.Error("failed to get conversation", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to get conversation")
		return nil, false
	}

	if conv.OwnerID != userID(r.Context()) {
		writeError(w, http.StatusNotFound, CodeNotFound, "conversation not found")
		return nil, false
	}
	return conv, true
}

// parseIntParam parses an integer query parameter with bounds clamping.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
