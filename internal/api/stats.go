package api

import "net/http"

type statsResponse struct {
	Documents     int64 `json:"documents"`
	Conversations int64 `json:"conversations"`
	Messages      int64 `json:"messages"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docs, err := s.documents.Count(ctx)
	if err != nil {
		s.logger.Error("failed to count documents", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load stats")
		return
	}
	convs, err := s.conversations.Count(ctx)
	if err != nil {
		s.logger.Error("failed to count conversations", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load stats")
		return
	}
	msgs, err := s.conversations.CountMessages(ctx)
	if err != nil {
		s.logger.Error("failed to count messages", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to load stats")
		return
	}

	writeData(w, http.StatusOK, statsResponse{
		Documents:     docs,
		Conversations: convs,
		Messages:      msgs,
	})
}
