package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"ragchat/internal/apperr"
)

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	turns, err := s.Chat.ListTurns(r.Context(), sessionID, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, turns)
}

type chatStreamRequest struct {
	Message string `json:"message"`
}

// handleChatStream runs one C11 turn and streams its events as SSE. Once
// streaming has begun the response is committed: any failure is reported as
// a terminal error SSE event, never as an HTTP error status.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, apperr.Wrap(err, apperr.CodeValidation, apperr.TierUserVisible, http.StatusBadRequest, "invalid request body"))
		return
	}

	writer, ok := newSSEWriter(w)
	if !ok {
		respondError(w, r, apperr.New(apperr.CodeInternal, apperr.TierFatal, http.StatusInternalServerError, "streaming unsupported"))
		return
	}

	_ = s.Orchestrator.StreamChat(r.Context(), sessionID, req.Message, writer.forward)
}
