package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"ragchat/internal/apperr"
	"ragchat/internal/persistence"
)

type createSessionRequest struct {
	Title string           `json:"title"`
	Mode  persistence.Mode `json:"mode,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, apperr.Wrap(err, apperr.CodeValidation, apperr.TierUserVisible, http.StatusBadRequest, "invalid request body"))
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = persistence.ModeExploring
	}
	created, err := s.Sessions.Create(r.Context(), persistence.Session{Title: req.Title, Mode: mode})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.Sessions.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.Sessions.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, sessionNotFound(err))
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type updateSessionRequest struct {
	Title *string           `json:"title,omitempty"`
	Mode  *persistence.Mode `json:"mode,omitempty"`
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, apperr.Wrap(err, apperr.CodeValidation, apperr.TierUserVisible, http.StatusBadRequest, "invalid request body"))
		return
	}
	if req.Title != nil {
		if err := s.Sessions.UpdateTitle(r.Context(), id, *req.Title); err != nil {
			respondError(w, r, sessionNotFound(err))
			return
		}
	}
	if req.Mode != nil {
		if err := s.Sessions.UpdateMode(r.Context(), id, *req.Mode); err != nil {
			respondError(w, r, sessionNotFound(err))
			return
		}
	}
	sess, err := s.Sessions.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, sessionNotFound(err))
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleUpdateSessionMode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var mode persistence.Mode
	if err := json.NewDecoder(r.Body).Decode(&mode); err != nil {
		respondError(w, r, apperr.Wrap(err, apperr.CodeValidation, apperr.TierUserVisible, http.StatusBadRequest, "invalid request body"))
		return
	}
	if err := s.Sessions.UpdateMode(r.Context(), id, mode); err != nil {
		respondError(w, r, sessionNotFound(err))
		return
	}
	sess, err := s.Sessions.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, sessionNotFound(err))
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Sessions.Delete(r.Context(), id); err != nil {
		respondError(w, r, sessionNotFound(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sessionNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return apperr.ErrSessionNotFound
	}
	return err
}
