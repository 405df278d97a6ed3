package httpapi

import (
	"errors"
	"io"
	"net/http"

	"ragchat/internal/apperr"
	"ragchat/internal/persistence"
)

const maxUploadMemory = 32 << 20

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondError(w, r, apperr.Wrap(err, apperr.CodeValidation, apperr.TierUserVisible, http.StatusBadRequest, "invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, apperr.Wrap(err, apperr.CodeValidation, apperr.TierUserVisible, http.StatusBadRequest, "missing file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, apperr.Wrap(err, apperr.CodeInternal, apperr.TierFatal, http.StatusInternalServerError, "read upload"))
		return
	}

	mimeType := header.Header.Get("Content-Type")

	doc, err := s.Lifecycle.Upload(r.Context(), sessionID, header.Filename, mimeType, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	docs, err := s.Documents.ListBySession(r.Context(), sessionID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.Documents.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, documentNotFound(err))
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleReprocessDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Lifecycle.Reprocess(r.Context(), id); err != nil {
		respondError(w, r, documentNotFound(err))
		return
	}
	doc, err := s.Documents.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, documentNotFound(err))
		return
	}
	respondJSON(w, http.StatusAccepted, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Lifecycle.Delete(r.Context(), id); err != nil {
		respondError(w, r, documentNotFound(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	imageID := r.PathValue("iid")
	img, err := s.Images.Get(r.Context(), imageID)
	if err != nil {
		respondError(w, r, documentNotFound(err))
		return
	}
	rc, attrs, err := s.Objects.Get(r.Context(), img.ObjectKey)
	if err != nil {
		respondError(w, r, apperr.Wrap(err, apperr.CodeDocumentNotFound, apperr.TierUserVisible, http.StatusNotFound, "image blob not found"))
		return
	}
	defer rc.Close()
	if attrs.ContentType != "" {
		w.Header().Set("Content-Type", attrs.ContentType)
	}
	_, _ = io.Copy(w, rc)
}

func documentNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return apperr.ErrDocumentNotFound
	}
	return err
}
