package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ragchat/internal/apperr"
)

// errorEnvelope is the stable REST error shape every failed request returns.
type errorEnvelope struct {
	ErrorID   string `json:"errorId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError maps any error to the stable envelope via apperr's code/tier/
// status classification, defaulting to CodeInternal/500 for unclassified
// errors.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	message := err.Error()
	details := ""
	if ae, ok := apperr.As(err); ok {
		message = ae.Message
		if ae.Err != nil {
			details = ae.Err.Error()
		}
	}
	respondJSON(w, apperr.StatusOf(err), errorEnvelope{
		ErrorID:   uuid.NewString(),
		Code:      apperr.CodeOf(err),
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	})
}
