package httpapi

import "net/http"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealthStats reports every wired circuit breaker's state, mirroring
// an ops dashboard: open/closed/half-open plus its last-failure reason.
func (s *Server) handleHealthStats(w http.ResponseWriter, r *http.Request) {
	type breakerStat struct {
		Name        string `json:"name"`
		State       string `json:"state"`
		LastFailure string `json:"lastFailure,omitempty"`
	}
	stats := make([]breakerStat, 0, len(s.Breakers))
	for _, b := range s.Breakers {
		snap := b.Snapshot()
		stats = append(stats, breakerStat{Name: snap.Name, State: snap.State.String(), LastFailure: snap.LastFailure})
	}
	respondJSON(w, http.StatusOK, map[string]any{"breakers": stats})
}
