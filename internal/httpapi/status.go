package httpapi

import (
	"io"
	"net/http"
	"strings"
)

// handleGetStatus implements GET /status: the effective status as
// text/plain "up" or "down".
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(statusWord(s.tracker.Effective())))
}

// handlePostStatus implements POST /status: sets the administrative flag
// from a text/plain "up"/"down" body.
func (s *Server) handlePostStatus(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	word := strings.TrimSpace(string(body))
	switch word {
	case "up":
		s.tracker.SetAdministrative(true)
	case "down":
		s.tracker.SetAdministrative(false)
	default:
		respondError(w, http.StatusBadRequest, `body must be exactly "up" or "down"`)
		return
	}
	w.WriteHeader(http.StatusOK)
}
