// Package httpapi implements the coordination plane's HTTP/JSON admin
// surface, grounded on the teacher's internal/handlers package: a
// gorilla/mux router, small per-concern handler files, and the same
// respondJSON/respondError helper shape the teacher uses throughout.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"outrigger/internal/controller"
	"outrigger/internal/election"
	"outrigger/internal/health"
	"outrigger/internal/store"
	"outrigger/internal/wshub"
)

// Neighborhood is the subset of internal/gossip.Gossip the HTTP surface
// needs to render GET /info.
type Neighborhood interface {
	LivePeers() []string
	DeadPeers() []string
	StatusUp(peer string) bool
	HealthScore() int
	Self() string
}

// Server holds every dependency the admin HTTP surface dispatches into.
// It never owns goroutines of its own beyond the stdlib http.Server the
// caller constructs around Router().
type Server struct {
	store   *store.Store
	ctrl    *controller.Controller
	elect   *election.Election
	peers   Neighborhood
	tracker *health.Tracker
	hub     *wshub.Hub
}

// New builds a Server. hub may be nil to disable the GET /ws/status
// endpoint entirely (registered as a 404 in that case).
func New(s *store.Store, ctrl *controller.Controller, e *election.Election, peers Neighborhood, tracker *health.Tracker, hub *wshub.Hub) *Server {
	return &Server{store: s, ctrl: ctrl, elect: e, peers: peers, tracker: tracker, hub: hub}
}

// Router builds the gorilla/mux router implementing SPEC_FULL.md §6's
// table exactly, plus the supplementary GET /ws/status broadcast.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/info", s.handleInfo).Methods("GET")
	r.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	r.HandleFunc("/status", s.handlePostStatus).Methods("POST")
	r.HandleFunc("/resource", s.handleListResources).Methods("GET")
	r.HandleFunc("/resource", s.handleCreateResource).Methods("POST")
	r.HandleFunc("/resource/{rid}", s.handleDeleteResource).Methods("DELETE")
	if s.hub != nil {
		r.HandleFunc("/ws/status", s.handleWSStatus)
	}
	return r
}

// respondJSON writes a JSON payload with the given status code, matching
// the teacher's handlers.respondJSON.
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError writes a JSON error body, matching the teacher's
// handlers.respondError.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
