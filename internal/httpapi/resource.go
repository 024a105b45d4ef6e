package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"outrigger/internal/platform"
)

type resourceEntry struct {
	Resource   string `json:"resource"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

// handleListResources implements GET /resource.
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]resourceEntry)
	for _, key := range s.store.Keys("resource:*") {
		rv, ok := s.store.Get(key)
		if !ok || rv.Deleted {
			continue
		}
		rid := strings.TrimPrefix(key, "resource:")
		entry := resourceEntry{Resource: rv.Resource.Address}
		if av, ok := s.store.Get("assign:" + rid); ok && !av.Deleted && av.Assignment.Peer != nil {
			entry.AssignedTo = *av.Assignment.Peer
		}
		out[rid] = entry
	}
	respondJSON(w, http.StatusOK, out)
}

type createResourceResponse struct {
	RID string `json:"rid"`
}

// handleCreateResource implements POST /resource: body is a text/plain
// "<ifname>:<ipv4>" value. Per DESIGN.md's Open Question decision #2, the
// minted rid is returned in the 201 body rather than left for the caller
// to discover via GET /resource.
func (s *Server) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	value := strings.TrimSpace(string(body))
	if err := platform.ValidateResourceValue(value); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rid := uuid.New().String()
	s.ctrl.AddResource(rid, time.Now(), value)
	respondJSON(w, http.StatusCreated, createResourceResponse{RID: rid})
}

// handleDeleteResource implements DELETE /resource/<rid>.
func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	rid := mux.Vars(r)["rid"]
	rv, ok := s.store.Get("resource:" + rid)
	if !ok || rv.Deleted {
		respondError(w, http.StatusNotFound, "unknown resource id")
		return
	}
	s.ctrl.RemoveResource(rid)
	w.WriteHeader(http.StatusNoContent)
}
