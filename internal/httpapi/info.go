package httpapi

import "net/http"

// deadPeerPhi is reported for any peer in the dead set. memberlist is a
// SWIM implementation, not phi-accrual, so there is no real per-remote-peer
// phi value to surface; this fixed sentinel distinguishes "confirmed dead"
// in GET /info from live peers (reported as 0) and from self (reported as
// its own memberlist health score) without claiming a precision the
// transport doesn't provide.
const deadPeerPhi = 100

type neighborEntry struct {
	Alive  bool   `json:"alive"`
	Phi    int    `json:"phi"`
	Status string `json:"status"`
}

type infoResponse struct {
	Neighborhood map[string]neighborEntry `json:"neighborhood"`
	Connectivity string                   `json:"connectivity"`
}

func statusWord(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

// handleInfo implements GET /info.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	neighborhood := make(map[string]neighborEntry)

	neighborhood[s.peers.Self()] = neighborEntry{
		Alive:  true,
		Phi:    s.peers.HealthScore(),
		Status: statusWord(s.tracker.Effective()),
	}
	for _, peer := range s.peers.LivePeers() {
		neighborhood[peer] = neighborEntry{
			Alive:  true,
			Phi:    0,
			Status: statusWord(s.peers.StatusUp(peer)),
		}
	}
	for _, peer := range s.peers.DeadPeers() {
		neighborhood[peer] = neighborEntry{
			Alive:  false,
			Phi:    deadPeerPhi,
			Status: statusWord(false),
		}
	}

	respondJSON(w, http.StatusOK, infoResponse{
		Neighborhood: neighborhood,
		Connectivity: statusWord(s.tracker.Connectivity()),
	})
}
