// Package wshub streams coordination-plane transitions — status changes,
// assignment decisions, leader elections — to connected operators over a
// websocket, adapted from the teacher's internal/websocket.MonitorHub
// (register/unregister/broadcast channel loop) into a hub whose broadcast
// helpers are typed to this domain's events instead of a generic
// (eventType string, data interface{}, level string) triple.
package wshub

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event kinds streamed over GET /ws/status.
const (
	EventStatusChanged    = "status_changed"
	EventAssignmentRun    = "assignment_run"
	EventResourceAssigned = "resource_assigned"
	EventLeaderElected    = "leader_elected"
)

// MonitorEvent is the JSON shape written to every connected client.
type MonitorEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Level     string      `json:"level"` // info, warning, critical
}

// Hub manages websocket connections for the live status broadcast endpoint.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan MonitorEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
}

// New creates an empty Hub. Run must be started in its own goroutine before
// any client can be usefully registered.
func New() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan MonitorEvent, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run is the hub's event loop; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			log.Printf("wshub: status client connected, total: %d", len(h.clients))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mutex.Unlock()
			log.Printf("wshub: status client disconnected, total: %d", len(h.clients))

		case event := <-h.broadcast:
			// Use Lock (not RLock): a failed write deletes the client from the map.
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(event); err != nil {
					log.Printf("wshub: write error: %v", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a new client connection.
func (h *Hub) Register(conn *websocket.Conn) { h.register <- conn }

// Unregister removes a client connection.
func (h *Hub) Unregister(conn *websocket.Conn) { h.unregister <- conn }

func (h *Hub) emit(eventType string, data interface{}, level string) {
	event := MonitorEvent{Type: eventType, Timestamp: time.Now(), Data: data, Level: level}
	select {
	case h.broadcast <- event:
	default:
		log.Printf("wshub: broadcast channel full, dropping %s event", eventType)
	}
}

// statusChangedData is the payload of an EventStatusChanged event.
type statusChangedData struct {
	Peer string `json:"peer"`
	Up   bool   `json:"up"`
}

// BroadcastStatusChange streams a private:status transition for peer.
func (h *Hub) BroadcastStatusChange(peer string, up bool) {
	level := "info"
	if !up {
		level = "warning"
	}
	h.emit(EventStatusChanged, statusChangedData{Peer: peer, Up: up}, level)
}

// leaderElectedData is the payload of an EventLeaderElected event.
type leaderElectedData struct {
	Leader   string `json:"leader"`
	IsLeader bool   `json:"is_leader"`
}

// BroadcastLeaderElected streams the outcome of an election round.
func (h *Hub) BroadcastLeaderElected(isLeader bool, leader string) {
	h.emit(EventLeaderElected, leaderElectedData{Leader: leader, IsLeader: isLeader}, "info")
}

// resourceAssignedData is the payload of an EventResourceAssigned event.
type resourceAssignedData struct {
	Resource   string `json:"resource"`
	AssignToMe bool   `json:"assign_to_me"`
}

// BroadcastResourceAssigned streams a single assign_resource dispatch.
func (h *Hub) BroadcastResourceAssigned(rid string, assignToMe bool) {
	h.emit(EventResourceAssigned, resourceAssignedData{Resource: rid, AssignToMe: assignToMe}, "info")
}

// assignmentRunData is the payload of an EventAssignmentRun event.
type assignmentRunData struct {
	Peers []string `json:"peers"`
}

// BroadcastAssignmentRun streams the eligible-peer set used by the most
// recent assignment pass.
func (h *Hub) BroadcastAssignmentRun(peers []string) {
	h.emit(EventAssignmentRun, assignmentRunData{Peers: peers}, "info")
}
