package httpapi

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWSStatus implements the supplementary GET /ws/status broadcast:
// upgrades to a websocket and streams the wshub.MonitorEvent JSON the
// daemon broadcasts: this peer's own effective-status transitions, each
// assign: dispatch to the platform shim, election outcomes, and assignment
// runs. Other peers' private:status changes are not streamed.
func (s *Server) handleWSStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket upgrade error: %v", err)
		return
	}
	s.hub.Register(conn)
	go func() {
		defer s.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("httpapi: websocket error: %v", err)
				}
				return
			}
		}
	}()
}
