package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dmorgan81/stabilitystudio/internal/log"
	"github.com/dmorgan81/stabilitystudio/internal/metrics"
	"github.com/dmorgan81/stabilitystudio/internal/session"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// hub tracks websocket clients waiting for session events.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *hub) add(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	metrics.AddEventClients(1)
}

func (h *hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		metrics.AddEventClients(-1)
		_ = c.Close()
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) broadcast(ctx context.Context, ev session.Event) {
	log := log.FromContextOrDiscard(ctx).WithGroup("events")

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteJSON(ev); err != nil {
			log.Warn("dropping event client", "remote", c.RemoteAddr().String(), "error", err)
			delete(h.clients, c)
			metrics.AddEventClients(-1)
			_ = c.Close()
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session stopped"),
			time.Now().Add(writeWait))
		_ = c.Close()
		delete(h.clients, c)
		metrics.AddEventClients(-1)
	}
}

// GET /api/v1/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := log.FromContextOrDiscard(r.Context()).WithGroup("events")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.add(conn)

	// clients only listen; reading detects when they go away
	go func() {
		defer s.hub.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
