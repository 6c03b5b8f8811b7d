package handlers

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mfrey/minol-monitor/middleware"
	"github.com/mfrey/minol-monitor/models"
	"github.com/mfrey/minol-monitor/services"
)

// LiveHandler pushes every new snapshot to connected WebSocket clients
// so the frontend does not have to poll between refresh cycles.
type LiveHandler struct {
	jwtSecret string
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewLiveHandler(collector *services.MinolCollector, jwtSecret string) *LiveHandler {
	h := &LiveHandler{
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Access is gated by the token check in Serve, not by
			// origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
	collector.OnSnapshot(h.broadcast)
	return h
}

// Serve upgrades the connection after validating the session token.
// Browsers cannot set an Authorization header on a WebSocket, so the
// token arrives as a query parameter instead.
func (h *LiveHandler) Serve(w http.ResponseWriter, r *http.Request) {
	if _, err := middleware.ParseUserID(h.jwtSecret, r.URL.Query().Get("token")); err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Live] ERROR: WebSocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[Live] Client connected (%d total)", count)

	// Reader loop only to detect disconnects; clients never send data.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *LiveHandler) broadcast(snapshot *models.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(snapshot); err != nil {
			log.Printf("[Live] Dropping client after write error: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *LiveHandler) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[conn] {
		conn.Close()
		delete(h.clients, conn)
		log.Printf("[Live] Client disconnected (%d total)", len(h.clients))
	}
}
