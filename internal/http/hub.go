package http

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"classroom-voice-capture/internal/observability/logging"
	"classroom-voice-capture/internal/service/pipeline"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control API is served to a local classroom host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans pipeline updates out to websocket clients. Run owns the client
// set; everything else talks to it through channels.
type Hub struct {
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan pipeline.Update
	done       chan struct{}
	clients    atomic.Int64
	logger     zerolog.Logger
}

// NewHub creates a hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan pipeline.Update, 256),
		done:       make(chan struct{}),
		logger:     logging.WithComponent("ws-hub"),
	}
}

// Run serves the hub until ctx is done, then delivers any queued updates
// and closes every client.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*websocket.Conn]bool)
	defer func() {
		close(h.done)
		for conn := range clients {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
		}
		h.clients.Store(0)
	}()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case u := <-h.broadcast:
					h.send(clients, u)
				default:
					return
				}
			}

		case conn := <-h.register:
			clients[conn] = true
			h.clients.Store(int64(len(clients)))
			h.logger.Debug().Int("clients", len(clients)).Msg("Client connected")

		case conn := <-h.unregister:
			if _, ok := clients[conn]; ok {
				delete(clients, conn)
				conn.Close()
				h.clients.Store(int64(len(clients)))
				h.logger.Debug().Int("clients", len(clients)).Msg("Client disconnected")
			}

		case u := <-h.broadcast:
			h.send(clients, u)
		}
	}
}

func (h *Hub) send(clients map[*websocket.Conn]bool, u pipeline.Update) {
	for conn := range clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(u); err != nil {
			h.logger.Debug().Err(err).Msg("Write failed, dropping client")
			delete(clients, conn)
			conn.Close()
		}
	}
	h.clients.Store(int64(len(clients)))
}

// Broadcast queues u for every client. Updates are dropped when the hub is
// behind.
func (h *Hub) Broadcast(u pipeline.Update) {
	select {
	case h.broadcast <- u:
	default:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.clients.Load())
}

// serve upgrades the request, sends first, then keeps the connection
// registered until the client goes away.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, first any) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(first); err != nil {
		conn.Close()
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
