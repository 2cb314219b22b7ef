package webserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nantokaworks/triad-arena/internal/broadcast"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var errBroadcastFull = errors.New("websocket broadcast channel full")

// WSMessage is the envelope pushed to room listeners.
type WSMessage struct {
	Type   string          `json:"type"`
	RoomID string          `json:"room_id,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// WSClient is one connection subscribed to one room.
type WSClient struct {
	conn        *websocket.Conn
	send        chan []byte
	clientID    string
	roomID      string
	connectedAt time.Time
}

type roomFrame struct {
	roomID string
	data   []byte
}

// WSHub fans room events out to the clients subscribed to that room.
type WSHub struct {
	rooms      map[string]map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan roomFrame
	mu         sync.RWMutex
	startOnce  sync.Once
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var wsHub = newWSHub()

func newWSHub() *WSHub {
	return &WSHub{
		rooms:      make(map[string]map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan roomFrame, sendBuffer),
	}
}

// StartWSHub starts the hub once and installs it as the broadcast transport.
func StartWSHub() {
	wsHub.startOnce.Do(func() {
		go wsHub.run()
	})
	broadcast.SetSender(wsHub)
}

func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.roomID] == nil {
				h.rooms[client.roomID] = make(map[*WSClient]bool)
			}
			h.rooms[client.roomID][client] = true
			total := len(h.rooms[client.roomID])
			h.mu.Unlock()

			logger.Info("WebSocket client connected",
				zap.String("clientId", client.clientID),
				zap.String("room_id", client.roomID),
				zap.Int("room_clients", total))

			connMsg := WSMessage{
				Type:   "connected",
				RoomID: client.roomID,
				Data:   json.RawMessage(`{"clientId":"` + client.clientID + `"}`),
			}
			if data, err := json.Marshal(connMsg); err == nil {
				select {
				case client.send <- data:
				default:
				}
			}

		case client := <-h.unregister:
			h.remove(client)

		case frame := <-h.broadcast:
			h.mu.RLock()
			for client := range h.rooms[frame.roomID] {
				select {
				case client.send <- frame.data:
				default:
					// Slow consumer: drop it.
					go func(c *WSClient) {
						h.unregister <- c
						c.conn.Close()
					}(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *WSHub) remove(client *WSClient) {
	h.mu.Lock()
	clients, ok := h.rooms[client.roomID]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.rooms, client.roomID)
	}
	close(client.send)
	h.mu.Unlock()

	logger.Info("WebSocket client disconnected",
		zap.String("clientId", client.clientID),
		zap.String("room_id", client.roomID))
}

// SendToRoom queues an event for every client of roomID. Rooms nobody
// listens to are a no-op.
func (h *WSHub) SendToRoom(roomID, msgType string, data any) error {
	h.mu.RLock()
	listeners := len(h.rooms[roomID])
	h.mu.RUnlock()
	if listeners == 0 {
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(WSMessage{Type: msgType, RoomID: roomID, Data: payload})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- roomFrame{roomID: roomID, data: frame}:
		logger.Debug("WebSocket message queued", zap.String("room_id", roomID), zap.String("message_type", msgType))
		return nil
	default:
		logger.Warn("WebSocket broadcast channel full, message dropped", zap.String("room_id", roomID))
		return errBroadcastFull
	}
}

// ClientCount returns the number of connected clients across all rooms.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.rooms {
		n += len(clients)
	}
	return n
}

func (h *WSHub) closeAll() {
	h.mu.RLock()
	var all []*WSClient
	for _, clients := range h.rooms {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.conn.Close()
	}
}

// handleWS upgrades a connection subscribed to ?room=<id>.
func handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(r.URL.Query().Get("room"))
	if roomID == "" {
		writeError(w, &apiError{message: "room is required", status: http.StatusBadRequest})
		return
	}
	if _, err := localdb.GetRoom(roomID); err != nil {
		writeError(w, err)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = generateClientID()
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	client := &WSClient{
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		clientID:    clientID,
		roomID:      roomID,
		connectedAt: time.Now(),
	}

	wsHub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		wsHub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Posting goes through the HTTP API; inbound frames only keep the
	// connection alive.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func generateClientID() string {
	id, err := localdb.GenerateID()
	if err != nil {
		return "ws-" + time.Now().Format("150405.000000000")
	}
	return "ws-" + id
}

// RegisterWebSocketRoute mounts /ws and makes broadcast.Warmup able to start
// the hub when an event arrives before it is running.
func RegisterWebSocketRoute(mux *http.ServeMux) {
	mux.HandleFunc("/ws", handleWS)

	broadcast.SetWarmup(StartWSHub)
	StartWSHub()
}
