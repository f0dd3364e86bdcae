package handlers

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"stashd/internal/models"
	"stashd/internal/services"
)

// WebSocketHandler handles local UI WebSocket connections. Every client gets
// the current asset and history snapshots on connect and again whenever the
// cache or a history changes; the snapshot fan-out itself is wired up in
// main via the broadcasters.
type WebSocketHandler struct {
	connManager *services.ConnectionManager
	cache       *services.AssetCache
	pipelines   map[string]*services.EnrichmentService
	metrics     *services.Metrics
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(connManager *services.ConnectionManager, cache *services.AssetCache, pipelines map[string]*services.EnrichmentService, metrics *services.Metrics) *WebSocketHandler {
	return &WebSocketHandler{
		connManager: connManager,
		cache:       cache,
		pipelines:   pipelines,
		metrics:     metrics,
	}
}

// clientMessage is what connected clients may send.
type clientMessage struct {
	Type   string `json:"type"` // "get_assets", "get_history", "ping"
	Source string `json:"source,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Handle handles a new WebSocket connection
func (h *WebSocketHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	clientIP, _ := c.Locals("client_ip").(string)

	clientConn := &models.ClientConnection{
		ConnID:    connID,
		ClientIP:  clientIP,
		Conn:      c,
		CreatedAt: time.Now(),
		WriteChan: make(chan models.ServerMessage, 100),
		StopChan:  make(chan struct{}),
	}

	h.connManager.Add(clientConn)
	if h.metrics != nil {
		h.metrics.RecordWebSocketConnect()
	}
	// Remove closes StopChan and WriteChan, which stops the ping and write
	// loops.
	defer func() {
		h.connManager.Remove(connID)
		if h.metrics != nil {
			h.metrics.RecordWebSocketDisconnect()
		}
	}()

	c.SetReadDeadline(time.Now().Add(120 * time.Second))
	c.SetPongHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	go h.pingLoop(clientConn)
	go h.writeLoop(clientConn)

	clientConn.WriteChan <- models.ServerMessage{
		Type:    "connected",
		Message: "stashd connected",
		SentAt:  time.Now(),
	}
	h.sendSnapshots(clientConn)

	h.readLoop(clientConn)
}

// sendSnapshots pushes the current asset list and every source's history.
func (h *WebSocketHandler) sendSnapshots(conn *models.ClientConnection) {
	conn.SafeSend(models.ServerMessage{
		Type:   "assets_snapshot",
		Assets: h.cache.List(0),
		SentAt: time.Now(),
	})
	for name, pipeline := range h.pipelines {
		conn.SafeSend(models.ServerMessage{
			Type:    "history_snapshot",
			Source:  name,
			History: pipeline.History(0),
			SentAt:  time.Now(),
		})
	}
}

// pingLoop keeps the connection alive across idle periods until the
// connection manager closes StopChan.
func (h *WebSocketHandler) pingLoop(conn *models.ClientConnection) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-conn.StopChan:
			return
		case <-ticker.C:
			conn.Mutex.Lock()
			err := conn.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			conn.Mutex.Unlock()
			if err != nil {
				log.Printf("⚠️  Ping failed for %s: %v", conn.ConnID, err)
				return
			}
		}
	}
}

// writeLoop drains the connection's write channel onto the socket.
func (h *WebSocketHandler) writeLoop(conn *models.ClientConnection) {
	for msg := range conn.WriteChan {
		if err := conn.Conn.WriteJSON(msg); err != nil {
			log.Printf("⚠️  Write failed for %s: %v", conn.ConnID, err)
			return
		}
		if h.metrics != nil {
			h.metrics.RecordWebSocketMessage(msg.Type, "outbound")
		}
	}
}

// readLoop handles incoming client messages until the connection drops.
func (h *WebSocketHandler) readLoop(conn *models.ClientConnection) {
	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️  Read error for %s: %v", conn.ConnID, err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			conn.SafeSend(models.ServerMessage{
				Type:    "error",
				Message: "invalid message",
				SentAt:  time.Now(),
			})
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWebSocketMessage(msg.Type, "inbound")
		}

		switch msg.Type {
		case "ping":
			conn.SafeSend(models.ServerMessage{Type: "pong", SentAt: time.Now()})
		case "get_assets":
			conn.SafeSend(models.ServerMessage{
				Type:   "assets_snapshot",
				Assets: h.cache.List(msg.Limit),
				SentAt: time.Now(),
			})
		case "get_history":
			pipeline, ok := h.pipelines[msg.Source]
			if !ok {
				conn.SafeSend(models.ServerMessage{
					Type:    "error",
					Source:  msg.Source,
					Message: "unknown capture source",
					SentAt:  time.Now(),
				})
				continue
			}
			conn.SafeSend(models.ServerMessage{
				Type:    "history_snapshot",
				Source:  msg.Source,
				History: pipeline.History(msg.Limit),
				SentAt:  time.Now(),
			})
		default:
			conn.SafeSend(models.ServerMessage{
				Type:    "error",
				Message: "unknown message type: " + msg.Type,
				SentAt:  time.Now(),
			})
		}
	}
}
