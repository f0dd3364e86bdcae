package models

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// ServerMessage represents a message pushed to a connected UI client.
type ServerMessage struct {
	Type    string             `json:"type"` // "connected", "assets_snapshot", "history_snapshot", "error"
	Source  string             `json:"source,omitempty"`
	Assets  []Asset            `json:"assets,omitempty"`
	History []CaptureCandidate `json:"history,omitempty"`
	Message string             `json:"message,omitempty"`
	SentAt  time.Time          `json:"sent_at"`
}

// ClientConnection tracks one WebSocket consumer of cache/history snapshots.
type ClientConnection struct {
	ConnID    string
	ClientIP  string
	Conn      *websocket.Conn
	CreatedAt time.Time
	WriteChan chan ServerMessage
	StopChan  chan struct{}
	Mutex     sync.Mutex
	closed    bool
}

// SafeSend sends a message to WriteChan, returning false if the connection
// has been torn down. Snapshot pushes race with disconnects, so a send on a
// closed channel is recovered rather than propagated.
func (cc *ClientConnection) SafeSend(msg ServerMessage) (ok bool) {
	cc.Mutex.Lock()
	if cc.closed {
		cc.Mutex.Unlock()
		return false
	}
	cc.Mutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			cc.MarkClosed()
			ok = false
		}
	}()

	select {
	case cc.WriteChan <- msg:
		return true
	default:
		// Slow consumer: drop this snapshot, a newer one will follow.
		return false
	}
}

// MarkClosed marks the connection as closed.
func (cc *ClientConnection) MarkClosed() {
	cc.Mutex.Lock()
	cc.closed = true
	cc.Mutex.Unlock()
}
