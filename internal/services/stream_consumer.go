package services

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stashd/internal/models"
)

// ConnState is the stream consumer's connection state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StreamConsumer owns the persistent WebSocket connection to the remote
// asset change feed. Deleted records go straight to cache removal; created
// and updated records go to the fetch queue. The first frame after every
// (re)connect carries the authoritative live-id set and triggers a cache
// reconcile, purging entries deleted while the daemon was disconnected.
//
// The consumer reconnects forever with a fixed delay; this is a long-lived
// background sync, not a user-facing call with a deadline. Close tears the
// connection down and suppresses the reconnect.
type StreamConsumer struct {
	url   string
	cache *AssetCache
	queue *FetchQueue

	dialer         *websocket.Dialer
	reconnectDelay time.Duration

	mu      sync.RWMutex
	conn    *websocket.Conn
	state   ConnState
	started bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewStreamConsumer creates a consumer for the feed at url.
func NewStreamConsumer(url string, cache *AssetCache, queue *FetchQueue) *StreamConsumer {
	return &StreamConsumer{
		url:            url,
		cache:          cache,
		queue:          queue,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: 5 * time.Second,
		stopChan:       make(chan struct{}),
	}
}

// Connect starts the connect/read/reconnect loop. Calling it while the loop
// is already running is a no-op.
func (s *StreamConsumer) Connect() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

// State returns the current connection state.
func (s *StreamConsumer) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Close tears down the connection and stops reconnecting. Close is terminal.
func (s *StreamConsumer) Close() {
	s.mu.Lock()
	select {
	case <-s.stopChan:
		// already closed
	default:
		close(s.stopChan)
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *StreamConsumer) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			s.setState(StateDisconnected)
			return
		default:
		}

		s.setState(StateConnecting)
		if m := GetMetrics(); m != nil {
			m.RecordStreamReconnect()
		}
		conn, _, err := s.dialer.Dial(s.url, nil)
		if err != nil {
			log.Printf("❌ [STREAM] Connection failed: %v (retrying in %v)", err, s.reconnectDelay)
			s.setState(StateDisconnected)
			if !s.sleep() {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.state = StateConnected
		s.mu.Unlock()
		log.Printf("✅ [STREAM] Connected to asset feed")

		s.readLoop(conn)

		s.mu.Lock()
		s.conn = nil
		s.state = StateDisconnected
		s.mu.Unlock()

		select {
		case <-s.stopChan:
			return
		default:
			log.Printf("🔄 [STREAM] Connection lost, reconnecting in %v", s.reconnectDelay)
			if !s.sleep() {
				return
			}
		}
	}
}

// readLoop consumes frames until the connection errors or closes.
func (s *StreamConsumer) readLoop(conn *websocket.Conn) {
	first := true

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				log.Printf("⚠️  [STREAM] Read error: %v", err)
			}
			conn.Close()
			return
		}

		frame, err := models.DecodeStreamFrame(data)
		if err != nil {
			log.Printf("⚠️  [STREAM] Skipping undecodable frame: %v", err)
			continue
		}

		if first {
			first = false
			if frame.IsLiveSet() {
				live := make(map[string]struct{}, len(frame.Assets))
				for _, id := range frame.Assets {
					live[id] = struct{}{}
				}
				s.cache.Reconcile(live)
				continue
			}
			// A change record where the live set was expected: nothing to
			// reconcile against, process it normally.
			log.Printf("⚠️  [STREAM] First frame carried no live set")
		}

		s.handleChange(frame)
	}
}

func (s *StreamConsumer) handleChange(frame *models.StreamFrame) {
	if frame.ID == "" {
		return
	}
	if frame.Deleted {
		s.cache.Remove(frame.ID)
		return
	}
	s.queue.Push(frame.ID)
}

func (s *StreamConsumer) setState(state ConnState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// sleep waits out the reconnect delay, returning false if Close was called.
func (s *StreamConsumer) sleep() bool {
	select {
	case <-s.stopChan:
		return false
	case <-time.After(s.reconnectDelay):
		return true
	}
}
