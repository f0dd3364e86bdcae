package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"stashd/internal/broadcast"
	"stashd/internal/models"
	"stashd/internal/store"
)

// feedServer is a scripted stand-in for the remote asset feed. Each accepted
// connection is handed to the test through the conns channel.
type feedServer struct {
	server *httptest.Server
	conns  chan *websocket.Conn
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *feedServer) url() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http")
}

func (fs *feedServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

func newConsumerUnderTest(t *testing.T, url string) (*StreamConsumer, *AssetCache, *mockFetcher) {
	t.Helper()
	cache := NewAssetCache(store.NewMemory(), broadcast.New[[]models.Asset]("assets-test"))
	fetcher := newMockFetcher()
	queue := NewFetchQueue(cache, fetcher)
	queue.retryBase = time.Millisecond

	consumer := NewStreamConsumer(url, cache, queue)
	consumer.reconnectDelay = 20 * time.Millisecond
	t.Cleanup(consumer.Close)
	return consumer, cache, fetcher
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestStreamConsumer_FirstFrameReconciles(t *testing.T) {
	fs := newFeedServer(t)
	consumer, cache, _ := newConsumerUnderTest(t, fs.url())

	// Pre-populate as if restored from a previous run; "a" was deleted
	// remotely while we were offline.
	cache.UpsertMany([]models.Asset{asset("a", "stale"), asset("b", "kept")})

	consumer.Connect()
	conn := fs.accept(t)

	send(t, conn, `{"assets":["b","c"]}`)

	waitFor(t, func() bool {
		_, ok := cache.Get("a")
		return !ok
	})
	if _, ok := cache.Get("b"); !ok {
		t.Error("b should survive reconcile")
	}
}

func TestStreamConsumer_RoutesChangeRecords(t *testing.T) {
	fs := newFeedServer(t)
	consumer, cache, fetcher := newConsumerUnderTest(t, fs.url())

	cache.UpsertMany([]models.Asset{asset("old", "doomed")})

	consumer.Connect()
	conn := fs.accept(t)

	send(t, conn, `{"assets":["old"]}`)
	send(t, conn, `{"id":"new-1"}`)
	send(t, conn, `{"id":"old","deleted":true}`)

	waitFor(t, func() bool {
		_, gone := cache.Get("old")
		_, added := cache.Get("new-1")
		return !gone && added
	})

	if n := fetcher.callCount("new-1"); n != 1 {
		t.Errorf("fetch count for new-1 = %d, want 1", n)
	}
	if n := fetcher.callCount("old"); n != 0 {
		t.Errorf("deleted id was fetched %d times, want 0", n)
	}
}

func TestStreamConsumer_ReconnectsAndReconcilesAgain(t *testing.T) {
	fs := newFeedServer(t)
	consumer, cache, _ := newConsumerUnderTest(t, fs.url())

	consumer.Connect()
	conn := fs.accept(t)
	send(t, conn, `{"assets":["x"]}`)
	send(t, conn, `{"id":"x"}`)

	waitFor(t, func() bool {
		_, ok := cache.Get("x")
		return ok
	})

	// Drop the connection; the consumer must dial again and treat the next
	// first frame as a live set. "x" was deleted server-side meanwhile.
	conn.Close()
	conn2 := fs.accept(t)
	send(t, conn2, `{"assets":["y"]}`)

	waitFor(t, func() bool {
		_, ok := cache.Get("x")
		return !ok
	})
	if consumer.State() != StateConnected {
		t.Errorf("State = %v, want connected", consumer.State())
	}
}

func TestStreamConsumer_ConnectIsIdempotent(t *testing.T) {
	fs := newFeedServer(t)
	consumer, _, _ := newConsumerUnderTest(t, fs.url())

	consumer.Connect()
	consumer.Connect()
	consumer.Connect()

	fs.accept(t)

	// Only one connection may arrive.
	select {
	case <-fs.conns:
		t.Fatal("second connection dialed; Connect is not idempotent")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStreamConsumer_CloseSuppressesReconnect(t *testing.T) {
	fs := newFeedServer(t)
	consumer, _, _ := newConsumerUnderTest(t, fs.url())

	consumer.Connect()
	fs.accept(t)

	consumer.Close()

	select {
	case <-fs.conns:
		t.Fatal("reconnected after Close")
	case <-time.After(100 * time.Millisecond):
	}
	if consumer.State() != StateDisconnected {
		t.Errorf("State after Close = %v, want disconnected", consumer.State())
	}
}
