package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"helmsman/internal/engine"
	"helmsman/internal/saga"
)

func startHubServer(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listener not permitted in this environment: %v", err)
	}

	srv := httptest.NewUnstartedServer(Handler(hub))
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})
	return conn
}

func TestHub_Broadcast(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	conn := startHubServer(t, hub)

	msg := []byte("hello world")
	select {
	case hub.Broadcast <- msg:
	case <-time.After(time.Second):
		t.Fatalf("timed out sending to hub")
	}

	readCh := make(chan []byte, 1)
	go func() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read message: %v", err)
			return
		}
		readCh <- data
	}()

	select {
	case got := <-readCh:
		if string(got) != string(msg) {
			t.Fatalf("expected %q, got %q", msg, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for broadcast")
	}
}

func TestHub_PublishDeliversSagaEvent(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	conn := startHubServer(t, hub)

	hub.Publish(engine.Event{
		SagaID:   "saga-1",
		Workflow: "order-fulfillment",
		Status:   saga.StatusCompleted,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var event engine.Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.SagaID != "saga-1" || event.Status != saga.StatusCompleted {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	t.Parallel()

	// No Run loop draining the channel: publishes beyond the buffer must
	// drop instead of blocking the caller.
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(engine.Event{SagaID: "saga-1", Status: saga.StatusRunning})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full hub")
	}
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	rec := httptest.NewRecorder()
	Handler(hub).ServeHTTP(rec, httptest.NewRequest("GET", "/feed", nil))

	if rec.Code == http.StatusOK {
		t.Fatalf("expected upgrade failure for plain request, got %d", rec.Code)
	}
}
