package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketlink/internal/event"
	"marketlink/internal/model"
)

func testManagerConfig(url string) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = url
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 100 * time.Millisecond
	return cfg
}

// eventRecorder collects published events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	conn   []event.ConnectionEvent
	errors []event.ErrorEvent
}

func newEventRecorder(bus *event.Bus) *eventRecorder {
	r := &eventRecorder{}
	bus.Subscribe(event.TypeConnection, func(e event.Event) {
		r.mu.Lock()
		r.conn = append(r.conn, e.(event.ConnectionEvent))
		r.mu.Unlock()
	})
	bus.Subscribe(event.TypeError, func(e event.Event) {
		r.mu.Lock()
		r.errors = append(r.errors, e.(event.ErrorEvent))
		r.mu.Unlock()
	})
	return r
}

func (r *eventRecorder) states() []model.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ConnectionState, len(r.conn))
	for i, e := range r.conn {
		out[i] = e.State
	}
	return out
}

func (r *eventRecorder) sawState(s model.ConnectionState) bool {
	for _, got := range r.states() {
		if got == s {
			return true
		}
	}
	return false
}

func (r *eventRecorder) fatalErrors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.errors {
		if e.Fatal {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestManager_ConnectIdempotent(t *testing.T) {
	var upgrades int64
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&upgrades, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), event.NewBus(nil), nil)
	defer mgr.Disconnect()

	if err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return mgr.State() == model.Connected })

	// Give a duplicate dial a chance to show up, then count connections.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&upgrades); got != 1 {
		t.Errorf("server saw %d connections, want exactly 1", got)
	}
}

func TestManager_DispatchesInboundFrames(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("frame-1"))
		conn.WriteMessage(websocket.TextMessage, []byte("frame-2"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), event.NewBus(nil), nil)
	defer mgr.Disconnect()

	var mu sync.Mutex
	var frames []string
	mgr.OnMessage(func(data []byte, _ time.Time) {
		mu.Lock()
		frames = append(frames, string(data))
		mu.Unlock()
	})

	if err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if frames[0] != "frame-1" || frames[1] != "frame-2" {
		t.Errorf("frames = %v, want [frame-1 frame-2]", frames)
	}
}

func TestManager_HandlerPanicDoesNotKillReceiveLoop(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("bad"))
		conn.WriteMessage(websocket.TextMessage, []byte("good"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	bus := event.NewBus(nil)
	rec := newEventRecorder(bus)

	mgr := NewManager(testManagerConfig(wsURL(server)), bus, nil)
	defer mgr.Disconnect()

	var mu sync.Mutex
	var delivered []string
	mgr.OnMessage(func(data []byte, _ time.Time) {
		if string(data) == "bad" {
			panic("malformed frame")
		}
		mu.Lock()
		delivered = append(delivered, string(data))
		mu.Unlock()
	})

	if err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	})

	if delivered[0] != "good" {
		t.Errorf("delivered = %v, want [good]", delivered)
	}

	rec.mu.Lock()
	errCount := len(rec.errors)
	rec.mu.Unlock()
	if errCount != 1 {
		t.Errorf("error events = %d, want 1", errCount)
	}
}

func TestManager_SendNotConnectedBuffersAndFlushes(t *testing.T) {
	var mu sync.Mutex
	var received []string

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = append(received, string(msg))
			mu.Unlock()
		}
	})
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), event.NewBus(nil), nil)
	defer mgr.Disconnect()

	for _, msg := range []string{"a", "b", "c"} {
		if err := mgr.Send([]byte(msg)); err != ErrNotConnected {
			t.Errorf("Send(%q) = %v, want ErrNotConnected", msg, err)
		}
	}

	if err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"a", "b", "c"} {
		if received[i] != want {
			t.Errorf("flushed[%d] = %q, want %q (original order)", i, received[i], want)
		}
	}
}

func TestManager_SendBufferDropsOldest(t *testing.T) {
	cfg := testManagerConfig("ws://127.0.0.1:1")
	cfg.SendBufferSize = 2

	mgr := NewManager(cfg, event.NewBus(nil), nil)

	mgr.Send([]byte("oldest"))
	mgr.Send([]byte("mid"))
	mgr.Send([]byte("newest"))

	if got := mgr.Stats().BufferedSends; got != 2 {
		t.Errorf("BufferedSends = %d, want 2", got)
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if string(mgr.sendBuf[0]) != "mid" || string(mgr.sendBuf[1]) != "newest" {
		t.Errorf("sendBuf = [%s %s], want oldest dropped", mgr.sendBuf[0], mgr.sendBuf[1])
	}
}

func TestManager_ReconnectsAfterConnectionLoss(t *testing.T) {
	var connCount int64
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&connCount, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// Kill the first connection immediately.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	bus := event.NewBus(nil)
	rec := newEventRecorder(bus)

	mgr := NewManager(testManagerConfig(wsURL(server)), bus, nil)
	defer mgr.Disconnect()

	if err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return atomic.LoadInt64(&connCount) >= 2 && mgr.State() == model.Connected
	})

	if !rec.sawState(model.Reconnecting) {
		t.Errorf("states = %v, want a Reconnecting transition", rec.states())
	}
}

func TestManager_ReconnectAttemptsExhaustedIsFatal(t *testing.T) {
	cfg := testManagerConfig("ws://127.0.0.1:1") // Nothing listens here
	cfg.ReconnectMaxAttempts = 2

	bus := event.NewBus(nil)
	rec := newEventRecorder(bus)

	mgr := NewManager(cfg, bus, nil)

	if err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return mgr.State() == model.Disconnected })

	if got := rec.fatalErrors(); got != 1 {
		t.Errorf("fatal error events = %d, want 1", got)
	}
}

func TestManager_DisconnectIdempotent(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	bus := event.NewBus(nil)
	rec := newEventRecorder(bus)

	mgr := NewManager(testManagerConfig(wsURL(server)), bus, nil)
	if err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return mgr.State() == model.Connected })

	if err := mgr.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if mgr.State() != model.Disconnected {
		t.Errorf("State = %v, want Disconnected", mgr.State())
	}
	if err := mgr.Disconnect(); err != nil {
		t.Fatalf("second Disconnect failed: %v", err)
	}

	if !rec.sawState(model.ShuttingDown) {
		t.Errorf("states = %v, want a ShuttingDown transition", rec.states())
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second}, // capped
		{10, 8 * time.Second},
	}

	for _, tt := range tests {
		if got := BackoffDelay(base, max, tt.attempt); got != tt.want {
			t.Errorf("BackoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
