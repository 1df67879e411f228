package connection

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veloserve/tracksync/internal/model"
	"github.com/veloserve/tracksync/internal/router"
)

// msgRecorder collects client→server events by name.
type msgRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *msgRecorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *msgRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// startAuthServer runs a push server that acknowledges authenticate and
// records every other inbound event. push receives the connection once
// authentication completed, for server-initiated messages.
func startAuthServer(t *testing.T, rec *msgRecorder, push func(*websocket.Conn)) *httptest.Server {
	return mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var env struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}

			if env.Event == "authenticate" {
				ack := `{"event":"authenticated","data":{"identity":"user-1","role":"user"}}`
				conn.WriteMessage(websocket.TextMessage, []byte(ack))
				if push != nil {
					push(conn)
				}
				continue
			}

			rec.add(env.Event)
		}
	})
}

func testManagerConfig(url string) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = url
	cfg.AuthTimeout = 2 * time.Second
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 50 * time.Millisecond
	return cfg
}

// waitForState drains states until target appears, recording the path.
func waitForState(t *testing.T, states <-chan State, target State) []State {
	t.Helper()
	var path []State
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			path = append(path, s)
			if s == target {
				return path
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q, saw %v", target, path)
		}
	}
}

func TestManager_ConnectStateSequence(t *testing.T) {
	rec := &msgRecorder{}
	server := startAuthServer(t, rec, nil)
	defer server.Close()

	r := router.New(nil)
	m := NewManager(testManagerConfig(wsURL(server)), r, nil)

	states := make(chan State, 32)
	unsub := m.OnStateChange(func(s State) { states <- s })
	defer unsub()

	// Send before connect is a logged drop, never a panic.
	m.Send("order:ack", map[string]string{"order_id": "ORD-1"})

	if err := m.Connect(context.Background(), "user-1", model.RoleUser); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	path := waitForState(t, states, StateAuthenticated)

	want := []State{StateConnecting, StateConnected, StateAuthenticating, StateAuthenticated}
	if len(path) != len(want) {
		t.Fatalf("state path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("state path = %v, want %v", path, want)
		}
	}

	// Send after authenticated reaches the transport.
	m.Send("order:ack", map[string]string{"order_id": "ORD-1"})

	deadline := time.After(2 * time.Second)
	for {
		if events := rec.snapshot(); len(events) > 0 {
			if events[0] != "order:ack" {
				t.Errorf("server received %v, want [order:ack]", events)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for server to receive send")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestManager_DroppedSendNotDelivered(t *testing.T) {
	rec := &msgRecorder{}
	server := startAuthServer(t, rec, nil)
	defer server.Close()

	r := router.New(nil)
	m := NewManager(testManagerConfig(wsURL(server)), r, nil)

	m.Send("order:ack", nil) // disconnected: dropped

	if err := m.Connect(context.Background(), "user-1", model.RoleUser); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	states := make(chan State, 32)
	defer m.OnStateChange(func(s State) { states <- s })()
	if m.State() != StateAuthenticated {
		waitForState(t, states, StateAuthenticated)
	}
	time.Sleep(50 * time.Millisecond)

	if events := rec.snapshot(); len(events) != 0 {
		t.Errorf("server received %v, want none (pre-auth sends are dropped)", events)
	}
}

func TestManager_DispatchesDecodedEvents(t *testing.T) {
	orderEvent := `{"event":"order:status_updated","data":{"order_id":"ORD-9","status":"on_way"}}`

	rec := &msgRecorder{}
	server := startAuthServer(t, rec, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(orderEvent))
	})
	defer server.Close()

	r := router.New(nil)
	got := make(chan router.Event, 1)
	r.On(router.TopicStatusUpdated, "test", func(e router.Event) { got <- e })

	m := NewManager(testManagerConfig(wsURL(server)), r, nil)
	if err := m.Connect(context.Background(), "user-1", model.RoleUser); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	select {
	case ev := <-got:
		up, ok := ev.(router.StatusUpdated)
		if !ok {
			t.Fatalf("event type = %T, want StatusUpdated", ev)
		}
		if up.OrderID != "ORD-9" || up.Status != model.StatusOnWay {
			t.Errorf("event = %+v", up)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dispatched event")
	}
}

func TestManager_JoinRoomFlushedAfterAuth(t *testing.T) {
	rec := &msgRecorder{}
	server := startAuthServer(t, rec, nil)
	defer server.Close()

	r := router.New(nil)
	m := NewManager(testManagerConfig(wsURL(server)), r, nil)

	// Requested before the channel exists: buffered, not lost.
	m.JoinRoom("dispatch")
	m.JoinRoom("dispatch") // idempotent

	states := make(chan State, 32)
	defer m.OnStateChange(func(s State) { states <- s })()

	if err := m.Connect(context.Background(), "admin-1", model.RoleAdmin); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	waitForState(t, states, StateAuthenticated)

	deadline := time.After(2 * time.Second)
	for {
		events := rec.snapshot()
		if len(events) > 0 {
			if len(events) != 1 || events[0] != "join_room" {
				t.Errorf("server received %v, want [join_room]", events)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for join_room")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestManager_AuthTimeoutTriggersReconnect(t *testing.T) {
	// Server accepts the socket but never acknowledges authentication.
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.AuthTimeout = 50 * time.Millisecond
	cfg.MaxReconnectAttempts = 2

	r := router.New(nil)
	m := NewManager(cfg, r, nil)

	states := make(chan State, 64)
	defer m.OnStateChange(func(s State) { states <- s })()

	if err := m.Connect(context.Background(), "user-1", model.RoleUser); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer m.Disconnect()

	path := waitForState(t, states, StateFailed)

	sawReconnecting := false
	for _, s := range path {
		if s == StateAuthenticated {
			t.Fatalf("reached Authenticated without ack, path %v", path)
		}
		if s == StateReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Errorf("state path %v, want Reconnecting before Failed", path)
	}
}

func TestManager_ReleaseDisconnectsLastSession(t *testing.T) {
	rec := &msgRecorder{}
	server := startAuthServer(t, rec, nil)
	defer server.Close()

	r := router.New(nil)
	m := NewManager(testManagerConfig(wsURL(server)), r, nil)

	states := make(chan State, 32)
	defer m.OnStateChange(func(s State) { states <- s })()

	m.Acquire()
	m.Acquire()

	if err := m.Connect(context.Background(), "user-1", model.RoleUser); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitForState(t, states, StateAuthenticated)

	m.Release()
	if m.State() != StateAuthenticated {
		t.Errorf("state after first Release = %q, want authenticated", m.State())
	}

	m.Release()
	if m.State() != StateDisconnected {
		t.Errorf("state after last Release = %q, want disconnected", m.State())
	}
}

func TestManager_BackoffDelay(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.ReconnectBaseDelay = time.Second
	cfg.ReconnectMaxDelay = 10 * time.Second
	m := NewManager(cfg, router.New(nil), nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{9, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := m.backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
