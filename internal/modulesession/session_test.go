package modulesession

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oritocare/companion/internal/core"
)

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{10, 30 * time.Second},
		{0, 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			if got := ReconnectDelay(tt.attempt); got != tt.want {
				t.Errorf("ReconnectDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
			}
		})
	}
}

// moduleServer is a stand-in Aura module WebSocket endpoint.
type moduleServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan map[string]interface{}
}

func newModuleServer(t *testing.T) *moduleServer {
	t.Helper()
	m := &moduleServer{frames: make(chan map[string]interface{}, 16)}

	upgrader := websocket.Upgrader{}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		for {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			m.frames <- frame
		}
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *moduleServer) addr(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(m.srv.URL[len("http://"):])
	if err != nil {
		t.Fatalf("split %s: %v", m.srv.URL, err)
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func (m *moduleServer) send(t *testing.T, frame map[string]interface{}) {
	t.Helper()
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		t.Fatal("no client connected")
	}
	data, _ := json.Marshal(frame)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("server send: %v", err)
	}
}

func (m *moduleServer) closeClient(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		t.Fatal("no client connected")
	}
	conn.Close()
}

func (m *moduleServer) nextFrame(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case frame := <-m.frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client frame")
		return nil
	}
}

func TestSessionConnectHandshake(t *testing.T) {
	server := newModuleServer(t)
	ip, port := server.addr(t)

	states := make(chan core.ConnectionState, 8)
	messages := make(chan map[string]interface{}, 8)

	s := NewSession(nil)
	s.Connect(ip, port, "patient-123", "token-abc",
		func(frame map[string]interface{}) { messages <- frame },
		func(state core.ConnectionState) { states <- state })
	defer s.Disconnect()

	// Optimistic connected at socket open.
	if got := waitState(t, states); got != core.StateConnecting {
		t.Fatalf("first state = %s, want connecting", got)
	}
	if got := waitState(t, states); got != core.StateConnected {
		t.Fatalf("second state = %s, want connected", got)
	}
	if !s.IsConnected() {
		t.Error("IsConnected() = false after open")
	}

	handshake := server.nextFrame(t)
	if handshake["command"] != "connect" {
		t.Errorf("handshake command = %v, want connect", handshake["command"])
	}
	if handshake["patient_uid"] != "patient-123" {
		t.Errorf("handshake patient_uid = %v, want patient-123", handshake["patient_uid"])
	}
	if handshake["auth_token"] != "token-abc" {
		t.Errorf("handshake auth_token = %v, want token-abc", handshake["auth_token"])
	}
}

func TestSessionForwardsServerFrames(t *testing.T) {
	server := newModuleServer(t)
	ip, port := server.addr(t)

	messages := make(chan map[string]interface{}, 8)
	s := NewSession(nil)
	s.Connect(ip, port, "p", "t",
		func(frame map[string]interface{}) { messages <- frame },
		nil)
	defer s.Disconnect()

	server.nextFrame(t) // drain the handshake

	server.send(t, map[string]interface{}{"event": "person_detected", "name": "Maria"})

	select {
	case frame := <-messages:
		if frame["event"] != "person_detected" || frame["name"] != "Maria" {
			t.Errorf("frame = %v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server frame was not forwarded")
	}
}

func TestSessionSend(t *testing.T) {
	server := newModuleServer(t)
	ip, port := server.addr(t)

	s := NewSession(nil)
	s.Connect(ip, port, "p", "t", nil, nil)
	defer s.Disconnect()

	server.nextFrame(t) // drain the handshake

	if err := s.Send("identify_person", map[string]interface{}{"source": "app"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	frame := server.nextFrame(t)
	if frame["command"] != "identify_person" || frame["source"] != "app" {
		t.Errorf("frame = %v", frame)
	}
}

func TestSessionSendWhileDisconnected(t *testing.T) {
	s := NewSession(nil)
	if err := s.Send("ping", nil); err != core.ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestSessionExplicitDisconnect(t *testing.T) {
	server := newModuleServer(t)
	ip, port := server.addr(t)

	s := NewSession(nil)
	s.Connect(ip, port, "p", "t", nil, nil)
	server.nextFrame(t)

	s.Disconnect()

	if s.State() != core.StateDisconnected {
		t.Errorf("state = %s, want disconnected", s.State())
	}

	// The attempt budget is saturated, so the close event from the dying
	// socket must not schedule a reconnect.
	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	timer := s.retryTimer
	s.mu.Unlock()
	if timer != nil {
		t.Error("reconnect timer armed after explicit disconnect")
	}
}

func TestSessionReconnectSchedulingOnDialFailure(t *testing.T) {
	var states []core.ConnectionState
	var mu sync.Mutex

	s := NewSession(nil)
	s.dial = func(url string) (*websocket.Conn, error) {
		return nil, fmt.Errorf("connection refused")
	}

	s.Connect("192.0.2.1", 8765, "p", "t", nil, func(state core.ConnectionState) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	})

	mu.Lock()
	got := append([]core.ConnectionState(nil), states...)
	mu.Unlock()
	want := []core.ConnectionState{core.StateConnecting, core.StateReconnecting}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("states = %v, want %v", got, want)
	}

	s.mu.Lock()
	attempts := s.attempts
	timer := s.retryTimer
	s.mu.Unlock()
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if timer == nil {
		t.Error("no single-shot retry timer armed")
	}

	s.Disconnect()
}

func TestSessionServerCloseStateSequence(t *testing.T) {
	server := newModuleServer(t)
	ip, port := server.addr(t)

	states := make(chan core.ConnectionState, 8)
	s := NewSession(nil)
	s.Connect(ip, port, "p", "t", nil, func(state core.ConnectionState) { states <- state })
	defer s.Disconnect()

	server.nextFrame(t) // drain the handshake
	if got := waitState(t, states); got != core.StateConnecting {
		t.Fatalf("first state = %s, want connecting", got)
	}
	if got := waitState(t, states); got != core.StateConnected {
		t.Fatalf("second state = %s, want connected", got)
	}

	// A lost live session goes down before the retry cycle starts.
	server.closeClient(t)
	if got := waitState(t, states); got != core.StateDisconnected {
		t.Fatalf("state after close = %s, want disconnected", got)
	}
	if got := waitState(t, states); got != core.StateReconnecting {
		t.Fatalf("state after disconnected = %s, want reconnecting", got)
	}
}

func TestSessionConcurrentConnects(t *testing.T) {
	s := NewSession(nil)
	s.dial = func(url string) (*websocket.Conn, error) {
		return nil, fmt.Errorf("connection refused")
	}

	// Each Connect rewrites the credentials a retry-timer dial reads;
	// run under -race this catches unsynchronized access.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Connect("192.0.2.1", 8765, fmt.Sprintf("patient-%d", i), fmt.Sprintf("token-%d", i), nil, nil)
		}(i)
	}
	wg.Wait()

	s.Disconnect()
	if s.State() != core.StateDisconnected {
		t.Errorf("state = %s, want disconnected", s.State())
	}
}

func TestSessionGivesUpAfterMaxAttempts(t *testing.T) {
	s := NewSession(nil)
	s.dial = func(url string) (*websocket.Conn, error) {
		return nil, fmt.Errorf("connection refused")
	}

	s.mu.Lock()
	s.attempts = MaxReconnectAttempts
	s.ip, s.port = "192.0.2.1", 8765
	s.mu.Unlock()

	s.handleClose()

	if s.State() != core.StateDisconnected {
		t.Errorf("state = %s, want disconnected", s.State())
	}
	s.mu.Lock()
	timer := s.retryTimer
	s.mu.Unlock()
	if timer != nil {
		t.Error("reconnect timer armed after the budget ran out")
	}
}

func waitState(t *testing.T, states chan core.ConnectionState) core.ConnectionState {
	t.Helper()
	select {
	case state := <-states:
		return state
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a state transition")
		return ""
	}
}
