// Package modulesession maintains the WebSocket link to the Aura module.
package modulesession

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oritocare/companion/internal/core"
	"github.com/oritocare/companion/internal/logging"
	"github.com/oritocare/companion/internal/storage"
)

// MaxReconnectAttempts caps automatic reconnection. Once exhausted the
// session stays disconnected until an explicit Connect call.
const MaxReconnectAttempts = 10

// reconnectBackoff is indexed by attempt count and clamped at the last entry.
var reconnectBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
}

// ReconnectDelay returns the delay before reconnect attempt n (1-based).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(reconnectBackoff) {
		idx = len(reconnectBackoff) - 1
	}
	return reconnectBackoff[idx]
}

// MessageFunc receives server frames decoded as arbitrary JSON.
type MessageFunc func(frame map[string]interface{})

// StateFunc receives connection state transitions.
type StateFunc func(state core.ConnectionState)

// Session is the WebSocket client session to one Aura module.
// On socket open it immediately sends the structured handshake and
// optimistically reports connected; the module does not ack the handshake.
type Session struct {
	mu sync.Mutex

	conn  *websocket.Conn
	state core.ConnectionState

	ip         string
	port       int
	patientUID string
	authToken  string

	onMessage MessageFunc
	onState   StateFunc

	attempts      int
	explicitClose bool
	retryTimer    *time.Timer
	connectedAt   time.Time

	slots *storage.SlotStore
	log   *logging.Logger

	// injectable for tests
	dial func(url string) (*websocket.Conn, error)
}

// NewSession creates a session. The slot store is optional; when present
// the session records per-day module statistics.
func NewSession(slots *storage.SlotStore) *Session {
	return &Session{
		state: core.StateDisconnected,
		slots: slots,
		log:   logging.Component("modulesession"),
		dial: func(url string) (*websocket.Conn, error) {
			dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
			conn, _, err := dialer.Dial(url, nil)
			return conn, err
		},
	}
}

// Connect opens the session. Safe to call again after the session gave up;
// it resets the attempt budget.
func (s *Session) Connect(ip string, port int, patientUID, authToken string, onMessage MessageFunc, onState StateFunc) {
	s.mu.Lock()
	s.ip = ip
	s.port = port
	s.patientUID = patientUID
	s.authToken = authToken
	s.onMessage = onMessage
	s.onState = onState
	s.attempts = 0
	s.explicitClose = false
	s.mu.Unlock()

	s.dialOnce()
}

// dialOnce performs one connection attempt.
func (s *Session) dialOnce() {
	s.setState(core.StateConnecting)

	// Snapshot the target and credentials together; a concurrent Connect
	// may rewrite them while a retry-timer dial is in flight.
	s.mu.Lock()
	url := fmt.Sprintf("ws://%s:%d/ws", s.ip, s.port)
	patientUID := s.patientUID
	authToken := s.authToken
	s.mu.Unlock()

	conn, err := s.dial(url)
	if err != nil {
		s.log.Warn("dial %s failed: %v", url, err)
		s.handleClose()
		return
	}

	handshake := map[string]interface{}{
		"command":     "connect",
		"patient_uid": patientUID,
		"auth_token":  authToken,
	}
	if err := conn.WriteJSON(handshake); err != nil {
		s.log.Warn("handshake send failed: %v", err)
		conn.Close()
		s.handleClose()
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.attempts = 0
	s.connectedAt = time.Now()
	s.mu.Unlock()

	// Optimistic: connected at socket open, before any module ack.
	s.setState(core.StateConnected)
	s.recordStat("connects")

	go s.readLoop(conn)
}

// readLoop forwards server frames verbatim until the socket closes.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Debug("dropping non-JSON frame: %v", err)
			continue
		}

		s.mu.Lock()
		handler := s.onMessage
		s.mu.Unlock()
		if handler != nil {
			handler(frame)
		}
	}

	s.mu.Lock()
	stillCurrent := s.conn == conn
	if stillCurrent {
		s.conn = nil
		if !s.connectedAt.IsZero() && s.slots != nil {
			uptime := int(time.Since(s.connectedAt).Seconds())
			date := time.Now().Format("2006-01-02")
			if err := s.slots.AddModuleUptime(date, uptime); err != nil {
				s.log.Debug("uptime record failed: %v", err)
			}
		}
		s.connectedAt = time.Time{}
	}
	s.mu.Unlock()

	if stillCurrent {
		s.handleClose()
	}
}

// handleClose schedules a reconnect unless the caller disconnected or the
// attempt budget ran out. The retry timer is single-shot per attempt.
func (s *Session) handleClose() {
	s.mu.Lock()
	wasConnected := s.state == core.StateConnected
	if s.explicitClose || s.attempts >= MaxReconnectAttempts {
		exhausted := s.attempts >= MaxReconnectAttempts && !s.explicitClose
		s.mu.Unlock()
		s.setState(core.StateDisconnected)
		if exhausted {
			s.log.Error("giving up after %d reconnect attempts", MaxReconnectAttempts)
		}
		return
	}

	s.attempts++
	attempt := s.attempts
	delay := ReconnectDelay(attempt)
	s.mu.Unlock()

	// A lost live session passes through disconnected before the retry
	// cycle begins; a failed dial was never connected.
	if wasConnected {
		s.setState(core.StateDisconnected)
	}
	s.setState(core.StateReconnecting)
	s.recordStat("reconnects")
	s.log.Info("reconnect attempt %d/%d in %s", attempt, MaxReconnectAttempts, delay)

	s.mu.Lock()
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		closed := s.explicitClose
		s.mu.Unlock()
		if closed {
			return
		}
		s.dialOnce()
	})
	s.mu.Unlock()
}

// Send writes a command frame. Extra fields are merged beside the command.
func (s *Session) Send(command string, extra map[string]interface{}) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == core.StateConnected
	s.mu.Unlock()

	if !connected || conn == nil {
		return core.ErrNotConnected
	}

	frame := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		frame[k] = v
	}
	frame["command"] = command

	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send %s: %w", command, err)
	}
	s.recordStat("commands")
	return nil
}

// Disconnect closes the session and suppresses any pending reconnects by
// saturating the attempt count, so in-flight retry timers no-op.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.explicitClose = true
	s.attempts = MaxReconnectAttempts
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.setState(core.StateDisconnected)
}

// IsConnected reports whether the session is application-ready.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == core.StateConnected
}

// State returns the current connection state.
func (s *Session) State() core.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state core.ConnectionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	handler := s.onState
	s.mu.Unlock()

	if handler != nil {
		handler(state)
	}
}

func (s *Session) recordStat(field string) {
	if s.slots == nil {
		return
	}
	date := time.Now().Format("2006-01-02")
	if err := s.slots.RecordModuleEvent(date, field); err != nil {
		s.log.Debug("stat record failed: %v", err)
	}
}
