package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAuthTimeout     = errors.New("authentication timeout")
	ErrAlreadyClosed   = errors.New("already closed")
)

// State is the connection manager's lifecycle state. Transitions are the
// only source of truth for channel health; consumers observe them via
// OnStateChange and never see raw transport errors.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateReconnecting   State = "reconnecting"
	StateFailed         State = "failed"
)

// Ready reports whether the channel is safe to subscribe and send on.
func (s State) Ready() bool {
	return s == StateAuthenticated
}

// InboundMessage wraps raw frame data with its receive timestamp.
type InboundMessage struct {
	Data       []byte    // Raw message bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// envelope is the outbound wire format for client→server events.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	return json.Marshal(envelope{Event: event, Data: payload})
}

// authenticatePayload is the handshake body sent after transport connect.
type authenticatePayload struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

// joinRoomPayload subscribes an admin session to a broadcast room.
type joinRoomPayload struct {
	RoomID string `json:"room_id"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL               string        // WebSocket URL (e.g., wss://push.example.com/ws)
	PingTimeout       time.Duration // Max time without ping before considering connection stale
	WriteTimeout      time.Duration // Write deadline for sends
	HandshakeTimeout  time.Duration // Dial handshake deadline
	HeartbeatInterval time.Duration // Keepalive ping cadence
	BufferSize        int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		BufferSize:        1000,
	}
}

// ManagerConfig configures the connection manager.
type ManagerConfig struct {
	URL                  string        // WebSocket URL
	AuthTimeout          time.Duration // Max wait for the authenticated ack
	MaxReconnectAttempts int           // Attempt ceiling before reporting Failed
	ReconnectBaseDelay   time.Duration // Base wait time for reconnection
	ReconnectMaxDelay    time.Duration // Max wait time for reconnection
	WriteTimeout         time.Duration // Write deadline for sends
	PingTimeout          time.Duration // Stale-connection threshold
	BufferSize           int           // Per-connection message buffer
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		AuthTimeout:          5 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		WriteTimeout:         5 * time.Second,
		PingTimeout:          60 * time.Second,
		BufferSize:           1000,
	}
}
