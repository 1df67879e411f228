package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/veloserve/tracksync/internal/model"
	"github.com/veloserve/tracksync/internal/router"
)

// Manager owns the single push-channel socket for a process. It runs the
// Disconnected → Connecting → Connected → Authenticating → Authenticated
// state machine, reconnects with capped exponential backoff, and feeds
// every decoded event into the event router. Tracking sessions share one
// Manager through Acquire/Release; the socket closes when the last
// session releases it.
type Manager struct {
	cfg    ManagerConfig
	events *router.Router
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	client     Client
	identity   string
	role       model.Role
	rooms      []string
	refs       int
	watchers   map[int]func(State)
	watcherSeq int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a connection manager dispatching into events.
func NewManager(cfg ManagerConfig, events *router.Router, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		events:   events,
		logger:   logger,
		state:    StateDisconnected,
		watchers: make(map[int]func(State)),
	}
}

// Connect tears down any prior socket and starts the connection loop for
// identity/role. It returns immediately; progress is observable through
// OnStateChange.
func (m *Manager) Connect(ctx context.Context, identity string, role model.Role) error {
	if identity == "" {
		return errors.New("identity is required")
	}

	// At most one live socket per manager.
	m.Disconnect()

	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.identity = identity
	m.role = role
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx)

	return nil
}

// Disconnect stops the connection loop and closes the socket. Safe to call
// when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	cli := m.client
	m.client = nil
	m.mu.Unlock()

	if cancel == nil && cli == nil {
		return
	}

	if cancel != nil {
		cancel()
	}
	if cli != nil {
		cli.Close()
	}
	m.wg.Wait()

	m.setState(StateDisconnected)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers cb for state transitions and returns a function
// that removes the registration.
func (m *Manager) OnStateChange(cb func(State)) func() {
	m.mu.Lock()
	m.watcherSeq++
	id := m.watcherSeq
	m.watchers[id] = cb
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// Send transmits an event to the server. When the channel is not
// Authenticated the send is dropped with a logged warning; callers
// tolerate drops and rely on polling for eventual correctness.
func (m *Manager) Send(event string, payload any) {
	m.mu.Lock()
	st := m.state
	cli := m.client
	m.mu.Unlock()

	if !st.Ready() || cli == nil {
		m.logger.Warn("dropping send, channel not ready",
			"event", event,
			"state", st,
		)
		return
	}

	m.sendEnvelope(cli, event, payload)
}

// JoinRoom subscribes this client to a broadcast room (admin sessions).
// Issued before authentication it is buffered and flushed once the
// channel is Authenticated; rooms are rejoined after every reconnect.
func (m *Manager) JoinRoom(roomID string) {
	if roomID == "" {
		return
	}

	m.mu.Lock()
	known := false
	for _, r := range m.rooms {
		if r == roomID {
			known = true
			break
		}
	}
	if !known {
		m.rooms = append(m.rooms, roomID)
	}
	st := m.state
	cli := m.client
	m.mu.Unlock()

	if st.Ready() && cli != nil {
		m.sendEnvelope(cli, "join_room", joinRoomPayload{RoomID: roomID})
	}
}

// Acquire registers a session's interest in the shared socket.
func (m *Manager) Acquire() {
	m.mu.Lock()
	m.refs++
	m.mu.Unlock()
}

// Release drops a session's interest. Disconnecting is deferred until the
// last session releases.
func (m *Manager) Release() {
	m.mu.Lock()
	if m.refs > 0 {
		m.refs--
	}
	last := m.refs == 0
	m.mu.Unlock()

	if last {
		m.Disconnect()
	}
}

// Sessions returns the number of sessions currently holding the socket.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// run is the reconnect loop. It owns the connection for its lifetime and
// never gives up: after the attempt ceiling the state degrades to Failed
// and retries continue at the ceiling interval.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	attempt := 0
	for {
		authed, err := m.runConnection(ctx)
		if ctx.Err() != nil {
			return
		}

		if authed {
			// A completed handshake resets the backoff window.
			attempt = 0
		}
		attempt++

		var delay time.Duration
		if attempt >= m.cfg.MaxReconnectAttempts {
			m.setState(StateFailed)
			delay = m.cfg.ReconnectMaxDelay
		} else {
			m.setState(StateReconnecting)
			delay = m.backoffDelay(attempt)
		}

		m.logger.Warn("push channel lost, will retry",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runConnection dials, authenticates, and pumps messages until the
// connection fails or ctx is cancelled. It reports whether authentication
// completed during this connection.
func (m *Manager) runConnection(ctx context.Context) (authed bool, err error) {
	m.setState(StateConnecting)

	cli := NewClient(ClientConfig{
		URL:          m.cfg.URL,
		PingTimeout:  m.cfg.PingTimeout,
		WriteTimeout: m.cfg.WriteTimeout,
		BufferSize:   m.cfg.BufferSize,
	}, m.logger.With("component", "ws"))

	if err := cli.Connect(ctx); err != nil {
		return false, err
	}

	m.mu.Lock()
	m.client = cli
	identity, role := m.identity, m.role
	m.mu.Unlock()

	defer func() {
		cli.Close()
		m.mu.Lock()
		if m.client == cli {
			m.client = nil
		}
		m.mu.Unlock()
	}()

	m.setState(StateConnected)
	m.setState(StateAuthenticating)

	data, err := encodeEnvelope("authenticate", authenticatePayload{
		Identity: identity,
		Role:     string(role),
	})
	if err != nil {
		return false, err
	}
	if err := cli.Send(data); err != nil {
		return false, err
	}

	authTimer := time.NewTimer(m.cfg.AuthTimeout)
	defer authTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return authed, nil

		case <-authTimer.C:
			if !authed {
				m.logger.Warn("authentication timed out", "timeout", m.cfg.AuthTimeout)
				return false, ErrAuthTimeout
			}

		case err := <-cli.Errors():
			return authed, err

		case msg, ok := <-cli.Messages():
			if !ok {
				return authed, ErrNotConnected
			}

			ev, err := router.Decode(msg.Data, msg.ReceivedAt)
			if err != nil {
				m.logger.Debug("skipping message", "error", err)
				continue
			}

			if _, isAuth := ev.(router.Authenticated); isAuth && !authed {
				authed = true
				m.setState(StateAuthenticated)
				m.flushRooms(cli)
			}

			m.events.Dispatch(ev)
		}
	}
}

// flushRooms re-issues join_room for every buffered room.
func (m *Manager) flushRooms(cli Client) {
	m.mu.Lock()
	rooms := make([]string, len(m.rooms))
	copy(rooms, m.rooms)
	m.mu.Unlock()

	for _, roomID := range rooms {
		m.sendEnvelope(cli, "join_room", joinRoomPayload{RoomID: roomID})
	}
}

// sendEnvelope encodes and writes one client→server event.
func (m *Manager) sendEnvelope(cli Client, event string, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		m.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	if err := cli.Send(data); err != nil {
		m.logger.Warn("failed to send event", "event", event, "error", err)
	}
}

// backoffDelay computes the capped exponential backoff for attempt (1-based).
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.cfg.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.ReconnectMaxDelay {
			return m.cfg.ReconnectMaxDelay
		}
	}
	if delay > m.cfg.ReconnectMaxDelay {
		delay = m.cfg.ReconnectMaxDelay
	}
	return delay
}

// setState transitions the state machine and notifies watchers. No-op
// transitions are suppressed.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	watchers := make([]func(State), 0, len(m.watchers))
	for _, cb := range m.watchers {
		watchers = append(watchers, cb)
	}
	m.mu.Unlock()

	m.logger.Debug("connection state changed", "from", prev, "to", s)

	for _, cb := range watchers {
		cb(s)
	}
}
