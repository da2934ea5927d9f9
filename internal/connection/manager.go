// Package connection owns the single real-time session with the chat
// backend: dialing, the authenticate handshake, bounded reconnection, and
// the emit/listen surface the chat layer builds on.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/events"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/protocol"
	"github.com/soyeahso/parley/internal/transport"
	"github.com/soyeahso/parley/internal/version"
	"golang.org/x/oauth2"
)

// State is the coarse connection state.
type State string

const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateAuthenticated State = "authenticated"
	StateDisconnected  State = "disconnected"
)

// Status is a point-in-time snapshot of the connection.
type Status struct {
	State             State  `json:"state"`
	Connected         bool   `json:"connected"`
	Authenticated     bool   `json:"authenticated"`
	Connecting        bool   `json:"connecting"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
	LastError         string `json:"lastError,omitempty"`
	UserID            string `json:"userId,omitempty"`
	UserEmail         string `json:"userEmail,omitempty"`
}

// Event is the data published with every lifecycle topic.
type Event struct {
	Status   Status
	Attempt  int    // reconnect_attempt, reconnected
	Reason   string // disconnected, *_error, reconnect_failed
	Presence protocol.Presence
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the WebSocket dialer, mainly for tests.
func WithDialer(d transport.Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithTokenSource makes the manager pull a fresh access token on every
// authenticate handshake instead of reusing the token given to Connect.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(m *Manager) {
		m.tokens = ts
	}
}

// Manager maintains one logical connection to the real-time backend.
type Manager struct {
	cfg     config.ConnectionConfig
	bus     *events.Bus
	inbound *events.Bus
	dialer  transport.Dialer
	tokens  oauth2.TokenSource
	log     *logging.Logger

	mu            sync.Mutex
	state         State
	connected     bool
	authenticated bool
	connecting    bool
	attempts      int
	lastErr       string
	token         string
	userID        string
	userEmail     string
	conn          transport.Conn
	cancel        context.CancelFunc
	gen           uint64
	done          chan struct{}
}

// New creates an idle Manager. Lifecycle events are published on bus.
func New(cfg config.ConnectionConfig, bus *events.Bus, log *logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		bus:     bus,
		inbound: events.NewBus(log.Sub("inbound")),
		dialer: transport.WebSocketDialer{
			HandshakeTimeout: cfg.ConnectTimeout(),
			Header:           http.Header{"User-Agent": {version.UserAgent()}},
		},
		log:   log.Sub("connection"),
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect starts connecting in the background. It is a no-op while a
// connection attempt is in flight or a connection is open. A non-empty
// token replaces the stored one.
func (m *Manager) Connect(ctx context.Context, token string) {
	m.mu.Lock()
	if m.connecting || m.connected {
		m.mu.Unlock()
		m.log.Debug().Msg("connect ignored: already connecting or connected")
		return
	}
	if token != "" {
		m.token = token
	}
	if m.cancel != nil {
		m.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.gen++
	gen := m.gen
	m.cancel = cancel
	m.connecting = true
	m.attempts = 0
	m.state = StateConnecting
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.log.Info().Str("url", m.cfg.URL).Msg("connecting")
	m.publish(runCtx, events.TopicConnecting, Event{})

	go m.run(runCtx, gen, done)
}

// Disconnect closes the transport, clears the stored token, and stops any
// reconnection. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	active := m.connected || m.connecting
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.gen++
	m.connected = false
	m.authenticated = false
	m.connecting = false
	m.token = ""
	if active {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if active {
		m.log.Info().Msg("disconnected by client")
		m.publish(context.Background(), events.TopicDisconnected, Event{Reason: "client disconnect"})
	}
}

// Emit sends an application event to the server. Events are only sent
// while connected and authenticated; otherwise they are dropped with a
// warning and Emit returns false.
func (m *Manager) Emit(event string, payload any) bool {
	m.mu.Lock()
	ready := m.connected && m.authenticated
	conn := m.conn
	m.mu.Unlock()

	if !ready || conn == nil {
		m.log.Warn().Str("event", event).Msg("socket not ready, dropping event")
		return false
	}

	f, err := protocol.NewFrame(event, payload)
	if err != nil {
		m.log.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return false
	}
	if err := conn.WriteFrame(f); err != nil {
		m.log.Warn().Err(err).Str("event", event).Msg("failed to emit event")
		return false
	}
	m.log.Debug().Str("event", event).Msg("emitted")
	return true
}

// On registers a listener for an inbound server event. The listener
// receives the decoded protocol.Event as Payload.Data, in transport order.
func (m *Manager) On(event, name string, handler events.Handler) {
	m.inbound.On(event, name, handler)
}

// Off removes a listener registered with On.
func (m *Manager) Off(event, name string) {
	m.inbound.Off(event, name)
}

// Ready reports whether application events can be emitted.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && m.authenticated
}

// UserID returns the authenticated user's id, or "" before authentication.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() Status {
	return Status{
		State:             m.state,
		Connected:         m.connected,
		Authenticated:     m.authenticated,
		Connecting:        m.connecting,
		ReconnectAttempts: m.attempts,
		LastError:         m.lastErr,
		UserID:            m.userID,
		UserEmail:         m.userEmail,
	}
}

// run drives one Connect call: the initial dial, read loops, and
// reconnection until the session ends or Disconnect is called.
func (m *Manager) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	conn, err := m.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.handleConnectError(ctx, gen, err)
		if conn = m.reconnect(ctx, gen); conn == nil {
			return
		}
	} else if !m.open(ctx, gen, conn, 0) {
		return
	}

	for {
		err := m.readLoop(ctx, gen, conn)
		if ctx.Err() != nil {
			return
		}
		if !m.handleClose(ctx, gen, err) {
			return
		}
		if conn = m.reconnect(ctx, gen); conn == nil {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (transport.Conn, error) {
	if t := m.cfg.ConnectTimeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return m.dialer.Dial(ctx, m.cfg.URL)
}

// reconnect retries the dial with a fixed delay up to MaxReconnectAttempts
// times. It returns nil once attempts are exhausted or the session ends.
func (m *Manager) reconnect(ctx context.Context, gen uint64) transport.Conn {
	for attempt := 1; ; attempt++ {
		if !m.handleReconnectAttempt(ctx, gen, attempt) {
			return nil
		}
		if !sleep(ctx, m.cfg.ReconnectDelay()) {
			return nil
		}
		conn, err := m.dial(ctx)
		if err == nil {
			if !m.open(ctx, gen, conn, attempt) {
				return nil
			}
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		m.handleReconnectError(ctx, gen, err)
	}
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn transport.Conn) error {
	for {
		f, err := conn.ReadFrame()
		if errors.Is(err, transport.ErrMalformedFrame) {
			m.log.Warn().Err(err).Msg("dropping unreadable frame")
			continue
		}
		if err != nil {
			return err
		}
		m.dispatch(ctx, gen, f)
	}
}

// dispatch decodes a frame, applies handshake transitions, and delivers the
// typed event to inbound listeners.
func (m *Manager) dispatch(ctx context.Context, gen uint64, f protocol.Frame) {
	ev, err := protocol.Decode(f)
	if err != nil {
		m.log.Warn().Err(err).Str("event", f.Event).Msg("dropping malformed frame")
		return
	}

	switch e := ev.(type) {
	case protocol.Authenticated:
		if !m.handleAuthenticated(ctx, gen, e) {
			return
		}
	case protocol.AuthenticationError:
		if !m.handleAuthError(ctx, gen, e) {
			return
		}
	case protocol.Presence:
		topic := events.TopicUserDisconnected
		if e.Online {
			topic = events.TopicUserConnected
		}
		m.publish(ctx, topic, Event{Status: m.Status(), Presence: e})
	}

	m.inbound.Emit(ctx, f.Event, ev)
}

// open records a freshly dialed connection and starts the handshake.
// attempt > 0 marks a successful reconnect.
func (m *Manager) open(ctx context.Context, gen uint64, conn transport.Conn, attempt int) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return false
	}
	m.conn = conn
	m.connected = true
	m.connecting = false
	m.authenticated = false
	m.attempts = 0
	m.state = StateConnected
	st := m.statusLocked()
	m.mu.Unlock()

	m.log.Info().Int("attempt", attempt).Msg("connected")
	m.publish(ctx, events.TopicConnected, Event{Status: st})
	if attempt > 0 {
		m.publish(ctx, events.TopicReconnected, Event{Status: st, Attempt: attempt})
	}
	m.authenticate(conn)
	return true
}

// authenticate sends the handshake on conn. Authentication never survives
// a reconnect, so this runs after every open.
func (m *Manager) authenticate(conn transport.Conn) {
	token := m.currentToken()
	if token == "" {
		m.log.Warn().Msg("no access token, skipping authentication")
		return
	}
	f, err := protocol.NewFrame(protocol.EventAuthenticate, protocol.AuthenticatePayload{Token: token})
	if err != nil {
		m.log.Error().Err(err).Msg("failed to encode authenticate")
		return
	}
	if err := conn.WriteFrame(f); err != nil {
		m.log.Warn().Err(err).Msg("failed to send authenticate")
		return
	}
	m.log.Debug().Msg("authenticating")
}

func (m *Manager) currentToken() string {
	if m.tokens != nil {
		tok, err := m.tokens.Token()
		if err != nil {
			m.log.Warn().Err(err).Msg("token source failed, using stored token")
		} else if tok.AccessToken != "" {
			m.mu.Lock()
			m.token = tok.AccessToken
			m.mu.Unlock()
			return tok.AccessToken
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *Manager) handleAuthenticated(ctx context.Context, gen uint64, e protocol.Authenticated) bool {
	m.mu.Lock()
	if gen != m.gen || !m.connected {
		m.mu.Unlock()
		return false
	}
	m.authenticated = true
	m.state = StateAuthenticated
	m.lastErr = ""
	m.attempts = 0
	m.userID = e.UserID
	m.userEmail = e.UserEmail
	st := m.statusLocked()
	m.mu.Unlock()

	m.log.Info().Str("userId", e.UserID).Msg("authenticated")
	m.publish(ctx, events.TopicAuthenticated, Event{Status: st})
	return true
}

func (m *Manager) handleAuthError(ctx context.Context, gen uint64, e protocol.AuthenticationError) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	m.authenticated = false
	if m.connected {
		m.state = StateConnected
	}
	m.lastErr = e.Message
	st := m.statusLocked()
	m.mu.Unlock()

	m.log.Error().Str("reason", e.Message).Msg("authentication failed")
	m.publish(ctx, events.TopicAuthenticationError, Event{Status: st, Reason: e.Message})
	return true
}

func (m *Manager) handleConnectError(ctx context.Context, gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.lastErr = err.Error()
	st := m.statusLocked()
	m.mu.Unlock()

	m.log.Warn().Err(err).Msg("connection error")
	m.publish(ctx, events.TopicConnectionError, Event{Status: st, Reason: err.Error()})
}

// handleClose moves to Disconnected after the transport drops. It reports
// whether the manager should try to reconnect; a deliberate close from the
// server is final.
func (m *Manager) handleClose(ctx context.Context, gen uint64, err error) bool {
	reason := "transport closed"
	if err != nil {
		reason = err.Error()
	}
	deliberate := transport.IsDeliberateClose(err)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connected = false
	m.authenticated = false
	m.state = StateDisconnected
	if !deliberate {
		m.lastErr = reason
	}
	st := m.statusLocked()
	m.mu.Unlock()

	m.log.Warn().Str("reason", reason).Bool("deliberate", deliberate).Msg("connection lost")
	m.publish(ctx, events.TopicDisconnected, Event{Status: st, Reason: reason})
	return !deliberate
}

// handleReconnectAttempt records attempt n. Once n exceeds the configured
// maximum it publishes reconnect_failed, settles into Disconnected, and
// returns false; only an explicit Connect resumes from there.
func (m *Manager) handleReconnectAttempt(ctx context.Context, gen uint64, n int) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	if n > m.cfg.MaxReconnectAttempts {
		m.connecting = false
		m.connected = false
		m.authenticated = false
		m.state = StateDisconnected
		m.lastErr = fmt.Sprintf("reconnection failed after %d attempts", m.cfg.MaxReconnectAttempts)
		st := m.statusLocked()
		m.mu.Unlock()

		m.log.Error().Int("attempts", m.cfg.MaxReconnectAttempts).Msg("giving up reconnecting")
		m.publish(ctx, events.TopicReconnectFailed, Event{Status: st, Reason: st.LastError})
		return false
	}
	m.attempts = n
	m.connecting = true
	m.state = StateConnecting
	st := m.statusLocked()
	m.mu.Unlock()

	m.log.Info().Int("attempt", n).Int("max", m.cfg.MaxReconnectAttempts).Msg("reconnecting")
	m.publish(ctx, events.TopicReconnectAttempt, Event{Status: st, Attempt: n})
	return true
}

func (m *Manager) handleReconnectError(ctx context.Context, gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.lastErr = err.Error()
	st := m.statusLocked()
	m.mu.Unlock()

	m.log.Warn().Err(err).Int("attempt", st.ReconnectAttempts).Msg("reconnect attempt failed")
	m.publish(ctx, events.TopicReconnectError, Event{Status: st, Attempt: st.ReconnectAttempts, Reason: err.Error()})
}

func (m *Manager) publish(ctx context.Context, topic string, ev Event) {
	if ev.Status.State == "" {
		ev.Status = m.Status()
	}
	m.bus.Emit(ctx, topic, ev)
}

// wait blocks until the goroutine started by the last Connect exits.
func (m *Manager) wait(timeout time.Duration) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("connection loop still running")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
