package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/events"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/protocol"
	"github.com/soyeahso/parley/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const waitFor = 2 * time.Second

// fakeConn is an in-memory transport.Conn. Frames pushed with serve are
// returned by ReadFrame; frames written by the manager are recorded and
// passed to onWrite, which plays the server side.
type fakeConn struct {
	in      chan inbound
	closed  chan struct{}
	once    sync.Once
	onWrite func(c *fakeConn, f protocol.Frame)

	mu       sync.Mutex
	written  []protocol.Frame
	closeErr error
}

type inbound struct {
	frame protocol.Frame
	err   error
}

func newFakeConn(onWrite func(c *fakeConn, f protocol.Frame)) *fakeConn {
	return &fakeConn{
		in:      make(chan inbound, 64),
		closed:  make(chan struct{}),
		onWrite: onWrite,
	}
}

func (c *fakeConn) ReadFrame() (protocol.Frame, error) {
	select {
	case r := <-c.in:
		return r.frame, r.err
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closeErr != nil {
			return protocol.Frame{}, c.closeErr
		}
		return protocol.Frame{}, io.EOF
	}
}

func (c *fakeConn) WriteFrame(f protocol.Frame) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, f)
	c.mu.Unlock()
	if c.onWrite != nil {
		c.onWrite(c, f)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server side going away with err.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.closeErr = err
	c.mu.Unlock()
	c.Close()
}

func (c *fakeConn) serve(t *testing.T, event string, data any) {
	t.Helper()
	f, err := protocol.NewFrame(event, data)
	require.NoError(t, err)
	c.in <- inbound{frame: f}
}

// serveMalformed queues a read that fails to parse.
func (c *fakeConn) serveMalformed() {
	c.in <- inbound{err: fmt.Errorf("%w: invalid character 'h'", transport.ErrMalformedFrame)}
}

func (c *fakeConn) sent() []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Frame(nil), c.written...)
}

func (c *fakeConn) sentEvents() []string {
	var names []string
	for _, f := range c.sent() {
		names = append(names, f.Event)
	}
	return names
}

// fakeDialer delegates each dial to next with the 1-based call number.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	next  func(n int, ctx context.Context) (transport.Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.mu.Unlock()
	return d.next(n, ctx)
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// acceptingServer answers authenticate with authenticated for tokens it knows.
func acceptingServer(t *testing.T) func(c *fakeConn, f protocol.Frame) {
	return func(c *fakeConn, f protocol.Frame) {
		if f.Event != protocol.EventAuthenticate {
			return
		}
		var p protocol.AuthenticatePayload
		require.NoError(t, json.Unmarshal(f.Data, &p))
		if p.Token == "bad" {
			c.serve(t, protocol.EventAuthenticationError, protocol.ErrorPayload{Message: "invalid token"})
			return
		}
		c.serve(t, protocol.EventAuthenticated, protocol.AuthenticatedPayload{UserID: "u-1", UserEmail: "ana@example.com"})
	}
}

// recorder captures every lifecycle topic published on a bus.
type recorder struct {
	mu     sync.Mutex
	topics []string
	data   []Event
}

func record(bus *events.Bus) *recorder {
	r := &recorder{}
	for _, topic := range events.LifecycleTopics {
		bus.On(topic, "recorder", func(_ context.Context, p events.Payload) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.topics = append(r.topics, p.Topic)
			r.data = append(r.data, p.Data.(Event))
			return nil
		})
	}
	return r
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

func (r *recorder) count(topic string) int {
	n := 0
	for _, t := range r.seen() {
		if t == topic {
			n++
		}
	}
	return n
}

func testConfig() config.ConnectionConfig {
	return config.ConnectionConfig{
		URL:                  "ws://chat.test/ws",
		MaxReconnectAttempts: 3,
		ReconnectDelayMs:     1,
		ConnectTimeoutMs:     200,
	}
}

func newTestManager(t *testing.T, cfg config.ConnectionConfig, d transport.Dialer, opts ...Option) (*Manager, *recorder) {
	t.Helper()
	bus := events.NewBus(logging.Nop())
	rec := record(bus)
	m := New(cfg, bus, logging.Nop(), append([]Option{WithDialer(d)}, opts...)...)
	t.Cleanup(func() {
		m.Disconnect()
		assert.NoError(t, m.wait(waitFor))
	})
	return m, rec
}

func TestConnectAuthenticates(t *testing.T) {
	conn := newFakeConn(acceptingServer(t))
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) { return conn, nil }}
	m, rec := newTestManager(t, testConfig(), d)

	assert.Equal(t, StateIdle, m.Status().State)
	m.Connect(context.Background(), "good")

	require.Eventually(t, m.Ready, waitFor, time.Millisecond)
	st := m.Status()
	assert.Equal(t, StateAuthenticated, st.State)
	assert.True(t, st.Connected)
	assert.False(t, st.Connecting)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Equal(t, "u-1", st.UserID)
	assert.Equal(t, "ana@example.com", st.UserEmail)
	assert.Equal(t, "u-1", m.UserID())

	assert.Equal(t, []string{events.TopicConnecting, events.TopicConnected, events.TopicAuthenticated}, rec.seen())

	sent := conn.sent()
	require.Len(t, sent, 1)
	var auth protocol.AuthenticatePayload
	require.NoError(t, json.Unmarshal(sent[0].Data, &auth))
	assert.Equal(t, "good", auth.Token)
}

func TestConnectIsNoOpWhileActive(t *testing.T) {
	conn := newFakeConn(acceptingServer(t))
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) { return conn, nil }}
	m, _ := newTestManager(t, testConfig(), d)

	m.Connect(context.Background(), "good")
	require.Eventually(t, m.Ready, waitFor, time.Millisecond)

	m.Connect(context.Background(), "other")
	m.Connect(context.Background(), "")
	assert.Equal(t, 1, d.count())
	assert.Equal(t, []string{protocol.EventAuthenticate}, conn.sentEvents())
}

func TestAuthenticationError(t *testing.T) {
	conn := newFakeConn(acceptingServer(t))
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) { return conn, nil }}
	m, rec := newTestManager(t, testConfig(), d)

	m.Connect(context.Background(), "bad")
	require.Eventually(t, func() bool { return rec.count(events.TopicAuthenticationError) == 1 }, waitFor, time.Millisecond)

	st := m.Status()
	assert.True(t, st.Connected)
	assert.False(t, st.Authenticated)
	assert.Equal(t, StateConnected, st.State)
	assert.Equal(t, "invalid token", st.LastError)
	assert.False(t, m.Ready())

	assert.False(t, m.Emit(protocol.EventJoinConversation, protocol.ConversationRef{ConversationID: "c1"}))
	assert.Equal(t, []string{protocol.EventAuthenticate}, conn.sentEvents())
}

func TestEmitRequiresReadiness(t *testing.T) {
	conn := newFakeConn(acceptingServer(t))
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) { return conn, nil }}
	m, _ := newTestManager(t, testConfig(), d)

	assert.False(t, m.Emit(protocol.EventJoinConversation, protocol.ConversationRef{ConversationID: "c1"}))

	m.Connect(context.Background(), "good")
	require.Eventually(t, m.Ready, waitFor, time.Millisecond)

	assert.True(t, m.Emit(protocol.EventJoinConversation, protocol.ConversationRef{ConversationID: "c1"}))
	assert.Equal(t, []string{protocol.EventAuthenticate, protocol.EventJoinConversation}, conn.sentEvents())
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) {
		return nil, errors.New("connection refused")
	}}
	cfg := testConfig()
	m, rec := newTestManager(t, cfg, d)

	m.Connect(context.Background(), "good")
	require.Eventually(t, func() bool { return rec.count(events.TopicReconnectFailed) == 1 }, waitFor, time.Millisecond)
	require.NoError(t, m.wait(waitFor))

	st := m.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.False(t, st.Connecting)
	assert.False(t, st.Connected)
	assert.Contains(t, st.LastError, "3 attempts")

	assert.Equal(t, 1+cfg.MaxReconnectAttempts, d.count())
	assert.Equal(t, 1, rec.count(events.TopicConnectionError))
	assert.Equal(t, cfg.MaxReconnectAttempts, rec.count(events.TopicReconnectAttempt))
	assert.Equal(t, cfg.MaxReconnectAttempts, rec.count(events.TopicReconnectError))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1+cfg.MaxReconnectAttempts, d.count(), "no dials after giving up")

	// Attempt numbers count up from 1.
	var attempts []int
	rec.mu.Lock()
	for i, topic := range rec.topics {
		if topic == events.TopicReconnectAttempt {
			attempts = append(attempts, rec.data[i].Attempt)
		}
	}
	rec.mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestConnectAfterGivingUpReleasesPreviousRun(t *testing.T) {
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) {
		return nil, errors.New("connection refused")
	}}
	m, rec := newTestManager(t, testConfig(), d)

	var mu sync.Mutex
	var runs []context.Context
	m.bus.On(events.TopicConnecting, "runs", func(ctx context.Context, _ events.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		runs = append(runs, ctx)
		return nil
	})

	m.Connect(context.Background(), "good")
	require.Eventually(t, func() bool { return rec.count(events.TopicReconnectFailed) == 1 }, waitFor, time.Millisecond)
	require.NoError(t, m.wait(waitFor))

	m.Connect(context.Background(), "good")
	require.Eventually(t, func() bool { return rec.count(events.TopicReconnectFailed) == 2 }, waitFor, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, runs, 2)
	assert.Error(t, runs[0].Err())
}

func TestReconnectAttemptBeyondMaxSettles(t *testing.T) {
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) { return nil, errors.New("unused") }}
	cfg := testConfig()
	bus := events.NewBus(logging.Nop())
	rec := record(bus)
	m := New(cfg, bus, logging.Nop(), WithDialer(d))
	m.connecting = true
	m.state = StateConnecting

	ctx := context.Background()
	for n := 1; n <= cfg.MaxReconnectAttempts; n++ {
		require.True(t, m.handleReconnectAttempt(ctx, m.gen, n))
		assert.Equal(t, n, m.Status().ReconnectAttempts)
	}
	assert.False(t, m.handleReconnectAttempt(ctx, m.gen, cfg.MaxReconnectAttempts+1))

	st := m.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.False(t, st.Connecting)
	assert.Equal(t, 1, rec.count(events.TopicReconnectFailed))
}

func TestZeroMaxAttemptsNeverRetries(t *testing.T) {
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) { return nil, errors.New("refused") }}
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 0
	m, rec := newTestManager(t, cfg, d)

	m.Connect(context.Background(), "good")
	require.Eventually(t, func() bool { return rec.count(events.TopicReconnectFailed) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, 1, d.count())
	assert.Equal(t, 0, rec.count(events.TopicReconnectAttempt))
}

type countingTokens struct {
	mu sync.Mutex
	n  int
}

func (c *countingTokens) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return &oauth2.Token{AccessToken: "token-" + string(rune('0'+c.n))}, nil
}

func TestReconnectReauthenticates(t *testing.T) {
	first := newFakeConn(acceptingServer(t))
	second := newFakeConn(acceptingServer(t))
	d := &fakeDialer{next: func(n int, _ context.Context) (transport.Conn, error) {
		switch n {
		case 1:
			return first, nil
		case 2:
			return nil, errors.New("still down")
		default:
			return second, nil
		}
	}}
	tokens := &countingTokens{}
	m, rec := newTestManager(t, testConfig(), d, WithTokenSource(tokens))

	m.Connect(context.Background(), "")
	require.Eventually(t, m.Ready, waitFor, time.Millisecond)

	first.drop(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	require.Eventually(t, func() bool { return rec.count(events.TopicReconnected) == 1 }, waitFor, time.Millisecond)
	require.Eventually(t, m.Ready, waitFor, time.Millisecond)

	assert.Equal(t, 3, d.count())
	assert.Equal(t, 0, m.Status().ReconnectAttempts)
	assert.Equal(t, 1, rec.count(events.TopicDisconnected))
	assert.Equal(t, 2, rec.count(events.TopicReconnectAttempt))
	assert.Equal(t, 2, rec.count(events.TopicAuthenticated))

	var auth protocol.AuthenticatePayload
	require.Len(t, second.sent(), 1)
	require.NoError(t, json.Unmarshal(second.sent()[0].Data, &auth))
	assert.Equal(t, "token-2", auth.Token, "token source is consulted on every handshake")
}

func TestDeliberateServerCloseDoesNotReconnect(t *testing.T) {
	conn := newFakeConn(acceptingServer(t))
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) { return conn, nil }}
	m, rec := newTestManager(t, testConfig(), d)

	m.Connect(context.Background(), "good")
	require.Eventually(t, m.Ready, waitFor, time.Millisecond)

	conn.drop(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	require.NoError(t, m.wait(waitFor))

	assert.Equal(t, StateDisconnected, m.Status().State)
	assert.Equal(t, 1, d.count())
	assert.Equal(t, 0, rec.count(events.TopicReconnectAttempt))
	assert.Empty(t, m.Status().LastError)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	conn := newFakeConn(acceptingServer(t))
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) { return conn, nil }}
	m, rec := newTestManager(t, testConfig(), d)

	m.Disconnect()
	assert.Equal(t, StateIdle, m.Status().State)
	assert.Equal(t, 0, rec.count(events.TopicDisconnected))

	m.Connect(context.Background(), "good")
	require.Eventually(t, m.Ready, waitFor, time.Millisecond)

	m.Disconnect()
	m.Disconnect()
	require.NoError(t, m.wait(waitFor))

	st := m.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.False(t, st.Connected)
	assert.False(t, st.Authenticated)
	assert.Equal(t, 1, rec.count(events.TopicDisconnected))
	assert.Equal(t, 0, rec.count(events.TopicReconnectAttempt))
	assert.Equal(t, 1, d.count())
	assert.Empty(t, m.token)
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) { return nil, errors.New("refused") }}
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 100
	cfg.ReconnectDelayMs = 5
	m, rec := newTestManager(t, cfg, d)

	m.Connect(context.Background(), "good")
	require.Eventually(t, func() bool { return rec.count(events.TopicReconnectAttempt) >= 2 }, waitFor, time.Millisecond)

	m.Disconnect()
	require.NoError(t, m.wait(waitFor))
	calls := d.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, d.count())
	assert.Equal(t, 0, rec.count(events.TopicReconnectFailed))
}

func TestConnectTimeout(t *testing.T) {
	d := &fakeDialer{next: func(_ int, ctx context.Context) (transport.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	cfg := testConfig()
	cfg.ConnectTimeoutMs = 10
	cfg.MaxReconnectAttempts = 0
	m, rec := newTestManager(t, cfg, d)

	m.Connect(context.Background(), "good")
	require.Eventually(t, func() bool { return rec.count(events.TopicConnectionError) == 1 }, waitFor, time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, topic := range rec.topics {
		if topic == events.TopicConnectionError {
			assert.Contains(t, rec.data[i].Reason, "deadline")
		}
	}
}

func TestInboundListenersReceiveDecodedEvents(t *testing.T) {
	conn := newFakeConn(acceptingServer(t))
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) { return conn, nil }}
	m, rec := newTestManager(t, testConfig(), d)

	var mu sync.Mutex
	var got []protocol.Event
	m.On(protocol.EventNewMessage, "test", func(_ context.Context, p events.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p.Data.(protocol.Event))
		return nil
	})

	m.Connect(context.Background(), "good")
	require.Eventually(t, m.Ready, waitFor, time.Millisecond)

	for _, id := range []string{"m1", "m2", "m3"} {
		conn.serve(t, protocol.EventNewMessage, protocol.MessagePayload{
			ConversationID: "c1",
			Message:        protocol.WireMessage{ID: id, Content: "hi " + id},
		})
	}
	conn.serve(t, protocol.EventUserConnected, protocol.PresencePayload{UserID: "u-2"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, waitFor, time.Millisecond)

	mu.Lock()
	for i, id := range []string{"m1", "m2", "m3"} {
		msg, ok := got[i].(protocol.NewMessage)
		require.True(t, ok)
		assert.Equal(t, id, msg.Message.ID)
	}
	mu.Unlock()

	require.Eventually(t, func() bool { return rec.count(events.TopicUserConnected) == 1 }, waitFor, time.Millisecond)

	m.Off(protocol.EventNewMessage, "test")
	conn.serve(t, protocol.EventNewMessage, protocol.MessagePayload{
		ConversationID: "c1",
		Message:        protocol.WireMessage{ID: "m4", Content: "late"},
	})
	conn.serve(t, protocol.EventUserDisconnected, protocol.PresencePayload{UserID: "u-2"})
	require.Eventually(t, func() bool { return rec.count(events.TopicUserDisconnected) == 1 }, waitFor, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 3)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	conn := newFakeConn(acceptingServer(t))
	d := &fakeDialer{next: func(int, context.Context) (transport.Conn, error) { return conn, nil }}
	m, rec := newTestManager(t, testConfig(), d)

	var mu sync.Mutex
	var ids []string
	m.On(protocol.EventNewMessage, "test", func(_ context.Context, p events.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, p.Data.(protocol.NewMessage).Message.ID)
		return nil
	})

	m.Connect(context.Background(), "good")
	require.Eventually(t, m.Ready, waitFor, time.Millisecond)

	conn.serveMalformed()
	conn.serve(t, protocol.EventNewMessage, protocol.MessagePayload{
		ConversationID: "c1",
		Message:        protocol.WireMessage{ID: "m1", Content: "still here"},
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) == 1
	}, waitFor, time.Millisecond)

	assert.True(t, m.Ready())
	assert.Equal(t, 1, d.count())
	assert.Zero(t, rec.count(events.TopicDisconnected))
	assert.Zero(t, rec.count(events.TopicReconnectAttempt))
}
