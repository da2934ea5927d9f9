package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/parley/internal/chat"
	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/connection"
	"github.com/soyeahso/parley/internal/events"
	"github.com/soyeahso/parley/internal/history"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type viewConn struct {
	inbound *events.Bus

	mu      sync.Mutex
	ready   bool
	emitted []string
}

func (c *viewConn) Emit(event string, _ any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return false
	}
	c.emitted = append(c.emitted, event)
	return true
}

func (c *viewConn) On(event, name string, h events.Handler) { c.inbound.On(event, name, h) }
func (c *viewConn) Off(event, name string)                  { c.inbound.Off(event, name) }
func (c *viewConn) UserID() string                          { return "me" }

func (c *viewConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *viewConn) setReady(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = v
}

func (c *viewConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.emitted...)
}

type viewFixture struct {
	view *terminalView
	conn *viewConn
	chat *chat.Manager
	bus  *events.Bus
	out  *bytes.Buffer
}

func (f *viewFixture) output() string {
	f.view.outMu.Lock()
	defer f.view.outMu.Unlock()
	return f.out.String()
}

func newViewFixture(t *testing.T, ready bool, store *history.Store) *viewFixture {
	t.Helper()
	log := logging.New(nil, "silent")
	bus := events.NewBus(log)
	conn := &viewConn{inbound: events.NewBus(log), ready: ready}
	cm := chat.New(conn, bus, config.ChatConfig{ReconcileWindowMs: 30000, TypingTimeoutMs: 10000}, log)
	cm.SetConversations([]chat.Conversation{
		{ID: "c1", Type: chat.TypeGroup, Title: "general"},
		{ID: "c2", Type: chat.TypeGroup, Title: "random"},
	})
	t.Cleanup(cm.Close)

	out := &bytes.Buffer{}
	status := func() connection.Status {
		return connection.Status{Authenticated: conn.Ready(), UserID: "me"}
	}
	view := newTerminalView(out, cm, status, store, 10)
	view.Subscribe(bus)
	t.Cleanup(func() { view.Unsubscribe(bus) })
	return &viewFixture{view: view, conn: conn, chat: cm, bus: bus, out: out}
}

func TestTerminalView_SendRequiresConversation(t *testing.T) {
	f := newViewFixture(t, true, nil)

	assert.False(t, f.view.handleLine("hello"))
	assert.Contains(t, f.output(), "join a conversation first")
	assert.Empty(t, f.conn.sent())
}

func TestTerminalView_JoinAndSend(t *testing.T) {
	f := newViewFixture(t, true, nil)

	f.view.handleLine("/join c1")
	f.view.handleLine("  hello there  ")

	assert.Equal(t, []string{
		protocol.EventJoinConversation,
		protocol.EventMessageSent,
		protocol.EventUserTyping,
	}, f.conn.sent())
	assert.Contains(t, f.output(), "* joined c1")
	require.Len(t, f.chat.Messages("c1"), 1)
	assert.True(t, f.chat.Messages("c1")[0].Pending)
	assert.NotContains(t, f.output(), "hello there", "echo waits for confirmation")
}

func TestTerminalView_SwitchLeavesPrevious(t *testing.T) {
	f := newViewFixture(t, true, nil)

	f.view.handleLine("/join c1")
	f.view.handleLine("/join c2")
	f.view.handleLine("/leave")

	assert.Equal(t, []string{
		protocol.EventJoinConversation,
		protocol.EventLeaveConversation,
		protocol.EventJoinConversation,
		protocol.EventLeaveConversation,
	}, f.conn.sent())
	assert.Empty(t, f.view.currentConversation())
	assert.Empty(t, f.chat.Selected())
}

func TestTerminalView_JoinUnknownConversation(t *testing.T) {
	f := newViewFixture(t, true, nil)

	f.view.handleLine("/join nope")
	assert.Contains(t, f.output(), `unknown conversation "nope"`)
	assert.Empty(t, f.conn.sent())
}

func TestTerminalView_RejoinsAfterAuthentication(t *testing.T) {
	f := newViewFixture(t, false, nil)

	f.view.handleLine("/join c1")
	assert.Contains(t, f.output(), "will join c1 once connected")
	assert.Empty(t, f.conn.sent())

	f.conn.setReady(true)
	f.bus.Emit(context.Background(), events.TopicAuthenticated, connection.Event{
		Status: connection.Status{UserID: "me", UserEmail: "me@example.com"},
	})

	assert.Contains(t, f.output(), "connected as me@example.com")
	assert.Equal(t, []string{protocol.EventJoinConversation}, f.conn.sent())
	assert.Equal(t, "c1", f.chat.Selected())
}

func TestTerminalView_PrintsMessages(t *testing.T) {
	f := newViewFixture(t, true, nil)
	f.view.handleLine("/join c1")

	f.chat.AddMessage("c1", chat.Message{ID: "m1", Content: "hi from bo", SenderName: "Bo"})
	f.chat.AddMessage("c2", chat.Message{ID: "m2", Content: "elsewhere", SenderName: "Cy"})
	assert.Contains(t, f.output(), "Bo: hi from bo")
	assert.Contains(t, f.output(), "#c2 ")

	echo, err := f.chat.SendMessage("c1", "mine", "")
	require.NoError(t, err)
	f.conn.inbound.Emit(context.Background(), protocol.EventNewMessage, protocol.NewMessage{
		Name:           protocol.EventNewMessage,
		ConversationID: "c1",
		Message: protocol.MessageData{
			ID: "srv-1", ClientID: echo.ID, Content: "mine", SenderID: "me", Timestamp: time.Now(),
		},
	})
	assert.Contains(t, f.output(), "me: mine")
}

func TestTerminalView_TypingAndPresence(t *testing.T) {
	f := newViewFixture(t, true, nil)
	f.view.handleLine("/join c1")

	ctx := context.Background()
	f.conn.inbound.Emit(ctx, protocol.EventUserTyping, protocol.UserTyping{
		ConversationID: "c1", UserID: "u-2", UserEmail: "bo@example.com", IsTyping: true,
	})
	assert.Contains(t, f.output(), "(bo@example.com typing)")

	f.conn.inbound.Emit(ctx, protocol.EventUserConnected, protocol.Presence{UserID: "u-2", Online: true})
	assert.Contains(t, f.output(), "* u-2 is online")

	f.view.handleLine("/who")
	assert.Contains(t, f.output(), "online: u-2")
}

func TestTerminalView_List(t *testing.T) {
	f := newViewFixture(t, true, nil)
	f.view.handleLine("/join c1")
	f.chat.AddMessage("c2", chat.Message{ID: "m1", Content: "ping", SenderID: "u-2"})

	f.view.handleLine("/list")
	out := f.output()
	assert.Contains(t, out, "* general (c1)")
	assert.Contains(t, out, "  random (c2) [1 unread]")
}

func TestTerminalView_History(t *testing.T) {
	store, err := history.Open(":memory:", logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		require.NoError(t, store.Save(chat.Message{
			ID: content, ConversationID: "c1", Content: content, SenderName: "Bo",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	f := newViewFixture(t, true, store)
	f.view.handleLine("/join c1")
	assert.Len(t, f.chat.Messages("c1"), 3, "join replays the cache")

	f.out.Reset()
	f.view.handleLine("/history 1")
	assert.Contains(t, f.output(), "Bo: third")
	assert.NotContains(t, f.output(), "second")

	f.view.handleLine("/history x")
	assert.Contains(t, f.output(), "usage: /history [n]")

	offline := newViewFixture(t, false, store)
	offline.view.handleLine("/join c1")
	require.Len(t, offline.chat.Messages("c1"), 3)
	c, ok := offline.chat.Conversation("c1")
	require.True(t, ok)
	assert.Zero(t, c.UnreadCount)
	assert.Equal(t, "third", c.LastMessage)
}

func TestTerminalView_Commands(t *testing.T) {
	f := newViewFixture(t, true, nil)

	assert.False(t, f.view.handleLine("/history"))
	assert.Contains(t, f.output(), "history is disabled")

	f.view.handleLine("/status")
	assert.Contains(t, f.output(), "user=me")

	f.view.handleLine("/bogus")
	assert.Contains(t, f.output(), "unknown command /bogus")

	assert.True(t, f.view.handleLine("/quit"))
}

func TestTerminalView_RunEndsAtEOF(t *testing.T) {
	f := newViewFixture(t, true, nil)

	err := f.view.Run(context.Background(), strings.NewReader("/list\n"))
	require.NoError(t, err)
	assert.Contains(t, f.output(), "general (c1)")
}

func TestTerminalView_RunEndsOnQuit(t *testing.T) {
	f := newViewFixture(t, true, nil)

	done := make(chan error, 1)
	go func() { done <- f.view.Run(context.Background(), strings.NewReader("/quit\n/list\n")) }()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.NotContains(t, f.output(), "general")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
