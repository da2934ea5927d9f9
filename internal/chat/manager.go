// Package chat holds client-side chat state: the conversation list, the
// selected conversation, per-conversation message buffers, typing
// indicators, and presence. It reacts to inbound server events from the
// connection and publishes every state change on the event bus.
package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/events"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/protocol"
)

const handlerName = "chat"

// TempIDPrefix marks ids generated locally for optimistic echoes.
const TempIDPrefix = "tmp-"

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, mainly for typing-expiry tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

type typingEntry struct {
	user string
	at   time.Time
}

// Manager owns the chat state. All methods are safe for concurrent use.
type Manager struct {
	conn Connection
	bus  *events.Bus
	cfg  config.ChatConfig
	log  *logging.Logger
	now  func() time.Time

	mu            sync.Mutex
	selected      string
	messages      map[string][]Message
	typing        map[string][]typingEntry
	conversations []Conversation
	online        []string
	loading       bool
	errMsg        string
	attached      bool
}

// New creates a chat manager bound to conn. Inbound listeners are attached
// whenever the bus reports authenticated and detached on disconnected.
func New(conn Connection, bus *events.Bus, cfg config.ChatConfig, log *logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		conn:     conn,
		bus:      bus,
		cfg:      cfg,
		log:      log.Sub("chat"),
		now:      time.Now,
		messages: make(map[string][]Message),
		typing:   make(map[string][]typingEntry),
	}
	for _, opt := range opts {
		opt(m)
	}

	bus.On(events.TopicAuthenticated, handlerName, func(context.Context, events.Payload) error {
		m.attach()
		return nil
	})
	bus.On(events.TopicDisconnected, handlerName, func(ctx context.Context, _ events.Payload) error {
		m.handleDisconnect(ctx)
		return nil
	})

	if conn.Ready() {
		m.attach()
	}
	return m
}

// Close unregisters every listener the manager installed.
func (m *Manager) Close() {
	m.bus.Off(events.TopicAuthenticated, handlerName)
	m.bus.Off(events.TopicDisconnected, handlerName)
	m.detach()
}

func (m *Manager) inboundHandlers() map[string]events.Handler {
	return map[string]events.Handler{
		protocol.EventNewMessage:         m.handleMessage,
		protocol.EventMessageSent:        m.handleMessage,
		protocol.EventUserTyping:         m.handleTyping,
		protocol.EventConversationJoined: m.handleJoined,
		protocol.EventJoinError:          m.handleJoinError,
		protocol.EventError:              m.handleServerError,
		protocol.EventUserConnected:      m.handlePresence,
		protocol.EventUserDisconnected:   m.handlePresence,
	}
}

func (m *Manager) attach() {
	m.mu.Lock()
	if m.attached {
		m.mu.Unlock()
		return
	}
	m.attached = true
	m.mu.Unlock()

	for event, h := range m.inboundHandlers() {
		m.conn.On(event, handlerName, h)
	}
	m.log.Debug().Msg("inbound listeners attached")
}

func (m *Manager) detach() {
	m.mu.Lock()
	if !m.attached {
		m.mu.Unlock()
		return
	}
	m.attached = false
	m.mu.Unlock()

	for event := range m.inboundHandlers() {
		m.conn.Off(event, handlerName)
	}
	m.log.Debug().Msg("inbound listeners detached")
}

// handleDisconnect drops inbound listeners and the selection. Presence is
// unknown once the session is gone, so the online set is cleared too.
func (m *Manager) handleDisconnect(ctx context.Context) {
	m.detach()

	m.mu.Lock()
	prev := m.selected
	m.selected = ""
	hadOnline := len(m.online) > 0
	m.online = nil
	m.mu.Unlock()

	if prev != "" {
		m.bus.Emit(ctx, events.TopicSelected, "")
	}
	if hadOnline {
		m.bus.Emit(ctx, events.TopicPresence, PresenceEvent{})
	}
}

// SelectConversation marks id as the conversation in view and resets its
// unread count. It does not talk to the server.
func (m *Manager) SelectConversation(id string) {
	m.mu.Lock()
	m.selected = id
	reset := false
	if i := m.conversationIndexLocked(id); i >= 0 && m.conversations[i].UnreadCount > 0 {
		m.conversations[i].UnreadCount = 0
		reset = true
	}
	var convs []Conversation
	if reset {
		convs = slices.Clone(m.conversations)
	}
	m.mu.Unlock()

	ctx := context.Background()
	m.bus.Emit(ctx, events.TopicSelected, id)
	if reset {
		m.bus.Emit(ctx, events.TopicConversations, convs)
	}
}

// JoinConversation leaves the currently selected conversation if it differs,
// joins id, and selects it. Without a ready connection it only logs.
func (m *Manager) JoinConversation(id string) {
	if !m.conn.Ready() {
		m.log.Warn().Str("conversation", id).Msg("cannot join conversation: socket not ready")
		return
	}

	m.mu.Lock()
	prev := m.selected
	m.mu.Unlock()

	if prev != "" && prev != id {
		m.conn.Emit(protocol.EventLeaveConversation, protocol.ConversationRef{ConversationID: prev})
		m.log.Info().Str("conversation", prev).Msg("left conversation")
	}
	m.conn.Emit(protocol.EventJoinConversation, protocol.ConversationRef{ConversationID: id})
	m.log.Info().Str("conversation", id).Msg("joining conversation")

	m.SelectConversation(id)
}

// LeaveConversation tells the server the user left id, then drops its
// buffer and typing set and clears the selection if it pointed at id.
// Without a ready connection it is a no-op.
func (m *Manager) LeaveConversation(id string) {
	if !m.conn.Ready() {
		m.log.Warn().Str("conversation", id).Msg("cannot leave conversation: socket not ready")
		return
	}

	m.conn.Emit(protocol.EventLeaveConversation, protocol.ConversationRef{ConversationID: id})
	m.log.Info().Str("conversation", id).Msg("left conversation")

	m.mu.Lock()
	delete(m.messages, id)
	_, hadTyping := m.typing[id]
	delete(m.typing, id)
	deselected := m.selected == id
	if deselected {
		m.selected = ""
	}
	m.mu.Unlock()

	ctx := context.Background()
	m.bus.Emit(ctx, events.TopicMessagesCleared, id)
	if hadTyping {
		m.bus.Emit(ctx, events.TopicTyping, TypingEvent{ConversationID: id})
	}
	if deselected {
		m.bus.Emit(ctx, events.TopicSelected, "")
	}
}

// SendMessage emits content to conversationID and appends an optimistic
// echo marked Pending. Empty (after trimming) content and a connection that
// is not ready both return ErrInvalidOperation without side effects.
func (m *Manager) SendMessage(conversationID, content, contentType string) (Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || !m.conn.Ready() {
		return Message{}, ErrInvalidOperation
	}
	if contentType == "" {
		contentType = ContentTypeText
	}

	tempID := TempIDPrefix + uuid.NewString()
	now := m.now()
	msg := Message{
		ID:             tempID,
		ClientID:       tempID,
		ConversationID: conversationID,
		Content:        trimmed,
		ContentType:    contentType,
		Timestamp:      now,
		IsOwn:          true,
		SenderID:       m.conn.UserID(),
		Pending:        true,
	}

	// The echo goes in before the emit so a fast server confirmation finds
	// it and reconciles instead of appending a duplicate.
	m.mu.Lock()
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	m.mu.Unlock()

	sent := m.conn.Emit(protocol.EventMessageSent, protocol.SendMessagePayload{
		ConversationID: conversationID,
		Message: protocol.OutgoingMessage{
			ID:             tempID,
			ClientID:       tempID,
			Content:        trimmed,
			ContentType:    contentType,
			ConversationID: conversationID,
			CreatedAt:      now.UTC(),
		},
	})
	if !sent {
		m.mu.Lock()
		m.messages[conversationID] = slices.DeleteFunc(m.messages[conversationID], func(e Message) bool {
			return e.ClientID == tempID
		})
		if len(m.messages[conversationID]) == 0 {
			delete(m.messages, conversationID)
		}
		m.mu.Unlock()
		return Message{}, ErrInvalidOperation
	}

	m.mu.Lock()
	if i := indexByClientID(m.messages[conversationID], tempID); i >= 0 {
		msg = m.messages[conversationID][i]
	}
	convs, touched := m.touchConversationLocked(msg)
	m.mu.Unlock()

	m.log.Debug().Str("conversation", conversationID).Str("tempId", tempID).Msg("message sent")
	ctx := context.Background()
	m.bus.Emit(ctx, events.TopicMessageAdded, MessageEvent{ConversationID: conversationID, Message: msg})
	if touched {
		m.bus.Emit(ctx, events.TopicConversations, convs)
	}
	return msg, nil
}

// StartTyping tells other participants the user is typing in id.
func (m *Manager) StartTyping(id string) {
	m.emitTyping(id, true)
}

// StopTyping tells other participants the user stopped typing in id.
func (m *Manager) StopTyping(id string) {
	m.emitTyping(id, false)
}

func (m *Manager) emitTyping(id string, typing bool) {
	if !m.conn.Ready() {
		m.log.Debug().Str("conversation", id).Bool("typing", typing).Msg("cannot send typing: socket not ready")
		return
	}
	m.conn.Emit(protocol.EventUserTyping, protocol.TypingPayload{
		ConversationID: id,
		IsTyping:       typing,
		Timestamp:      m.now().UTC(),
	})
}

// SetConversations replaces the conversation list.
func (m *Manager) SetConversations(list []Conversation) {
	m.mu.Lock()
	m.conversations = slices.Clone(list)
	convs := slices.Clone(m.conversations)
	m.mu.Unlock()

	m.bus.Emit(context.Background(), events.TopicConversations, convs)
}

// ClearMessages drops the buffer for id.
func (m *Manager) ClearMessages(id string) {
	m.mu.Lock()
	delete(m.messages, id)
	m.mu.Unlock()

	m.bus.Emit(context.Background(), events.TopicMessagesCleared, id)
}

// AddMessage appends msg to the buffer for id unless a message with the same
// id is already there.
func (m *Manager) AddMessage(id string, msg Message) {
	m.addMessage(id, msg, false)
}

// RestoreMessage appends a message loaded from a transcript cache. It is
// deduplicated like AddMessage but never counts as unread, and only moves
// the conversation summary forward in time.
func (m *Manager) RestoreMessage(id string, msg Message) {
	m.addMessage(id, msg, true)
}

func (m *Manager) addMessage(id string, msg Message, restored bool) {
	msg.ConversationID = id
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}

	m.mu.Lock()
	if indexByID(m.messages[id], msg.ID) >= 0 {
		m.mu.Unlock()
		return
	}
	m.messages[id] = append(m.messages[id], msg)
	var convs []Conversation
	var touched bool
	if restored {
		convs, touched = m.restoreSummaryLocked(msg)
	} else {
		convs, touched = m.touchConversationLocked(msg)
	}
	m.mu.Unlock()

	ctx := context.Background()
	m.bus.Emit(ctx, events.TopicMessageAdded, MessageEvent{ConversationID: id, Message: msg})
	if touched {
		m.bus.Emit(ctx, events.TopicConversations, convs)
	}
}

// Messages returns a copy of the buffer for id; empty when there is none.
func (m *Manager) Messages(id string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages[id])
}

// TypingUsers returns who is typing in id, oldest first. Expired entries
// are dropped before answering.
func (m *Manager) TypingUsers(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneTypingLocked(id)
	return typingNames(m.typing[id])
}

// SweepTyping drops expired typing entries everywhere and publishes
// chat.typing for each conversation that changed. It returns those ids.
func (m *Manager) SweepTyping() []string {
	m.mu.Lock()
	var changed []string
	var updates []TypingEvent
	for id := range m.typing {
		if m.pruneTypingLocked(id) {
			changed = append(changed, id)
			updates = append(updates, TypingEvent{ConversationID: id, Users: typingNames(m.typing[id])})
		}
	}
	m.mu.Unlock()

	for _, u := range updates {
		m.bus.Emit(context.Background(), events.TopicTyping, u)
	}
	slices.Sort(changed)
	return changed
}

// OnlineUsers returns the users currently reported online.
func (m *Manager) OnlineUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.online)
}

// IsOnline reports whether userID is currently online.
func (m *Manager) IsOnline(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Contains(m.online, userID)
}

// Selected returns the selected conversation id, or "".
func (m *Manager) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// Conversations returns a copy of the conversation list.
func (m *Manager) Conversations() []Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.conversations)
}

// Conversation looks up a conversation by id.
func (m *Manager) Conversation(id string) (Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.conversationIndexLocked(id); i >= 0 {
		return m.conversations[i], true
	}
	return Conversation{}, false
}

// State returns a deep copy of the whole chat state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		SelectedConversationID: m.selected,
		Messages:               make(map[string][]Message, len(m.messages)),
		Typing:                 make(map[string][]string, len(m.typing)),
		Conversations:          slices.Clone(m.conversations),
		Online:                 slices.Clone(m.online),
		Loading:                m.loading,
		Error:                  m.errMsg,
	}
	for id, buf := range m.messages {
		st.Messages[id] = slices.Clone(buf)
	}
	for id := range m.typing {
		m.pruneTypingLocked(id)
		if users := typingNames(m.typing[id]); len(users) > 0 {
			st.Typing[id] = users
		}
	}
	return st
}

// ClearError resets the recorded error.
func (m *Manager) ClearError() {
	m.mu.Lock()
	had := m.errMsg != ""
	m.errMsg = ""
	m.mu.Unlock()

	if had {
		m.bus.Emit(context.Background(), events.TopicChatError, "")
	}
}

// LoadConversations fetches the conversation list from src and installs it.
// A failure is recorded in State.Error and returned.
func (m *Manager) LoadConversations(ctx context.Context, src ConversationSource) error {
	m.setLoading(true)
	list, err := src.ListConversations(ctx)
	m.setLoading(false)
	if err != nil {
		m.setError(ctx, "Failed to load conversations: "+err.Error())
		return fmt.Errorf("load conversations: %w", err)
	}
	m.SetConversations(list)
	m.log.Info().Int("count", len(list)).Msg("conversations loaded")
	return nil
}

// OpenPrivateConversation creates (or reuses) a private conversation with
// userID, adds it to the list, and joins it.
func (m *Manager) OpenPrivateConversation(ctx context.Context, creator ConversationCreator, userID string) (Conversation, error) {
	conv, err := creator.CreatePrivateConversation(ctx, userID)
	if err != nil {
		m.setError(ctx, "Failed to create conversation: "+err.Error())
		return Conversation{}, fmt.Errorf("create conversation with %s: %w", userID, err)
	}

	m.mu.Lock()
	if i := m.conversationIndexLocked(conv.ID); i >= 0 {
		m.conversations[i] = conv
	} else {
		m.conversations = append([]Conversation{conv}, m.conversations...)
	}
	convs := slices.Clone(m.conversations)
	m.mu.Unlock()

	m.bus.Emit(ctx, events.TopicConversations, convs)
	m.JoinConversation(conv.ID)
	return conv, nil
}

func (m *Manager) setLoading(v bool) {
	m.mu.Lock()
	m.loading = v
	m.mu.Unlock()
}

func (m *Manager) setError(ctx context.Context, msg string) {
	m.mu.Lock()
	m.errMsg = msg
	m.mu.Unlock()

	m.log.Error().Msg(msg)
	m.bus.Emit(ctx, events.TopicChatError, msg)
}

// Inbound handlers. They run on the connection's read goroutine, one at a
// time, in transport order.

func (m *Manager) handleMessage(ctx context.Context, p events.Payload) error {
	ev, ok := p.Data.(protocol.NewMessage)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", p.Data, p.Topic)
	}
	d := ev.Message
	msg := Message{
		ID:             d.ID,
		ClientID:       d.ClientID,
		ConversationID: ev.ConversationID,
		Content:        d.Content,
		ContentType:    d.ContentType,
		Timestamp:      d.Timestamp,
		SenderID:       d.SenderID,
		SenderName:     d.SenderName,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	if self := m.conn.UserID(); self != "" && msg.SenderID == self {
		msg.IsOwn = true
	}

	m.receive(ctx, msg)
	return nil
}

// receive applies a server-delivered message: it confirms a pending echo
// when one matches, otherwise appends (deduplicated by id). Messages for
// conversations not in the list are dropped.
func (m *Manager) receive(ctx context.Context, msg Message) {
	id := msg.ConversationID

	m.mu.Lock()
	if m.conversationIndexLocked(id) < 0 {
		m.mu.Unlock()
		m.log.Debug().Str("conversation", id).Str("id", msg.ID).Msg("message not for our conversations, dropped")
		return
	}

	buf := m.messages[id]
	if i := m.matchPendingLocked(buf, msg); i >= 0 {
		tempID := buf[i].ID
		confirmed := buf[i]
		confirmed.ID = msg.ID
		confirmed.Pending = false
		confirmed.Timestamp = msg.Timestamp
		if msg.SenderID != "" {
			confirmed.SenderID = msg.SenderID
		}
		if msg.SenderName != "" {
			confirmed.SenderName = msg.SenderName
		}
		buf[i] = confirmed
		m.mu.Unlock()

		m.log.Debug().Str("conversation", id).Str("tempId", tempID).Str("id", msg.ID).Msg("message confirmed")
		m.bus.Emit(ctx, events.TopicMessageReconciled, ReconcileEvent{ConversationID: id, TempID: tempID, Message: confirmed})
		return
	}

	if indexByID(buf, msg.ID) >= 0 {
		m.mu.Unlock()
		return
	}
	m.messages[id] = append(buf, msg)
	convs, touched := m.touchConversationLocked(msg)
	m.mu.Unlock()

	m.bus.Emit(ctx, events.TopicMessageAdded, MessageEvent{ConversationID: id, Message: msg})
	if touched {
		m.bus.Emit(ctx, events.TopicConversations, convs)
	}
}

// matchPendingLocked finds the pending echo msg confirms: first by echoed
// client id, then, for the user's own messages, by identical content sent
// within the reconcile window. Returns -1 when nothing matches.
func (m *Manager) matchPendingLocked(buf []Message, msg Message) int {
	if msg.ClientID != "" {
		if i := indexByClientID(buf, msg.ClientID); i >= 0 && buf[i].Pending {
			return i
		}
	}
	window := m.cfg.ReconcileWindow()
	if !msg.IsOwn || window <= 0 {
		return -1
	}
	now := m.now()
	for i, e := range buf {
		if e.Pending && e.Content == msg.Content && now.Sub(e.Timestamp) <= window {
			return i
		}
	}
	return -1
}

// touchConversationLocked updates the list summary for an accepted message
// and returns a copy of the list when it changed.
func (m *Manager) touchConversationLocked(msg Message) ([]Conversation, bool) {
	i := m.conversationIndexLocked(msg.ConversationID)
	if i < 0 {
		return nil, false
	}
	c := &m.conversations[i]
	c.LastMessage = msg.Content
	c.LastMessageAt = msg.Timestamp
	if !msg.IsOwn && m.selected != msg.ConversationID {
		c.UnreadCount++
	}
	return slices.Clone(m.conversations), true
}

func (m *Manager) restoreSummaryLocked(msg Message) ([]Conversation, bool) {
	i := m.conversationIndexLocked(msg.ConversationID)
	if i < 0 || !msg.Timestamp.After(m.conversations[i].LastMessageAt) {
		return nil, false
	}
	m.conversations[i].LastMessage = msg.Content
	m.conversations[i].LastMessageAt = msg.Timestamp
	return slices.Clone(m.conversations), true
}

func (m *Manager) handleTyping(ctx context.Context, p events.Payload) error {
	ev, ok := p.Data.(protocol.UserTyping)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", p.Data, p.Topic)
	}
	if self := m.conn.UserID(); self != "" && ev.UserID == self {
		return nil
	}
	user := ev.Identifier()
	id := ev.ConversationID

	m.mu.Lock()
	m.pruneTypingLocked(id)
	entries := m.typing[id]
	i := slices.IndexFunc(entries, func(e typingEntry) bool { return e.user == user })
	switch {
	case ev.IsTyping && i >= 0:
		entries[i].at = m.now()
	case ev.IsTyping:
		entries = append(entries, typingEntry{user: user, at: m.now()})
	case i >= 0:
		entries = slices.Delete(entries, i, i+1)
	}
	if len(entries) == 0 {
		delete(m.typing, id)
	} else {
		m.typing[id] = entries
	}
	users := typingNames(entries)
	m.mu.Unlock()

	m.bus.Emit(ctx, events.TopicTyping, TypingEvent{ConversationID: id, Users: users})
	return nil
}

// pruneTypingLocked drops expired entries for id and reports whether any
// were dropped.
func (m *Manager) pruneTypingLocked(id string) bool {
	ttl := m.cfg.TypingTimeout()
	entries, ok := m.typing[id]
	if ttl <= 0 || !ok {
		return false
	}
	now := m.now()
	kept := slices.DeleteFunc(entries, func(e typingEntry) bool {
		return now.Sub(e.at) > ttl
	})
	if len(kept) == len(entries) {
		return false
	}
	if len(kept) == 0 {
		delete(m.typing, id)
	} else {
		m.typing[id] = kept
	}
	return true
}

func (m *Manager) handleJoined(_ context.Context, p events.Payload) error {
	if ev, ok := p.Data.(protocol.ConversationJoined); ok {
		m.log.Info().Str("conversation", ev.ConversationID).Msg("joined conversation")
	}
	return nil
}

func (m *Manager) handleJoinError(ctx context.Context, p events.Payload) error {
	ev, ok := p.Data.(protocol.JoinError)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", p.Data, p.Topic)
	}
	m.setError(ctx, "Failed to join conversation: "+ev.Message)
	return nil
}

func (m *Manager) handleServerError(ctx context.Context, p events.Payload) error {
	ev, ok := p.Data.(protocol.ServerError)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", p.Data, p.Topic)
	}
	m.setError(ctx, "Socket error: "+ev.Message)
	return nil
}

func (m *Manager) handlePresence(ctx context.Context, p events.Payload) error {
	ev, ok := p.Data.(protocol.Presence)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", p.Data, p.Topic)
	}
	user := ev.UserID
	if user == "" {
		user = ev.UserEmail
	}
	if user == "" {
		return nil
	}

	m.mu.Lock()
	present := slices.Contains(m.online, user)
	switch {
	case ev.Online && !present:
		m.online = append(m.online, user)
	case !ev.Online && present:
		m.online = slices.DeleteFunc(m.online, func(u string) bool { return u == user })
	}
	m.mu.Unlock()

	m.bus.Emit(ctx, events.TopicPresence, PresenceEvent{UserID: user, Online: ev.Online})
	return nil
}

func (m *Manager) conversationIndexLocked(id string) int {
	return slices.IndexFunc(m.conversations, func(c Conversation) bool { return c.ID == id })
}

func indexByID(buf []Message, id string) int {
	return slices.IndexFunc(buf, func(e Message) bool { return e.ID == id })
}

func indexByClientID(buf []Message, clientID string) int {
	return slices.IndexFunc(buf, func(e Message) bool { return e.ClientID == clientID })
}

func typingNames(entries []typingEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.user)
	}
	return names
}
