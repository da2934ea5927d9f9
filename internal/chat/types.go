package chat

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/parley/internal/events"
)

// ErrInvalidOperation is returned by SendMessage when the message is empty
// or the connection cannot carry it.
var ErrInvalidOperation = errors.New("cannot send message: socket not ready or content empty")

// Conversation types.
const (
	TypePrivate = "private"
	TypeGroup   = "group"
)

// ContentTypeText is the default message content type.
const ContentTypeText = "text"

// Message is one entry in a conversation buffer.
type Message struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"clientId,omitempty"` // temporary id of an optimistic echo
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	ContentType    string    `json:"contentType"`
	Timestamp      time.Time `json:"timestamp"`
	IsOwn          bool      `json:"isOwn"`
	SenderID       string    `json:"senderId,omitempty"`
	SenderName     string    `json:"senderName,omitempty"`
	Pending        bool      `json:"pending,omitempty"` // sent but not yet confirmed by the server
}

// UserSummary describes the other participant of a private conversation.
type UserSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
	LastSeen string `json:"lastSeen,omitempty"` // timestamp or "online"
}

// Conversation is a summary entry in the conversation list.
type Conversation struct {
	ID            string       `json:"id"`
	Type          string       `json:"type"`
	Title         string       `json:"title,omitempty"`
	LastMessage   string       `json:"lastMessage,omitempty"`
	LastMessageAt time.Time    `json:"lastMessageAt,omitempty"`
	UnreadCount   int          `json:"unreadCount"`
	OtherUser     *UserSummary `json:"otherUser,omitempty"`
	CreatedAt     time.Time    `json:"createdAt,omitempty"`
	UpdatedAt     time.Time    `json:"updatedAt,omitempty"`
	UserRole      string       `json:"userRole,omitempty"`
}

// DisplayName returns the title, falling back to the other participant's
// name and finally the id.
func (c Conversation) DisplayName() string {
	switch {
	case c.Title != "":
		return c.Title
	case c.OtherUser != nil && c.OtherUser.Name != "":
		return c.OtherUser.Name
	default:
		return c.ID
	}
}

// State is a snapshot of the chat state. Snapshots share nothing with the
// manager and can be kept or modified freely.
type State struct {
	SelectedConversationID string               `json:"selectedConversationId,omitempty"`
	Messages               map[string][]Message `json:"messages"`
	Typing                 map[string][]string  `json:"typing"`
	Conversations          []Conversation       `json:"conversations"`
	Online                 []string             `json:"online"`
	Loading                bool                 `json:"loading"`
	Error                  string               `json:"error,omitempty"`
}

// Connection is the part of the connection manager the chat layer uses.
type Connection interface {
	Emit(event string, payload any) bool
	On(event, name string, handler events.Handler)
	Off(event, name string)
	Ready() bool
	UserID() string
}

// ConversationSource lists the user's conversations, typically over REST.
type ConversationSource interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
}

// ConversationCreator opens private conversations, typically over REST.
type ConversationCreator interface {
	CreatePrivateConversation(ctx context.Context, userID string) (Conversation, error)
}

// Event payloads published on the chat topics.

// MessageEvent is published with chat.message_added.
type MessageEvent struct {
	ConversationID string
	Message        Message
}

// ReconcileEvent is published with chat.message_reconciled when an
// optimistic echo is confirmed by the server.
type ReconcileEvent struct {
	ConversationID string
	TempID         string
	Message        Message
}

// TypingEvent is published with chat.typing.
type TypingEvent struct {
	ConversationID string
	Users          []string
}

// PresenceEvent is published with chat.presence.
type PresenceEvent struct {
	UserID string
	Online bool
}
