// Package protocol defines the JSON frames exchanged with the real-time chat
// backend and decodes inbound frames into typed events.
package protocol

import (
	"encoding/json"
	"time"
)

// Event names on the wire.
const (
	EventAuthenticate        = "authenticate"
	EventAuthenticated       = "authenticated"
	EventAuthenticationError = "authentication_error"
	EventJoinConversation    = "join_conversation"
	EventLeaveConversation   = "leave_conversation"
	EventConversationJoined  = "conversation_joined"
	EventJoinError           = "join_error"
	EventMessageSent         = "message_sent"
	EventNewMessage          = "new_message"
	EventUserTyping          = "user_typing"
	EventError               = "error"
	EventUserConnected       = "user_connected"
	EventUserDisconnected    = "user_disconnected"
)

// InboundEvents lists the server events the client listens for.
var InboundEvents = []string{
	EventAuthenticated,
	EventAuthenticationError,
	EventConversationJoined,
	EventJoinError,
	EventMessageSent,
	EventNewMessage,
	EventUserTyping,
	EventError,
	EventUserConnected,
	EventUserDisconnected,
}

// Frame is the envelope for every WebSocket message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame creates a frame carrying the JSON encoding of data.
func NewFrame(event string, data any) (Frame, error) {
	if data == nil {
		return Frame{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}

// AuthenticatePayload binds the connection to a user identity.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// ConversationRef names a conversation in join/leave/joined frames.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload is the client's message_sent frame.
type SendMessagePayload struct {
	Message        OutgoingMessage `json:"message"`
	ConversationID string          `json:"conversationId"`
}

// OutgoingMessage is the message body of a client message_sent frame.
// ID and ClientID both carry the temporary client id; servers that echo
// client_id back let the sender reconcile its optimistic copy.
type OutgoingMessage struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"client_id"`
	Content        string    `json:"content"`
	ContentType    string    `json:"content_type"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// TypingPayload is a user_typing frame. UserID and UserEmail are filled by
// the server when relaying to other participants.
type TypingPayload struct {
	ConversationID string    `json:"conversationId"`
	IsTyping       bool      `json:"isTyping"`
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"userId,omitempty"`
	UserEmail      string    `json:"userEmail,omitempty"`
}

// AuthenticatedPayload is the server's handshake success frame.
type AuthenticatedPayload struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail,omitempty"`
}

// ErrorPayload carries a human-readable failure.
type ErrorPayload struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// PresencePayload announces a user connecting or disconnecting.
type PresencePayload struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail,omitempty"`
}

// MessagePayload is the server's new_message frame.
type MessagePayload struct {
	ConversationID string      `json:"conversationId"`
	Message        WireMessage `json:"message"`
}

// WireMessage is a message as the server sends it.
type WireMessage struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"client_id,omitempty"`
	Content        string    `json:"content"`
	ContentType    string    `json:"content_type,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	SenderID       string    `json:"sender_id,omitempty"`
	SenderName     string    `json:"sender_name,omitempty"`
}
