package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// UnknownUser identifies a typing user whose event carried no identity.
const UnknownUser = "Unknown User"

// ErrMissingField is returned when a frame lacks a field its event requires.
var ErrMissingField = errors.New("missing required field")

// Event is a decoded inbound frame. Each server event has its own variant.
type Event interface {
	EventName() string
}

// Authenticated reports handshake success.
type Authenticated struct {
	UserID    string
	UserEmail string
}

// AuthenticationError reports handshake failure.
type AuthenticationError struct {
	Message string
}

// ConversationJoined acknowledges a join.
type ConversationJoined struct {
	ConversationID string
}

// JoinError reports a rejected join.
type JoinError struct {
	ConversationID string
	Message        string
}

// NewMessage delivers a message. Name is the wire event it arrived on
// (new_message or message_sent).
type NewMessage struct {
	Name           string
	ConversationID string
	Message        MessageData
}

// MessageData is a delivered message with all field fallbacks resolved.
type MessageData struct {
	ID          string
	ClientID    string
	Content     string
	ContentType string
	Timestamp   time.Time
	SenderID    string
	SenderName  string
}

// UserTyping reports another participant starting or stopping typing.
type UserTyping struct {
	ConversationID string
	UserID         string
	UserEmail      string
	IsTyping       bool
	Timestamp      time.Time
}

// Identifier returns the name shown in typing indicators: the email when
// present, else the user id, else UnknownUser.
func (e UserTyping) Identifier() string {
	switch {
	case e.UserEmail != "":
		return e.UserEmail
	case e.UserID != "":
		return e.UserID
	default:
		return UnknownUser
	}
}

// ServerError is a generic protocol fault.
type ServerError struct {
	Message string
}

// Presence reports a user connecting (Online) or disconnecting.
type Presence struct {
	UserID    string
	UserEmail string
	Online    bool
}

// Unknown is any event this package has no variant for.
type Unknown struct {
	Name string
	Data json.RawMessage
}

func (Authenticated) EventName() string       { return EventAuthenticated }
func (AuthenticationError) EventName() string { return EventAuthenticationError }
func (ConversationJoined) EventName() string  { return EventConversationJoined }
func (JoinError) EventName() string           { return EventJoinError }
func (e NewMessage) EventName() string        { return e.Name }
func (UserTyping) EventName() string          { return EventUserTyping }
func (ServerError) EventName() string         { return EventError }
func (e Unknown) EventName() string           { return e.Name }

func (e Presence) EventName() string {
	if e.Online {
		return EventUserConnected
	}
	return EventUserDisconnected
}

// flexID accepts ids sent as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// flexTime accepts timestamps sent as RFC 3339 strings or as unix
// milliseconds, either bare or quoted. Unparseable values yield the zero
// time rather than failing the frame.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = flexTime{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexTime(parseTime(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("timestamp must be a string or number: %w", err)
	}
	ms, err := n.Int64()
	if err != nil {
		fl, ferr := n.Float64()
		if ferr != nil {
			*f = flexTime{}
			return nil
		}
		ms = int64(fl)
	}
	*f = flexTime(time.UnixMilli(ms))
	return nil
}

func (f flexTime) Time() time.Time { return time.Time(f) }

type inboundMessage struct {
	ID             flexID   `json:"id"`
	ClientID       string   `json:"client_id"`
	TempID         string   `json:"tempId"`
	Content        string   `json:"content"`
	Message        string   `json:"message"`
	ContentType    string   `json:"content_type"`
	ConversationID flexID   `json:"conversation_id"`
	CreatedAt      flexTime `json:"created_at"`
	Timestamp      flexTime `json:"timestamp"`
	SenderID       flexID   `json:"sender_id"`
	UserID         flexID   `json:"user_id"`
	SenderName     string   `json:"sender_name"`
	Username       string   `json:"username"`
}

type inboundMessageFrame struct {
	ConversationID flexID          `json:"conversationId"`
	Message        *inboundMessage `json:"message"`
}

type inboundTyping struct {
	ConversationID flexID   `json:"conversationId"`
	UserID         flexID   `json:"userId"`
	UserEmail      string   `json:"userEmail"`
	IsTyping       bool     `json:"isTyping"`
	Timestamp      flexTime `json:"timestamp"`
}

type inboundIdentity struct {
	UserID    flexID `json:"userId"`
	UserEmail string `json:"userEmail"`
}

type inboundError struct {
	ConversationID flexID `json:"conversationId"`
	Message        string `json:"message"`
}

// Decode converts an inbound frame into its typed variant. Events without a
// variant decode to Unknown. Malformed JSON and missing required fields
// return an error.
func Decode(f Frame) (Event, error) {
	switch f.Event {
	case EventAuthenticated:
		var p inboundIdentity
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return Authenticated{UserID: string(p.UserID), UserEmail: p.UserEmail}, nil

	case EventAuthenticationError:
		var p inboundError
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return AuthenticationError{Message: orDefault(p.Message, "authentication failed")}, nil

	case EventConversationJoined:
		var p inboundError
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return ConversationJoined{ConversationID: string(p.ConversationID)}, nil

	case EventJoinError:
		var p inboundError
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return JoinError{
			ConversationID: string(p.ConversationID),
			Message:        orDefault(p.Message, "Unknown error"),
		}, nil

	case EventNewMessage, EventMessageSent:
		return decodeMessage(f)

	case EventUserTyping:
		var p inboundTyping
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		if p.ConversationID == "" {
			return nil, fmt.Errorf("%s: %w: conversationId", f.Event, ErrMissingField)
		}
		return UserTyping{
			ConversationID: string(p.ConversationID),
			UserID:         string(p.UserID),
			UserEmail:      p.UserEmail,
			IsTyping:       p.IsTyping,
			Timestamp:      p.Timestamp.Time(),
		}, nil

	case EventError:
		var p inboundError
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return ServerError{Message: orDefault(p.Message, "Unknown error")}, nil

	case EventUserConnected, EventUserDisconnected:
		var p inboundIdentity
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return Presence{
			UserID:    string(p.UserID),
			UserEmail: p.UserEmail,
			Online:    f.Event == EventUserConnected,
		}, nil

	default:
		return Unknown{Name: f.Event, Data: f.Data}, nil
	}
}

func decodeMessage(f Frame) (Event, error) {
	var p inboundMessageFrame
	if err := unmarshal(f, &p); err != nil {
		return nil, err
	}
	if p.Message == nil {
		return nil, fmt.Errorf("%s: %w: message", f.Event, ErrMissingField)
	}
	m := p.Message

	convID := string(p.ConversationID)
	if convID == "" {
		convID = string(m.ConversationID)
	}
	if convID == "" {
		return nil, fmt.Errorf("%s: %w: conversationId", f.Event, ErrMissingField)
	}

	ts := m.Timestamp.Time()
	if ts.IsZero() {
		ts = m.CreatedAt.Time()
	}

	sender := string(m.SenderID)
	if sender == "" {
		sender = string(m.UserID)
	}

	return NewMessage{
		Name:           f.Event,
		ConversationID: convID,
		Message: MessageData{
			ID:          string(m.ID),
			ClientID:    orDefault(m.ClientID, m.TempID),
			Content:     orDefault(m.Content, m.Message),
			ContentType: orDefault(m.ContentType, "text"),
			Timestamp:   ts,
			SenderID:    sender,
			SenderName:  orDefault(m.SenderName, m.Username),
		},
	}, nil
}

func unmarshal(f Frame, target any) error {
	if len(f.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Data, target); err != nil {
		return fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return nil
}

// parseTime accepts RFC 3339 strings (with or without fractional seconds)
// and quoted unix milliseconds. Anything else yields the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

func orDefault(s, def string) string {
	if s != "" {
		return s
	}
	return def
}
