// Package events provides the in-process publish/subscribe bus that
// decouples connection lifecycle and chat state changes from their consumers.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/parley/internal/logging"
)

// Connection lifecycle topics.
const (
	TopicConnecting          = "connecting"
	TopicConnected           = "connected"
	TopicConnectionError     = "connection_error"
	TopicAuthenticated       = "authenticated"
	TopicAuthenticationError = "authentication_error"
	TopicDisconnected        = "disconnected"
	TopicReconnectAttempt    = "reconnect_attempt"
	TopicReconnected         = "reconnected"
	TopicReconnectError      = "reconnect_error"
	TopicReconnectFailed     = "reconnect_failed"
	TopicUserConnected       = "user_connected"
	TopicUserDisconnected    = "user_disconnected"
)

// Chat state topics.
const (
	TopicConversations     = "chat.conversations"
	TopicSelected          = "chat.selected"
	TopicMessageAdded      = "chat.message_added"
	TopicMessageReconciled = "chat.message_reconciled"
	TopicMessagesCleared   = "chat.messages_cleared"
	TopicTyping            = "chat.typing"
	TopicPresence          = "chat.presence"
	TopicChatError         = "chat.error"
)

// LifecycleTopics lists every connection lifecycle topic.
var LifecycleTopics = []string{
	TopicConnecting,
	TopicConnected,
	TopicConnectionError,
	TopicAuthenticated,
	TopicAuthenticationError,
	TopicDisconnected,
	TopicReconnectAttempt,
	TopicReconnected,
	TopicReconnectError,
	TopicReconnectFailed,
	TopicUserConnected,
	TopicUserDisconnected,
}

// Payload carries event data to handlers. Data holds a typed value whose
// concrete type depends on the topic.
type Payload struct {
	Topic string
	Data  any
}

// Handler handles a published event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Bus manages handler registrations and dispatches events.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewBus creates an event bus.
func NewBus(log *logging.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("events"),
	}
}

// On registers a handler for the given topic. Registering a second handler
// under the same name replaces the first in place.
func (b *Bus) On(topic, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, h := range b.handlers[topic] {
		if h.name == name {
			b.handlers[topic][i].handler = handler
			return
		}
	}
	b.handlers[topic] = append(b.handlers[topic], namedHandler{name: name, handler: handler})
	b.log.Trace().Str("topic", topic).Str("handler", name).Msg("handler registered")
}

// Off removes the handler with the given name from the topic.
func (b *Bus) Off(topic, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[topic]
	filtered := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	if len(filtered) == 0 {
		delete(b.handlers, topic)
		return
	}
	b.handlers[topic] = filtered
}

// Emit dispatches an event to all registered handlers synchronously.
// Handlers are called in registration order. Errors and panics are logged
// and do not prevent subsequent handlers from running.
func (b *Bus) Emit(ctx context.Context, topic string, data any) {
	b.mu.RLock()
	handlers := make([]namedHandler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	payload := Payload{Topic: topic, Data: data}
	for _, h := range handlers {
		if err := b.call(ctx, h, payload); err != nil {
			b.log.Warn().
				Err(err).
				Str("topic", topic).
				Str("handler", h.name).
				Msg("event handler error")
		}
	}
}

func (b *Bus) call(ctx context.Context, h namedHandler, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.handler(ctx, p)
}

// Count returns the number of handlers registered for a topic.
func (b *Bus) Count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// Topics returns the topics that have at least one handler registered.
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.handlers))
	for topic, handlers := range b.handlers {
		if len(handlers) > 0 {
			topics = append(topics, topic)
		}
	}
	return topics
}

// Clear removes every handler.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]namedHandler)
}
