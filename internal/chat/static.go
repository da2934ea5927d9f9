package chat

import (
	"context"
	"slices"

	"github.com/soyeahso/parley/internal/config"
)

// StaticConversations is a ConversationSource backed by a fixed list,
// usually the conversations declared in the config file.
type StaticConversations []Conversation

// ListConversations returns a copy of the list.
func (s StaticConversations) ListConversations(context.Context) ([]Conversation, error) {
	return slices.Clone(s), nil
}

// ConversationsFromConfig converts config entries into a StaticConversations.
// Entries without a type are treated as group conversations.
func ConversationsFromConfig(entries []config.ConversationEntry) StaticConversations {
	out := make(StaticConversations, 0, len(entries))
	for _, e := range entries {
		typ := e.Type
		if typ == "" {
			typ = TypeGroup
		}
		out = append(out, Conversation{ID: e.ID, Type: typ, Title: e.Title})
	}
	return out
}
