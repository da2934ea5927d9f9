package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/protocol"
	"github.com/soyeahso/parley/internal/transport"
)

// Client is an authenticated relay connection.
type Client struct {
	ConnID      string
	Identity    Identity
	ConnectedAt time.Time

	conn transport.Conn
}

// NewClient creates a Client for a connection that has authenticated.
func NewClient(conn transport.Conn, id Identity) *Client {
	return &Client{
		ConnID:      uuid.NewString(),
		Identity:    id,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

// Send writes a named event to the client.
func (c *Client) Send(event string, payload any) error {
	f, err := protocol.NewFrame(event, payload)
	if err != nil {
		return err
	}
	return c.conn.WriteFrame(f)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ClientRegistry tracks connected clients and the conversations they joined.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client // conversation id → connID → client
	log     *logging.Logger
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("user", c.Identity.UserID).Msg("client connected")
}

// Remove unregisters a client and drops it from every room.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[connID]; !ok {
		return
	}
	delete(r.clients, connID)
	for conv, members := range r.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, conv)
		}
	}
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Join adds a client to a conversation room.
func (r *ClientRegistry) Join(connID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[connID]
	if !ok {
		return
	}
	members := r.rooms[conversationID]
	if members == nil {
		members = make(map[string]*Client)
		r.rooms[conversationID] = members
	}
	members[connID] = c
}

// Leave removes a client from a conversation room.
func (r *ClientRegistry) Leave(connID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[conversationID]
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, conversationID)
	}
}

// InRoom reports whether a client has joined a conversation.
func (r *ClientRegistry) InRoom(connID, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationID][connID]
	return ok
}

// Members returns the user ids present in a conversation, sorted and
// without duplicates.
func (r *ClientRegistry) Members(conversationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var ids []string
	for _, c := range r.rooms[conversationID] {
		if !seen[c.Identity.UserID] {
			seen[c.Identity.UserID] = true
			ids = append(ids, c.Identity.UserID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Broadcast sends an event to every client except the one with connID
// exceptConnID. Pass "" to reach everyone.
func (r *ClientRegistry) Broadcast(event string, payload any, exceptConnID string) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()
	r.send(targets, event, payload)
}

// BroadcastRoom sends an event to every member of a conversation except
// exceptConnID.
func (r *ClientRegistry) BroadcastRoom(conversationID, event string, payload any, exceptConnID string) {
	r.mu.RLock()
	members := r.rooms[conversationID]
	targets := make([]*Client, 0, len(members))
	for id, c := range members {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()
	r.send(targets, event, payload)
}

func (r *ClientRegistry) send(targets []*Client, event string, payload any) {
	for _, c := range targets {
		if err := c.Send(event, payload); err != nil {
			r.log.Debug().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("broadcast failed")
		}
	}
}

// CloseAll closes every client connection.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
	r.rooms = make(map[string]map[string]*Client)
}
