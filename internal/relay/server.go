// Package relay is a small WebSocket chat relay speaking the parley wire
// protocol. It authenticates clients against a token table, tracks which
// conversations each client joined and fans messages out to room members.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/parley/internal/chat"
	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/protocol"
	"github.com/soyeahso/parley/internal/transport"
	"github.com/soyeahso/parley/internal/version"
)

var errRateLimited = errors.New("too many failed authentication attempts")

const handshakeTimeout = 10 * time.Second

// Server is the relay HTTP + WebSocket server.
type Server struct {
	cfg     config.RelayConfig
	users   []config.RelayUser
	log     *logging.Logger
	clients *ClientRegistry
	version string

	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter

	mu         sync.Mutex
	httpServer *http.Server
	addr       string
}

// ServerOption configures the relay.
type ServerOption func(*Server)

// WithUsers replaces the token table taken from config.
func WithUsers(users []config.RelayUser) ServerOption {
	return func(s *Server) { s.users = users }
}

// New creates a relay server.
func New(cfg config.RelayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		users:       ResolveUsers(cfg.Users),
		log:         log.Sub("relay"),
		clients:     NewClientRegistry(log.Sub("clients")),
		version:     version.Version,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the relay's HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("/", handleNotFound)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.RelayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start listens for connections and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	if len(s.users) == 0 {
		s.log.Warn().Msg("no relay users configured; every authentication will fail")
	}
	if s.cfg.Bind == "lan" || s.cfg.Bind == "custom" {
		s.log.Warn().Msg("relay is not on loopback and does not terminate TLS; tokens travel in cleartext")
	}
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Int("users", len(s.users)).
		Msg("relay server ready")

	stop := make(chan struct{})
	go s.authLimiter.run(stop)

	go func() {
		<-ctx.Done()
		close(stop)
		s.log.Info().Msg("shutting down relay server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Clients returns the number of authenticated connections.
func (s *Server) Clients() int {
	return s.clients.Count()
}

// Members returns the user ids that joined a conversation.
func (s *Server) Members(conversationID string) []string {
	return s.clients.Members(conversationID)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited: too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := transport.NewWebSocketConn(socket)
	defer conn.Close()

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("new websocket connection")

	socket.SetReadDeadline(time.Now().Add(handshakeTimeout))
	client, err := s.handshake(conn, r.RemoteAddr)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		return
	}
	socket.SetReadDeadline(time.Time{})

	presence := protocol.PresencePayload{UserID: client.Identity.UserID, UserEmail: client.Identity.Email}
	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		s.clients.Broadcast(protocol.EventUserDisconnected, presence, "")
	}()

	if err := client.Send(protocol.EventAuthenticated, protocol.AuthenticatedPayload{
		UserID:    client.Identity.UserID,
		UserEmail: client.Identity.Email,
	}); err != nil {
		return
	}
	s.clients.Broadcast(protocol.EventUserConnected, presence, client.ConnID)

	s.readLoop(client, conn)
}

// handshake reads frames until the client authenticates. Failed attempts
// are answered with authentication_error and the connection stays open
// until the remote host is rate limited.
func (s *Server) handshake(conn transport.Conn, remote string) (*Client, error) {
	for {
		f, err := conn.ReadFrame()
		if errors.Is(err, transport.ErrMalformedFrame) {
			sendTo(conn, protocol.EventError, protocol.ErrorPayload{Message: "invalid frame"})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading authenticate: %w", err)
		}
		if f.Event != protocol.EventAuthenticate {
			sendTo(conn, protocol.EventError, protocol.ErrorPayload{Message: "not authenticated"})
			continue
		}

		var p protocol.AuthenticatePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			p.Token = ""
		}
		res := Authorize(s.users, p.Token)
		if res.OK {
			s.log.Info().Str("user", res.Identity.UserID).Str("remote", remote).Msg("client authenticated")
			return NewClient(conn, res.Identity), nil
		}

		s.authLimiter.recordFailure(remote)
		sendTo(conn, protocol.EventAuthenticationError, protocol.ErrorPayload{Message: res.Reason})
		if !s.authLimiter.allow(remote) {
			return nil, errRateLimited
		}
	}
}

func (s *Server) readLoop(client *Client, conn transport.Conn) {
	for {
		f, err := conn.ReadFrame()
		if errors.Is(err, transport.ErrMalformedFrame) {
			client.Send(protocol.EventError, protocol.ErrorPayload{Message: "invalid frame"})
			continue
		}
		if err != nil {
			if transport.IsNormalClose(err) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		s.dispatch(client, f)
	}
}

func (s *Server) dispatch(c *Client, f protocol.Frame) {
	switch f.Event {
	case protocol.EventAuthenticate:
		c.Send(protocol.EventAuthenticated, protocol.AuthenticatedPayload{
			UserID:    c.Identity.UserID,
			UserEmail: c.Identity.Email,
		})
	case protocol.EventJoinConversation:
		s.handleJoin(c, f.Data)
	case protocol.EventLeaveConversation:
		var p protocol.ConversationRef
		if err := json.Unmarshal(f.Data, &p); err == nil && p.ConversationID != "" {
			s.clients.Leave(c.ConnID, p.ConversationID)
		}
	case protocol.EventMessageSent:
		s.handleMessage(c, f.Data)
	case protocol.EventUserTyping:
		s.handleTyping(c, f.Data)
	default:
		c.Send(protocol.EventError, protocol.ErrorPayload{Message: "unknown event: " + f.Event})
	}
}

func (s *Server) handleJoin(c *Client, data json.RawMessage) {
	var p protocol.ConversationRef
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		c.Send(protocol.EventJoinError, protocol.ErrorPayload{Message: "conversationId is required"})
		return
	}
	s.clients.Join(c.ConnID, p.ConversationID)
	c.Send(protocol.EventConversationJoined, protocol.ConversationRef{ConversationID: p.ConversationID})
	s.log.Debug().Str("connId", c.ConnID).Str("conversation", p.ConversationID).Msg("joined")
}

func (s *Server) handleMessage(c *Client, data json.RawMessage) {
	var p protocol.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.Send(protocol.EventError, protocol.ErrorPayload{Message: "invalid message payload"})
		return
	}
	conv := p.ConversationID
	if conv == "" {
		conv = p.Message.ConversationID
	}
	if !s.clients.InRoom(c.ConnID, conv) {
		c.Send(protocol.EventError, protocol.ErrorPayload{ConversationID: conv, Message: "not a member of this conversation"})
		return
	}
	if strings.TrimSpace(p.Message.Content) == "" {
		c.Send(protocol.EventError, protocol.ErrorPayload{ConversationID: conv, Message: "message content is required"})
		return
	}

	clientID := p.Message.ClientID
	if clientID == "" {
		clientID = p.Message.ID
	}
	contentType := p.Message.ContentType
	if contentType == "" {
		contentType = chat.ContentTypeText
	}
	s.clients.BroadcastRoom(conv, protocol.EventNewMessage, protocol.MessagePayload{
		ConversationID: conv,
		Message: protocol.WireMessage{
			ID:             uuid.NewString(),
			ClientID:       clientID,
			Content:        p.Message.Content,
			ContentType:    contentType,
			ConversationID: conv,
			CreatedAt:      time.Now().UTC(),
			SenderID:       c.Identity.UserID,
			SenderName:     c.Identity.Name,
		},
	}, "")
}

func (s *Server) handleTyping(c *Client, data json.RawMessage) {
	var p protocol.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil || !s.clients.InRoom(c.ConnID, p.ConversationID) {
		return
	}
	p.UserID = c.Identity.UserID
	p.UserEmail = c.Identity.Email
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	s.clients.BroadcastRoom(p.ConversationID, protocol.EventUserTyping, p, c.ConnID)
}

func sendTo(conn transport.Conn, event string, payload any) {
	if f, err := protocol.NewFrame(event, payload); err == nil {
		conn.WriteFrame(f)
	}
}
