// Package transport carries protocol frames over a WebSocket connection.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/parley/internal/protocol"
)

var (
	// ErrClosed is returned when writing to a closed connection.
	ErrClosed = errors.New("transport: connection closed")

	// ErrMalformedFrame is returned by ReadFrame for a message that is not a
	// JSON frame. The session is still usable.
	ErrMalformedFrame = errors.New("transport: malformed frame")
)

const (
	maxFrameSize = 4 * 1024 * 1024
	writeTimeout = 10 * time.Second
)

// Conn is a live, framed transport session.
type Conn interface {
	ReadFrame() (protocol.Frame, error)
	WriteFrame(protocol.Frame) error
	Close() error
}

// Dialer opens transport sessions.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials gorilla/websocket connections.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

// Dial opens a WebSocket connection to url. The context bounds the
// handshake; HandshakeTimeout applies on top of it when set.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	socket, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketConn(socket), nil
}

// WebSocketConn adapts a gorilla connection to Conn. Writes are serialized;
// reads must come from a single goroutine.
type WebSocketConn struct {
	socket *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewWebSocketConn wraps an established gorilla connection.
func NewWebSocketConn(socket *websocket.Conn) *WebSocketConn {
	socket.SetReadLimit(maxFrameSize)
	return &WebSocketConn{socket: socket}
}

// ReadFrame reads the next frame from the WebSocket. Any error other than
// ErrMalformedFrame ends the session.
func (c *WebSocketConn) ReadFrame() (protocol.Frame, error) {
	_, msg, err := c.socket.ReadMessage()
	if err != nil {
		return protocol.Frame{}, err
	}
	var f protocol.Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return protocol.Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// WriteFrame sends a frame. Thread-safe.
func (c *WebSocketConn) WriteFrame(f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.socket.WriteJSON(f)
}

// Close sends a normal close frame and closes the socket. Idempotent.
func (c *WebSocketConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.socket.Close()
}

// IsNormalClose reports whether err is a clean close from the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// IsDeliberateClose reports whether the peer ended the session on purpose
// with a normal closure. A going-away close (server restart) is not
// deliberate and may be retried.
func IsDeliberateClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}
