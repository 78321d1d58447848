// Package ws isolates the gorilla/websocket transport (C7) behind a
// small connection type, so the protocol layer above it only deals in
// message bytes and never touches the underlying library directly.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Conn wraps a single upgraded WebSocket connection.
type Conn struct {
	ws *websocket.Conn
}

// Upgrade promotes an HTTP request to a WebSocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{ws: c}, nil
}

// ReadMessage blocks for the next text frame's payload.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// WriteMessage sends data as a single text frame.
func (c *Conn) WriteMessage(data []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// RemoteAddr returns the peer address as a string.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// SetReadDeadline sets the deadline for future ReadMessage calls.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// SetWriteDeadline sets the deadline for future WriteMessage calls.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

// IsUnexpectedClose reports whether err is a close error whose code is
// neither going-away (1001) nor abnormal closure (1006). Any other close
// code, including a normal closure, counts as unexpected; an error that
// is not a close error does not.
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure)
}
