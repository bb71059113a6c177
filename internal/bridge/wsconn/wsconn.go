// Package wsconn implements internal/bridge's downstream ClientConn and
// Upgrader over github.com/coder/websocket, the same library used upstream
// by the Gemini Live client — here accepting connections rather than
// dialing them.
package wsconn

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/livebridge/internal/bridge"
)

// Upgrader accepts raw HTTP connections as WebSocket client connections.
type Upgrader struct {
	// OriginPatterns is forwarded to websocket.AcceptOptions.OriginPatterns.
	// Leave nil to accept same-origin requests only.
	OriginPatterns []string
}

var _ bridge.Upgrader = (*Upgrader)(nil)

// Upgrade accepts the WebSocket handshake and returns a Conn.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (bridge.ClientConn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: u.OriginPatterns,
	})
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// Conn adapts a *websocket.Conn to bridge.ClientConn, exchanging frames as
// single JSON text messages.
type Conn struct {
	conn *websocket.Conn
}

var _ bridge.ClientConn = (*Conn)(nil)

// ReadFrame blocks for the next client text frame and decodes it as an
// InFrame.
func (c *Conn) ReadFrame(ctx context.Context) (bridge.InFrame, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return bridge.InFrame{}, err
	}
	var frame bridge.InFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return bridge.InFrame{}, err
	}
	return frame, nil
}

// WriteFrame marshals frame and writes it as a single text message.
func (c *Conn) WriteFrame(ctx context.Context, frame bridge.OutFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close closes the underlying connection with the given WebSocket close
// code and reason.
func (c *Conn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}
