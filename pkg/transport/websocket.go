package transport

import (
	"context"
	"fmt"

	"github.com/edgeflare/pgfan/pkg/fanout"
	"github.com/gorilla/websocket"
)

// WebSocket delivers events as JSON text messages over one websocket
// connection.
type WebSocket struct {
	conn *websocket.Conn
}

func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

func (w *WebSocket) Name() string {
	return "websocket"
}

func (w *WebSocket) Send(_ context.Context, event fanout.Event) error {
	if err := w.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("write websocket message: %w", err)
	}
	return nil
}

func (w *WebSocket) Close() error {
	return w.conn.Close()
}
