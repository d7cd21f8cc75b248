package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade accepts a signaling connection on an HTTP request. On failure the
// upgrader has already replied to the client.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade WS connection: %w", err)
	}
	return NewChannel(conn, opts), nil
}

// Dial connects to the signaling server at url, e.g. ws://localhost:8080/ws.
func Dial(ctx context.Context, url string, opts Options) (*Channel, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return NewChannel(conn, opts), nil
}
