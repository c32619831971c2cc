package mux

import (
	"context"
	"fmt"

	"golang.org/x/net/websocket"
)

// DialWS establishes a mux connection via WebSocket connection.
// The address must be a host and port. Opening a WebSocket
// connection at a particular path is not supported.
func DialWS(ctx context.Context, addr string, cfg Config) (*Conn, error) {
	wsCfg, err := websocket.NewConfig(fmt.Sprintf("ws://%s/", addr), fmt.Sprintf("http://%s/", addr))
	if err != nil {
		return nil, err
	}
	ws, err := wsCfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	ws.PayloadType = websocket.BinaryFrame
	cfg.Dialer = true
	return New(ws, cfg), nil
}
