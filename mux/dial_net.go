package mux

import (
	"context"
	"net"
)

func dialNet(ctx context.Context, proto, addr string, cfg Config) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, proto, addr)
	if err != nil {
		return nil, err
	}
	cfg.Dialer = true
	return New(conn, cfg), nil
}

// DialTCP establishes a mux connection via TCP connection.
func DialTCP(ctx context.Context, addr string, cfg Config) (*Conn, error) {
	return dialNet(ctx, "tcp", addr, cfg)
}

// DialUnix establishes a mux connection via Unix domain socket.
func DialUnix(ctx context.Context, path string, cfg Config) (*Conn, error) {
	return dialNet(ctx, "unix", path, cfg)
}
