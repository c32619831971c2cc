package mux

import (
	"net"

	"github.com/progrium/dchan-go/transport"
)

// NetListener wraps a net.Listener to return connected mux connections.
type NetListener struct {
	net.Listener
	cfg Config
}

// Accept waits for and returns the next connected mux connection.
func (l *NetListener) Accept() (transport.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return New(conn, l.cfg), nil
}

// Close closes the listener.
// Any blocked Accept operations will be unblocked and return errors.
func (l *NetListener) Close() error {
	return l.Listener.Close()
}

func listenNet(proto, addr string, cfg Config) (*NetListener, error) {
	l, err := net.Listen(proto, addr)
	if err != nil {
		return nil, err
	}
	cfg.Dialer = false
	return &NetListener{Listener: l, cfg: cfg}, nil
}

// ListenTCP creates a TCP listener at the given address.
func ListenTCP(addr string, cfg Config) (*NetListener, error) {
	return listenNet("tcp", addr, cfg)
}

// ListenUnix creates a Unix domain socket listener at the given path.
func ListenUnix(path string, cfg Config) (*NetListener, error) {
	return listenNet("unix", path, cfg)
}
