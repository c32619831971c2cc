package mux

import (
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/progrium/dchan-go/transport"
	"golang.org/x/net/websocket"
)

// wsListener wraps a net.Listener and WebSocket server to return connected mux connections.
type wsListener struct {
	net.Listener
	accepted chan *Conn
	closed   chan struct{}
	once     sync.Once
}

// Accept waits for and returns the next connected mux connection.
func (l *wsListener) Accept() (transport.Conn, error) {
	select {
	case conn := <-l.accepted:
		return conn, nil
	case <-l.closed:
		return nil, io.EOF
	}
}

// Close closes the listener.
// Any blocked Accept operations will be unblocked and return errors.
func (l *wsListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return l.Listener.Close()
}

func (l *wsListener) Addr() net.Addr {
	return l.Listener.Addr()
}

// ListenWS takes a TCP address and returns a Listener for a HTTP+WebSocket server listening on the given address.
func ListenWS(addr string, cfg Config) (Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	cfg.Dialer = false
	wsl := &wsListener{
		Listener: l,
		accepted: make(chan *Conn),
		closed:   make(chan struct{}),
	}
	srv := &http.Server{
		Addr: addr,
		Handler: websocket.Handler(func(ws *websocket.Conn) {
			ws.PayloadType = websocket.BinaryFrame
			conn := New(ws, cfg)
			defer conn.Close()
			select {
			case wsl.accepted <- conn:
			case <-wsl.closed:
				return
			}
			<-conn.Done()
		}),
	}
	go srv.Serve(l)
	return wsl, nil
}
