package mux

import (
	"io"
	"net"
	"os"
	"sync"

	"github.com/progrium/dchan-go/transport"
)

// ioListener wraps a single ReadWriteCloser to use as a listener.
type ioListener struct {
	io.ReadWriteCloser
	cfg Config

	once   sync.Once
	closed chan struct{}
}

// Accept returns the wrapped ReadWriteCloser as a mux connection the
// first time, then blocks until the listener is closed.
func (l *ioListener) Accept() (transport.Conn, error) {
	var conn *Conn
	l.once.Do(func() {
		conn = New(l.ReadWriteCloser, l.cfg)
	})
	if conn != nil {
		return conn, nil
	}
	<-l.closed
	return nil, io.EOF
}

func (l *ioListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *ioListener) Addr() net.Addr {
	return nil
}

type ioduplex struct {
	io.WriteCloser
	io.ReadCloser
}

func (d *ioduplex) Close() error {
	if err := d.WriteCloser.Close(); err != nil {
		return err
	}
	if err := d.ReadCloser.Close(); err != nil {
		return err
	}
	return nil
}

// ListenIO returns a Listener that gives a mux connection based on
// separate WriteCloser and ReadClosers.
func ListenIO(out io.WriteCloser, in io.ReadCloser, cfg Config) (Listener, error) {
	cfg.Dialer = false
	return &ioListener{
		ReadWriteCloser: &ioduplex{out, in},
		cfg:             cfg,
		closed:          make(chan struct{}),
	}, nil
}

// ListenStdio is a convenience for calling ListenIO with Stdout and Stdin.
func ListenStdio(cfg Config) (Listener, error) {
	return ListenIO(os.Stdout, os.Stdin, cfg)
}
