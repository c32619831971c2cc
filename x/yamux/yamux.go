// Package yamux carries data channels over a yamux session, one yamux
// stream per channel.
package yamux

import (
	"context"
	"io"
	"net"
	"strings"

	"github.com/hashicorp/yamux"
	"github.com/pion/logging"
	"github.com/progrium/dchan-go/mux"
	"github.com/progrium/dchan-go/transport"
)

// New starts a yamux session over conn. The dialing side must set
// cfg.Dialer and becomes the yamux client.
func New(conn io.ReadWriteCloser, cfg mux.Config) (*mux.StreamConn, error) {
	ycfg := yamux.DefaultConfig()
	ycfg.LogOutput = &logWriter{log: logger(cfg)}

	var (
		sess *yamux.Session
		err  error
	)
	if cfg.Dialer {
		sess, err = yamux.Client(conn, ycfg)
	} else {
		sess, err = yamux.Server(conn, ycfg)
	}
	if err != nil {
		return nil, err
	}
	return mux.NewStreamConn(&streamer{sess}, cfg), nil
}

func logger(cfg mux.Config) logging.LeveledLogger {
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return lf.NewLogger("yamux")
}

// Dial connects to a TCP address and starts a yamux client session.
func Dial(ctx context.Context, addr string, cfg mux.Config) (*mux.StreamConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	cfg.Dialer = true
	sc, err := New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sc, nil
}

// Listener accepts TCP connections as yamux server sessions.
type Listener struct {
	net.Listener
	cfg mux.Config
}

// Listen listens on the TCP address addr.
func Listen(addr string, cfg mux.Config) (*Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	cfg.Dialer = false
	return &Listener{Listener: l, cfg: cfg}, nil
}

func (l *Listener) Accept() (transport.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	sc, err := New(conn, l.cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sc, nil
}

type streamer struct {
	sess *yamux.Session
}

func (s *streamer) OpenStream(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := s.sess.OpenStream()
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// AcceptStream returns when a stream arrives or the session closes,
// which StreamConn does whenever it cancels ctx.
func (s *streamer) AcceptStream(ctx context.Context) (io.ReadWriteCloser, error) {
	stream, err := s.sess.AcceptStream()
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *streamer) Close() error {
	return s.sess.Close()
}

// logWriter sends yamux's log output to a pion logger.
type logWriter struct {
	log logging.LeveledLogger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.log.Debug(strings.TrimSpace(string(p)))
	return len(p), nil
}
