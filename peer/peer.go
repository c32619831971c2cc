// Package peer connects data channel connections over any of the built in
// transports, selected by scheme.
package peer

import (
	"context"
	"fmt"
	"sort"

	"github.com/progrium/dchan-go/datachannel"
	"github.com/progrium/dchan-go/mux"
	"github.com/progrium/dchan-go/transport"
	"github.com/progrium/dchan-go/x/quic"
	"github.com/progrium/dchan-go/x/sctp"
	"github.com/progrium/dchan-go/x/yamux"
)

// A Dialer connects to addr and returns the transport connection.
type Dialer func(ctx context.Context, addr string, cfg mux.Config) (transport.Conn, error)

// A Listen function listens on addr.
type Listen func(addr string, cfg mux.Config) (mux.Listener, error)

// Dialers maps scheme names to Dialers and includes every builtin
// transport.
var Dialers map[string]Dialer

// Listeners maps scheme names to Listen functions.
var Listeners map[string]Listen

func init() {
	Dialers = map[string]Dialer{
		"tcp": func(ctx context.Context, addr string, cfg mux.Config) (transport.Conn, error) {
			return mux.DialTCP(ctx, addr, cfg)
		},
		"unix": func(ctx context.Context, addr string, cfg mux.Config) (transport.Conn, error) {
			return mux.DialUnix(ctx, addr, cfg)
		},
		"ws": func(ctx context.Context, addr string, cfg mux.Config) (transport.Conn, error) {
			return mux.DialWS(ctx, addr, cfg)
		},
		"stdio": func(_ context.Context, _ string, cfg mux.Config) (transport.Conn, error) {
			return mux.DialStdio(cfg)
		},
		"yamux": func(ctx context.Context, addr string, cfg mux.Config) (transport.Conn, error) {
			return yamux.Dial(ctx, addr, cfg)
		},
		"quic": func(ctx context.Context, addr string, cfg mux.Config) (transport.Conn, error) {
			return quic.Dial(ctx, addr, nil, cfg)
		},
		"dtls": func(ctx context.Context, addr string, cfg mux.Config) (transport.Conn, error) {
			return sctp.DialDTLS(ctx, addr, nil, sctp.Config{LoggerFactory: cfg.LoggerFactory})
		},
		"mdns": dialMDNS,
	}
	Listeners = map[string]Listen{
		"tcp": func(addr string, cfg mux.Config) (mux.Listener, error) {
			return mux.ListenTCP(addr, cfg)
		},
		"unix": func(addr string, cfg mux.Config) (mux.Listener, error) {
			return mux.ListenUnix(addr, cfg)
		},
		"ws": mux.ListenWS,
		"stdio": func(_ string, cfg mux.Config) (mux.Listener, error) {
			return mux.ListenStdio(cfg)
		},
		"yamux": func(addr string, cfg mux.Config) (mux.Listener, error) {
			return yamux.Listen(addr, cfg)
		},
		"quic": func(addr string, cfg mux.Config) (mux.Listener, error) {
			return quic.Listen(addr, nil, cfg)
		},
		"dtls": func(addr string, cfg mux.Config) (mux.Listener, error) {
			return sctp.ListenDTLS(addr, nil, sctp.Config{LoggerFactory: cfg.LoggerFactory})
		},
	}
}

// Schemes returns the names of the registered dialers, sorted.
func Schemes() []string {
	var names []string
	for name := range Dialers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options configures both the transport and the data channel layer.
type Options struct {
	Mux     mux.Config
	Channel datachannel.Config
}

// Dial connects to addr with the transport registered for scheme. The
// dialing side is always the initiator and opens the default channel.
// In the case of "stdio" the addr can be left empty.
func Dial(ctx context.Context, scheme, addr string, opts Options) (*datachannel.Conn, error) {
	d, ok := Dialers[scheme]
	if !ok {
		return nil, fmt.Errorf("transport '%s' not available in Dialers", scheme)
	}
	if opts.Mux.LoggerFactory == nil {
		opts.Mux.LoggerFactory = opts.Channel.LoggerFactory
	}
	tr, err := d(ctx, addr, opts.Mux)
	if err != nil {
		return nil, err
	}
	opts.Channel.Initiator = true
	conn, err := datachannel.New(tr, opts.Channel)
	if err != nil {
		tr.Close()
		return nil, err
	}
	return conn, nil
}

// Listener accepts data channel connections.
type Listener struct {
	mux.Listener
	opts Options
}

// ListenOn listens on addr with the transport registered for scheme.
func ListenOn(scheme, addr string, opts Options) (*Listener, error) {
	fn, ok := Listeners[scheme]
	if !ok {
		return nil, fmt.Errorf("transport '%s' not available in Listeners", scheme)
	}
	if opts.Mux.LoggerFactory == nil {
		opts.Mux.LoggerFactory = opts.Channel.LoggerFactory
	}
	l, err := fn(addr, opts.Mux)
	if err != nil {
		return nil, err
	}
	opts.Channel.Initiator = false
	return &Listener{Listener: l, opts: opts}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept() (*datachannel.Conn, error) {
	tr, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	conn, err := datachannel.New(tr, l.opts.Channel)
	if err != nil {
		tr.Close()
		return nil, err
	}
	return conn, nil
}
