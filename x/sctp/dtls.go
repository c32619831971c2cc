package sctp

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/pion/dtls/v2"
	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
	"github.com/progrium/dchan-go/transport"
)

// DTLSConfig returns a DTLS configuration with a self-signed certificate
// that does not verify the peer. Deployments should supply their own.
func DTLSConfig() (*dtls.Config, error) {
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return nil, err
	}
	return &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		InsecureSkipVerify:   true,
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
	}, nil
}

// DialDTLS opens a DTLS connection to addr and starts a client
// association over it.
func DialDTLS(ctx context.Context, addr string, dcfg *dtls.Config, cfg Config) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	if dcfg == nil {
		if dcfg, err = DTLSConfig(); err != nil {
			return nil, err
		}
	}
	dc, err := dtls.DialWithContext(ctx, "udp", raddr, dcfg)
	if err != nil {
		return nil, err
	}
	cfg.Client = true
	conn, err := New(dc, cfg)
	if err != nil {
		dc.Close()
		return nil, err
	}
	return conn, nil
}

// Listener accepts DTLS connections and starts a server association on
// each.
type Listener struct {
	net.Listener
	cfg Config
}

// ListenDTLS listens for DTLS connections on the UDP address addr.
func ListenDTLS(addr string, dcfg *dtls.Config, cfg Config) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	if dcfg == nil {
		if dcfg, err = DTLSConfig(); err != nil {
			return nil, err
		}
	}
	l, err := dtls.Listen("udp", laddr, dcfg)
	if err != nil {
		return nil, err
	}
	cfg.Client = false
	return &Listener{Listener: l, cfg: cfg}, nil
}

// Accept waits for the next connection and completes its association
// handshake.
func (l *Listener) Accept() (transport.Conn, error) {
	nc, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	conn, err := New(nc, l.cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return conn, nil
}
