// Package quic carries data channels over a QUIC connection, one QUIC
// stream per channel.
package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io"
	"math/big"
	"net"

	"github.com/progrium/dchan-go/mux"
	"github.com/progrium/dchan-go/transport"
	"github.com/quic-go/quic-go"
)

// NextProto is the ALPN protocol negotiated for data channel connections.
const NextProto = "dchan-quic"

// New returns a transport.Conn over an established QUIC connection.
func New(conn quic.Connection, cfg mux.Config) *mux.StreamConn {
	return mux.NewStreamConn(&streamer{conn}, cfg)
}

// Dial connects to addr. A nil tlsConf skips certificate verification.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, cfg mux.Config) (*mux.StreamConn, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{NextProto}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, err
	}
	cfg.Dialer = true
	return New(conn, cfg), nil
}

// Listener accepts QUIC connections as transport Conns.
type Listener struct {
	l   *quic.Listener
	cfg mux.Config
}

// Listen listens on the UDP address addr. A nil tlsConf uses a freshly
// generated self-signed certificate.
func Listen(addr string, tlsConf *tls.Config, cfg mux.Config) (*Listener, error) {
	if tlsConf == nil {
		var err error
		tlsConf, err = GenerateTLSConfig()
		if err != nil {
			return nil, err
		}
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{NextProto}
	l, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return nil, err
	}
	cfg.Dialer = false
	return &Listener{l: l, cfg: cfg}, nil
}

func (l *Listener) Accept() (transport.Conn, error) {
	conn, err := l.l.Accept(context.Background())
	if err != nil {
		return nil, err
	}
	return New(conn, l.cfg), nil
}

func (l *Listener) Close() error {
	return l.l.Close()
}

func (l *Listener) Addr() net.Addr {
	return l.l.Addr()
}

// GenerateTLSConfig returns a TLS config with a self-signed certificate.
func GenerateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{NextProto},
	}, nil
}

type streamer struct {
	conn quic.Connection
}

func (s *streamer) OpenStream(ctx context.Context) (io.ReadWriteCloser, error) {
	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &channel{stream}, nil
}

func (s *streamer) AcceptStream(ctx context.Context) (io.ReadWriteCloser, error) {
	stream, err := s.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &channel{stream}, nil
}

func (s *streamer) Close() error {
	return s.conn.CloseWithError(0, "close connection")
}

// channel closes both directions of a stream on Close.
type channel struct {
	quic.Stream
}

func (c *channel) Close() error {
	c.Stream.CancelRead(0)
	return c.Stream.Close()
}
