// Package sctp carries data channels over an SCTP association using the
// WebRTC data channel establishment protocol, without the rest of WebRTC.
// The association runs over any packet-preserving net.Conn, typically a
// DTLS connection from DialDTLS or ListenDTLS.
package sctp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/datachannel"
	"github.com/pion/logging"
	"github.com/pion/sctp"
	"github.com/progrium/dchan-go/transport"
)

// MaxMessageSize bounds a single inbound message.
const MaxMessageSize = 65535

// Config configures an association.
type Config struct {
	// Client selects the association role. The two ends of a connection
	// must disagree.
	Client bool

	LoggerFactory logging.LoggerFactory
}

// Conn is a transport.Conn over an SCTP association. Clients use even
// stream identifiers and servers odd ones.
type Conn struct {
	assoc *sctp.Association
	nc    net.Conn
	lf    logging.LoggerFactory
	log   logging.LeveledLogger
	ann   transport.Announcer

	mu     sync.Mutex
	nextID uint16
	open   map[uint16]*handle
	err    error
	closed bool
	done   chan struct{}
}

var _ transport.Conn = (*Conn)(nil)

// New establishes an association over nc. It blocks until the
// association handshake completes.
func New(nc net.Conn, cfg Config) (*Conn, error) {
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	scfg := sctp.Config{
		NetConn:        nc,
		LoggerFactory:  lf,
		MaxMessageSize: MaxMessageSize,
	}
	var (
		assoc *sctp.Association
		err   error
	)
	if cfg.Client {
		assoc, err = sctp.Client(scfg)
	} else {
		assoc, err = sctp.Server(scfg)
	}
	if err != nil {
		return nil, err
	}
	c := &Conn{
		assoc: assoc,
		nc:    nc,
		lf:    lf,
		log:   lf.NewLogger("sctp-conn"),
		open:  make(map[uint16]*handle),
		done:  make(chan struct{}),
	}
	if !cfg.Client {
		c.nextID = 1
	}
	go c.acceptLoop()
	return c, nil
}

func (c *Conn) CreateChannel(ctx context.Context, label string, opts transport.ChannelOptions) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrClosed
	}
	id := c.nextID
	c.nextID += 2
	c.mu.Unlock()

	dcfg := channelConfig(opts)
	dcfg.Label = label
	dcfg.LoggerFactory = c.lf
	dc, err := datachannel.Dial(c.assoc, id, dcfg)
	if err != nil {
		return nil, err
	}
	h := c.track(dc)
	// An opened channel is usable immediately; the remote acknowledges
	// asynchronously.
	h.EmitOpen()
	go h.readLoop()
	return h, nil
}

// channelConfig maps options onto the DCEP channel type and its
// reliability parameter.
func channelConfig(opts transport.ChannelOptions) *datachannel.Config {
	cfg := &datachannel.Config{Protocol: opts.Protocol}
	switch {
	case opts.MaxRetransmits != nil:
		cfg.ChannelType = datachannel.ChannelTypePartialReliableRexmit
		cfg.ReliabilityParameter = uint32(*opts.MaxRetransmits)
		if opts.Unordered {
			cfg.ChannelType = datachannel.ChannelTypePartialReliableRexmitUnordered
		}
	case opts.MaxPacketLifeTime != nil:
		cfg.ChannelType = datachannel.ChannelTypePartialReliableTimed
		cfg.ReliabilityParameter = uint32(opts.MaxPacketLifeTime.Milliseconds())
		if opts.Unordered {
			cfg.ChannelType = datachannel.ChannelTypePartialReliableTimedUnordered
		}
	case opts.Unordered:
		cfg.ChannelType = datachannel.ChannelTypeReliableUnordered
	default:
		cfg.ChannelType = datachannel.ChannelTypeReliable
	}
	return cfg
}

// channelOptions is the inverse of channelConfig, for channels the remote
// end opened.
func channelOptions(cfg *datachannel.Config) transport.ChannelOptions {
	opts := transport.ChannelOptions{Protocol: cfg.Protocol}
	switch cfg.ChannelType {
	case datachannel.ChannelTypeReliableUnordered,
		datachannel.ChannelTypePartialReliableRexmitUnordered,
		datachannel.ChannelTypePartialReliableTimedUnordered:
		opts.Unordered = true
	}
	switch cfg.ChannelType {
	case datachannel.ChannelTypePartialReliableRexmit, datachannel.ChannelTypePartialReliableRexmitUnordered:
		n := uint16(cfg.ReliabilityParameter)
		opts.MaxRetransmits = &n
	case datachannel.ChannelTypePartialReliableTimed, datachannel.ChannelTypePartialReliableTimedUnordered:
		d := time.Duration(cfg.ReliabilityParameter) * time.Millisecond
		opts.MaxPacketLifeTime = &d
	}
	return opts
}

func (c *Conn) acceptLoop() {
	for {
		dc, err := datachannel.Accept(c.assoc, &datachannel.Config{LoggerFactory: c.lf})
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Debugf("accept: %v", err)
			}
			c.shutdown(err)
			return
		}
		h := c.track(dc)
		h.EmitOpen()
		c.ann.Announce(h)
		go h.readLoop()
	}
}

func (c *Conn) track(dc *datachannel.DataChannel) *handle {
	h := &handle{conn: c, dc: dc, state: transport.Open}
	c.mu.Lock()
	c.open[dc.StreamIdentifier()] = h
	c.mu.Unlock()
	return h
}

func (c *Conn) untrack(h *handle) {
	c.mu.Lock()
	if c.open[h.dc.StreamIdentifier()] == h {
		delete(c.open, h.dc.StreamIdentifier())
	}
	c.mu.Unlock()
}

func (c *Conn) OnChannel(fn func(transport.Handle)) {
	c.ann.Set(fn)
}

func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if errors.Is(err, io.EOF) {
		err = nil
	}
	c.err = err
	var handles []*handle
	for _, h := range c.open {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	c.assoc.Close()
	c.nc.Close()
	for _, h := range handles {
		h.finish()
	}
	close(c.done)
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

type handle struct {
	transport.Emitter
	conn *Conn
	dc   *datachannel.DataChannel

	mu    sync.Mutex
	state transport.ReadyState
}

var (
	_ transport.Handle                 = (*handle)(nil)
	_ transport.BufferedAmountNotifier = (*handle)(nil)
)

// Options returns the options carried by the channel's DCEP open.
func (h *handle) Options() transport.ChannelOptions {
	return channelOptions(&h.dc.Config)
}

func (h *handle) Label() string {
	return h.dc.Config.Label
}

func (h *handle) ReadyState() transport.ReadyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *handle) BufferedAmount() uint64 {
	return h.dc.BufferedAmount()
}

func (h *handle) SetBufferedAmountLowThreshold(threshold uint64) {
	h.dc.SetBufferedAmountLowThreshold(threshold)
}

func (h *handle) OnBufferedAmountLow(fn func()) {
	h.dc.OnBufferedAmountLow(fn)
}

func (h *handle) Send(msg transport.Message) error {
	if h.ReadyState() != transport.Open {
		return transport.ErrNotOpen
	}
	_, err := h.dc.WriteDataChannel(msg.Data, msg.IsString)
	return err
}

func (h *handle) Close() error {
	h.mu.Lock()
	if h.state != transport.Open {
		h.mu.Unlock()
		return nil
	}
	h.state = transport.Closing
	h.mu.Unlock()
	// readLoop observes the stream reset and finishes the handle.
	return h.dc.Close()
}

func (h *handle) readLoop() {
	buf := make([]byte, MaxMessageSize)
	for {
		n, isString, err := h.dc.ReadDataChannel(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && h.ReadyState() == transport.Open {
				h.EmitError(err)
			}
			h.finish()
			return
		}
		h.EmitMessage(transport.Message{
			Data:     append([]byte(nil), buf[:n]...),
			IsString: isString,
		})
	}
}

func (h *handle) finish() {
	h.mu.Lock()
	if h.state == transport.Closed {
		h.mu.Unlock()
		return
	}
	h.state = transport.Closed
	h.mu.Unlock()
	h.conn.untrack(h)
	h.EmitClose()
}
