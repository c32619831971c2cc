// Package mux carries transport handles over ordinary byte streams.
//
// Conn multiplexes any number of handles over one io.ReadWriteCloser
// using frames from the frame package. StreamConn gives each handle its
// own stream of a connection that multiplexes natively, like QUIC or
// yamux.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/logging"
	"github.com/progrium/dchan-go/codec"
	"github.com/progrium/dchan-go/mux/frame"
	"github.com/progrium/dchan-go/transport"
)

// ErrUnknownChannel is returned when a frame confirms a channel that was
// never opened.
var ErrUnknownChannel = errors.New("mux: unknown channel")

// Config configures a Conn or StreamConn.
type Config struct {
	// Dialer is set on the side that initiated the connection. The two
	// sides pick channel ids from disjoint sets.
	Dialer bool

	// Codec encodes frames. Defaults to codec.Default.
	Codec codec.Codec

	LoggerFactory logging.LoggerFactory
}

func (c Config) logger(scope string) logging.LeveledLogger {
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return c.LoggerFactory.NewLogger(scope)
}

// Conn is a transport.Conn over a single io.ReadWriteCloser.
type Conn struct {
	rwc io.ReadWriteCloser
	dec *frame.Decoder
	out *writer
	log logging.LeveledLogger
	ann transport.Announcer

	mu      sync.Mutex
	handles map[uint32]*handle
	nextID  uint32
	closed  bool
	err     error
	done    chan struct{}
}

var _ transport.Conn = (*Conn)(nil)

// New returns a Conn that runs over rwc.
func New(rwc io.ReadWriteCloser, cfg Config) *Conn {
	c := &Conn{
		rwc:     rwc,
		dec:     frame.NewDecoder(rwc, cfg.Codec),
		log:     cfg.logger("mux"),
		handles: make(map[uint32]*handle),
		done:    make(chan struct{}),
	}
	if cfg.Dialer {
		c.nextID = 1
	} else {
		c.nextID = 2
	}
	c.out = newWriter(frame.NewEncoder(rwc, cfg.Codec), c.shutdown)
	go c.loop()
	return c
}

// CreateChannel sends an Open frame and returns a handle that opens once
// the remote end confirms it. Delivery is always reliable and ordered,
// which satisfies any valid options.
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
	h := c.newHandle(c.nextID, label, transport.Connecting)
	c.nextID += 2
	c.mu.Unlock()

	if !c.out.push(outbound{f: frame.Frame{Type: frame.Open, ID: h.id, Label: label}}) {
		return nil, transport.ErrClosed
	}
	return h, nil
}

// newHandle registers a handle. Caller must hold the lock.
func (c *Conn) newHandle(id uint32, label string, state transport.ReadyState) *handle {
	h := &handle{
		id:    id,
		label: label,
		out:   c.out,
		state: state,
	}
	h.release = func() {
		c.mu.Lock()
		if c.handles[id] == h {
			delete(c.handles, id)
		}
		c.mu.Unlock()
	}
	c.handles[id] = h
	return h
}

func (c *Conn) OnChannel(fn func(transport.Handle)) {
	c.ann.Set(fn)
}

// Close closes the underlying transport and every handle.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// loop reads and dispatches frames until an error is encountered.
func (c *Conn) loop() {
	var err error
	for err == nil {
		err = c.oneFrame()
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	c.shutdown(err)
}

func (c *Conn) oneFrame() error {
	f, err := c.dec.Decode()
	if err != nil {
		return err
	}

	if f.Type == frame.Open {
		c.mu.Lock()
		if _, exists := c.handles[f.ID]; exists {
			c.mu.Unlock()
			return fmt.Errorf("mux: channel %d opened twice", f.ID)
		}
		h := c.newHandle(f.ID, f.Label, transport.Open)
		c.mu.Unlock()

		c.out.push(outbound{f: frame.Frame{Type: frame.OpenConfirm, ID: f.ID}})
		h.EmitOpen()
		c.ann.Announce(h)
		return nil
	}

	c.mu.Lock()
	h, ok := c.handles[f.ID]
	c.mu.Unlock()
	if !ok {
		if f.Type == frame.OpenConfirm {
			return fmt.Errorf("%w %d", ErrUnknownChannel, f.ID)
		}
		// frames in flight for a channel we already released
		c.log.Tracef("dropping %s for released channel", f)
		return nil
	}
	h.receive(f)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	handles := c.handles
	c.handles = make(map[uint32]*handle)
	c.mu.Unlock()

	if err != nil {
		c.log.Debugf("connection lost: %v", err)
	}
	c.out.close()
	c.rwc.Close()
	for _, h := range handles {
		h.finish()
	}
	close(c.done)
}
