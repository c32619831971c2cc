// Package datachannel multiplexes named, message oriented channels over a
// transport connection.
//
// Every channel is identified on the wire by a label of the form
// name@suffix. At most one live channel exists per name; creating a name
// that is in use waits until the live channel is destroyed. A Conn also
// carries a default channel, which the Conn itself exposes.
//
// All state of a Conn is owned by a single event loop goroutine, so
// transport callbacks, timers and API calls never race. Observers are
// called on a second goroutine and may use the API freely.
package datachannel

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/progrium/dchan-go/transport"
)

// Conn is a transport connection carrying data channels. The embedded
// Channel is the default channel.
type Conn struct {
	*Channel

	cfg   Config
	tr    transport.Conn
	log   logging.LeveledLogger
	clock clock

	ctx    context.Context
	cancel context.CancelFunc

	loop   *serial
	events *serial
	reg    *registry

	// deferred holds handle closes waiting out the freshness window.
	deferred map[transport.Handle]timer

	acceptMu sync.Mutex
	accepted []*Channel
	ready    chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// New starts managing data channels over tr.
func New(tr transport.Conn, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cfg:      cfg,
		tr:       tr,
		log:      cfg.LoggerFactory.NewLogger("datachannel"),
		clock:    cfg.clock,
		ctx:      ctx,
		cancel:   cancel,
		loop:     newSerial(),
		events:   newSerial(),
		deferred: make(map[transport.Handle]timer),
		ready:    make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	c.Channel = newChannel(c, cfg.DefaultChannel)
	c.reg = newRegistry(c, c.Channel)

	var err error
	if cfg.Initiator {
		c.loop.call(func() {
			c.reg.open(c.Channel)
			err = c.Channel.err
		})
	}
	if err != nil {
		c.shutdown(err)
		return nil, err
	}

	tr.OnChannel(func(h transport.Handle) {
		if !c.loop.post(func() { c.reg.discover(h) }) {
			h.Bind(nil)
			h.Close()
		}
	})
	go c.watch()
	return c, nil
}

func (c *Conn) watch() {
	select {
	case <-c.tr.Done():
		c.shutdown(c.tr.Err())
	case <-c.closed:
	}
}

// Default returns the default channel.
func (c *Conn) Default() *Channel {
	return c.Channel
}

// Create opens a channel with the given name. If a channel with that
// name is live, the new one stays pending until it is destroyed.
func (c *Conn) Create(name string, opts ...ChannelOption) (*Channel, error) {
	var o transport.ChannelOptions
	for _, opt := range opts {
		opt(&o)
	}
	var (
		ch  *Channel
		err error
	)
	select {
	case <-c.closed:
		return nil, ErrConnClosed
	default:
	}
	if !c.loop.call(func() { ch, err = c.reg.create(name, o) }) {
		return nil, ErrConnClosed
	}
	return ch, err
}

// Accept waits for the next channel created by the remote peer.
func (c *Conn) Accept(ctx context.Context) (*Channel, error) {
	for {
		c.acceptMu.Lock()
		if len(c.accepted) > 0 {
			ch := c.accepted[0]
			c.accepted = c.accepted[1:]
			more := len(c.accepted) > 0
			c.acceptMu.Unlock()
			if more {
				c.signal()
			}
			return ch, nil
		}
		c.acceptMu.Unlock()

		select {
		case <-c.ready:
		case <-c.closed:
			return nil, ErrConnClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Conn) announce(ch *Channel) {
	c.acceptMu.Lock()
	c.accepted = append(c.accepted, ch)
	c.acceptMu.Unlock()
	c.signal()
}

func (c *Conn) signal() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Channels returns every channel that is not destroyed, including the
// default channel and pending ones.
func (c *Conn) Channels() []*Channel {
	var chans []*Channel
	c.loop.call(func() { chans = c.reg.channels() })
	return chans
}

// Close destroys every channel and closes the transport.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

// Destroy is Close, reporting err to every channel.
func (c *Conn) Destroy(err error) {
	c.shutdown(err)
}

// Closed is closed once the connection has shut down.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// Wait blocks until the connection shuts down and returns the reason,
// nil if it was closed cleanly.
func (c *Conn) Wait() error {
	<-c.closed
	return c.closeErr
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.loop.call(func() {
			c.reg.teardown(err)
			for h, t := range c.deferred {
				t.Stop()
				c.closeHandle(h)
			}
			c.deferred = nil
		})
		c.loop.stop()
		c.cancel()
		if cerr := c.tr.Close(); cerr != nil {
			c.log.Debugf("closing transport: %v", cerr)
		}
		c.closeErr = err
		close(c.closed)
		c.events.stop()

		c.acceptMu.Lock()
		pending := c.accepted
		c.accepted = nil
		c.acceptMu.Unlock()
		if len(pending) > 0 {
			c.log.Debugf("%d accepted channels were never picked up", len(pending))
		}
	})
}

// closeHandle closes h now. Errors are logged and otherwise ignored.
func (c *Conn) closeHandle(h transport.Handle) {
	if err := h.Close(); err != nil {
		c.log.Debugf("closing %s: %v", h.Label(), err)
	}
}

// deferClose closes h after d, or when the connection shuts down.
func (c *Conn) deferClose(h transport.Handle, d time.Duration) {
	c.deferred[h] = c.clock.AfterFunc(d, func() {
		c.loop.post(func() {
			if _, ok := c.deferred[h]; !ok {
				return
			}
			delete(c.deferred, h)
			c.closeHandle(h)
		})
	})
}
