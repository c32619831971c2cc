// Package pipe implements an in-memory pair of connected transport Conns.
//
// Delivery is synchronous: a Send on one handle calls the message callback
// of its remote end before returning. Test hooks on Handle make it possible
// to hold the open event, queue outbound data, stall a handle in the
// closing state and inject errors.
package pipe

import (
	"context"
	"sync"

	"github.com/progrium/dchan-go/transport"
)

type options struct {
	manualOpen bool
}

// Option configures a pipe.
type Option func(*options)

// ManualOpen keeps new handles connecting until Handle.Open is called.
func ManualOpen() Option {
	return func(o *options) { o.manualOpen = true }
}

// New returns the two ends of an in-memory connection.
func New(opts ...Option) (*Conn, *Conn) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &Conn{opts: o, done: make(chan struct{})}
	b := &Conn{opts: o, done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// Conn is one end of an in-memory connection.
type Conn struct {
	opts options
	peer *Conn
	ann  transport.Announcer

	mu      sync.Mutex
	handles []*Handle
	closed  bool
	err     error
	done    chan struct{}
}

var _ transport.Conn = (*Conn)(nil)

// CreateChannel creates a handle and announces its remote end to the peer.
func (c *Conn) CreateChannel(ctx context.Context, label string, opts transport.ChannelOptions) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, transport.ErrClosed
	}
	link := new(sync.Mutex)
	local := &Handle{conn: c, label: label, opts: opts, link: link}
	remote := &Handle{conn: c.peer, label: label, opts: opts, link: link}
	local.remote, remote.remote = remote, local

	c.track(local)
	c.peer.track(remote)
	c.peer.ann.Announce(remote)

	if !c.opts.manualOpen {
		local.Open()
	}
	return local, nil
}

// OnChannel implements transport.Conn.
func (c *Conn) OnChannel(fn func(transport.Handle)) {
	c.ann.Set(fn)
}

// Handles returns every handle created on or announced to this end, in
// creation order.
func (c *Conn) Handles() []*Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Handle(nil), c.handles...)
}

// Close closes both ends of the pipe and every handle on them.
func (c *Conn) Close() error {
	return c.CloseWithError(nil)
}

// CloseWithError closes both ends, reporting err as the reason on the
// peer's end.
func (c *Conn) CloseWithError(err error) error {
	c.shutdown(nil)
	c.peer.shutdown(err)
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
	c.mu.Unlock()

	for _, h := range handles {
		h.link.Lock()
		h.finish()
		h.link.Unlock()
	}
	close(c.done)
}

// Done implements transport.Conn.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err implements transport.Conn.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) track(h *Handle) {
	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.mu.Unlock()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
