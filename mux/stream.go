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

// Streamer is a connection that multiplexes streams itself.
type Streamer interface {
	OpenStream(ctx context.Context) (io.ReadWriteCloser, error)
	AcceptStream(ctx context.Context) (io.ReadWriteCloser, error)
	Close() error
}

// StreamConn is a transport.Conn that gives every handle its own stream.
// The first frame on a stream is an Open carrying the label, answered by
// an OpenConfirm.
type StreamConn struct {
	s     Streamer
	codec codec.Codec
	log   logging.LeveledLogger
	ann   transport.Announcer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	streams map[io.ReadWriteCloser]struct{}
	closed  bool
	err     error
	done    chan struct{}
}

var _ transport.Conn = (*StreamConn)(nil)

// NewStreamConn returns a StreamConn over s.
func NewStreamConn(s Streamer, cfg Config) *StreamConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &StreamConn{
		s:       s,
		codec:   cfg.Codec,
		log:     cfg.logger("mux"),
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[io.ReadWriteCloser]struct{}),
		done:    make(chan struct{}),
	}
	go c.acceptLoop()
	return c
}

// CreateChannel returns a connecting handle right away and opens its
// stream in the background.
func (c *StreamConn) CreateChannel(ctx context.Context, label string, opts transport.ChannelOptions) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, transport.ErrClosed
	}

	h := &handle{label: label, state: transport.Connecting}
	go func() {
		stream, err := c.s.OpenStream(c.ctx)
		if err != nil {
			h.fail(err)
			return
		}
		if !c.track(stream) {
			stream.Close()
			h.finish()
			return
		}
		if !c.attach(h, stream) {
			// closed while the stream was opening
			stream.Close()
			c.untrack(stream)
			return
		}
		if !h.out.push(outbound{f: frame.Frame{Type: frame.Open, Label: label}}) {
			h.finish()
			return
		}
		c.serve(h, frame.NewDecoder(stream, c.codec))
	}()
	return h, nil
}

// attach gives h its stream. It reports false if h was closed first.
func (c *StreamConn) attach(h *handle, stream io.ReadWriteCloser) bool {
	var once sync.Once
	release := func() {
		once.Do(func() {
			h.out.close()
			stream.Close()
			c.untrack(stream)
		})
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state >= transport.Closing {
		return false
	}
	h.release = release
	h.out = newWriter(frame.NewEncoder(stream, c.codec), func(err error) {
		h.fail(err)
	})
	return true
}

func (c *StreamConn) acceptLoop() {
	for {
		stream, err := c.s.AcceptStream(c.ctx)
		if err != nil {
			c.shutdown(err)
			return
		}
		if !c.track(stream) {
			stream.Close()
			return
		}
		go c.accept(stream)
	}
}

func (c *StreamConn) accept(stream io.ReadWriteCloser) {
	dec := frame.NewDecoder(stream, c.codec)
	f, err := dec.Decode()
	if err != nil || f.Type != frame.Open {
		c.log.Debugf("dropping stream without open frame: %v", err)
		stream.Close()
		c.untrack(stream)
		return
	}
	h := &handle{label: f.Label, state: transport.Open}
	c.attach(h, stream)
	h.out.push(outbound{f: frame.Frame{Type: frame.OpenConfirm}})
	h.EmitOpen()
	c.ann.Announce(h)
	c.serve(h, dec)
}

// serve feeds frames from the stream to h until the stream ends.
func (c *StreamConn) serve(h *handle, dec *frame.Decoder) {
	for {
		f, err := dec.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.isClosed() && h.ReadyState() == transport.Open {
				h.fail(err)
				return
			}
			h.finish()
			return
		}
		h.receive(f)
		if f.Type == frame.Close {
			return
		}
	}
}

func (c *StreamConn) track(stream io.ReadWriteCloser) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.streams[stream] = struct{}{}
	return true
}

func (c *StreamConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *StreamConn) untrack(stream io.ReadWriteCloser) {
	c.mu.Lock()
	delete(c.streams, stream)
	c.mu.Unlock()
}

func (c *StreamConn) OnChannel(fn func(transport.Handle)) {
	c.ann.Set(fn)
}

// Close closes every stream and the underlying connection.
func (c *StreamConn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *StreamConn) Done() <-chan struct{} {
	return c.done
}

func (c *StreamConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *StreamConn) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if err != nil && c.ctx.Err() == nil && !errors.Is(err, io.EOF) {
		c.err = fmt.Errorf("mux: accepting streams: %w", err)
	}
	streams := c.streams
	c.streams = nil
	c.mu.Unlock()

	c.cancel()
	for stream := range streams {
		stream.Close()
	}
	c.s.Close()
	close(c.done)
}
