package mux

import (
	"sync"

	"github.com/progrium/dchan-go/mux/frame"
	"github.com/progrium/dchan-go/transport"
)

// handle is one channel of a mux connection. It is shared by the framed
// Conn, where all handles share one writer, and StreamConn, where each
// has its own stream.
type handle struct {
	transport.Emitter

	id    uint32
	label string
	out   *writer

	// release runs once when the channel is done with its resources.
	release func()

	mu        sync.Mutex
	state     transport.ReadyState
	buffered  uint64
	threshold uint64
	lowFn     func()
	sentClose bool
	finished  bool
}

var (
	_ transport.Handle                 = (*handle)(nil)
	_ transport.BufferedAmountNotifier = (*handle)(nil)
)

func (h *handle) Label() string {
	return h.label
}

func (h *handle) ReadyState() transport.ReadyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *handle) BufferedAmount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buffered
}

func (h *handle) SetBufferedAmountLowThreshold(threshold uint64) {
	h.mu.Lock()
	h.threshold = threshold
	h.mu.Unlock()
}

func (h *handle) OnBufferedAmountLow(fn func()) {
	h.mu.Lock()
	h.lowFn = fn
	h.mu.Unlock()
}

func (h *handle) Send(msg transport.Message) error {
	h.mu.Lock()
	if h.state != transport.Open {
		h.mu.Unlock()
		return transport.ErrNotOpen
	}
	h.buffered += uint64(len(msg.Data))
	out := h.out
	h.mu.Unlock()

	if !out.push(outbound{
		f: frame.Frame{
			Type:     frame.Data,
			ID:       h.id,
			Data:     msg.Data,
			IsString: msg.IsString,
		},
		h: h,
	}) {
		return transport.ErrClosed
	}
	return nil
}

// sent is called by the writer once n bytes of data went out.
func (h *handle) sent(n uint64) {
	h.mu.Lock()
	before := h.buffered
	if n > h.buffered {
		n = h.buffered
	}
	h.buffered -= n
	fn := h.lowFn
	crossed := before > h.threshold && h.buffered <= h.threshold
	h.mu.Unlock()

	if crossed && fn != nil {
		fn()
	}
}

func (h *handle) Close() error {
	h.mu.Lock()
	if h.state >= transport.Closing {
		h.mu.Unlock()
		return nil
	}
	h.state = transport.Closing
	h.sentClose = true
	out := h.out
	h.mu.Unlock()

	// a stream handle may not have its stream yet
	if out == nil || !out.push(outbound{f: frame.Frame{Type: frame.Close, ID: h.id}}) {
		h.finish()
	}
	return nil
}

// receive handles a frame addressed to this channel.
func (h *handle) receive(f frame.Frame) {
	switch f.Type {
	case frame.OpenConfirm:
		h.mu.Lock()
		if h.state != transport.Connecting {
			h.mu.Unlock()
			return
		}
		h.state = transport.Open
		h.mu.Unlock()
		h.EmitOpen()

	case frame.Data:
		if h.ReadyState() != transport.Open {
			return
		}
		h.EmitMessage(transport.Message{Data: f.Data, IsString: f.IsString})

	case frame.Close:
		h.mu.Lock()
		reply := !h.sentClose
		h.sentClose = true
		h.mu.Unlock()
		if reply {
			if h.out.push(outbound{f: frame.Frame{Type: frame.Close, ID: h.id}, after: h.done}) {
				h.finishState()
				return
			}
		}
		h.finish()
	}
}

// finish moves the handle to closed, releases it and emits close.
func (h *handle) finish() {
	if h.finishState() {
		h.done()
	}
}

func (h *handle) finishState() bool {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return false
	}
	h.finished = true
	h.state = transport.Closed
	h.buffered = 0
	h.mu.Unlock()

	h.EmitClose()
	return true
}

func (h *handle) done() {
	if h.release != nil {
		h.release()
	}
}

// fail reports err and closes the handle without a handshake.
func (h *handle) fail(err error) {
	h.EmitError(err)
	h.finish()
}
