package pipe

import (
	"sync"

	"github.com/progrium/dchan-go/transport"
)

// Handle is one end of an in-memory channel.
type Handle struct {
	transport.Emitter

	conn   *Conn
	label  string
	remote *Handle
	opts   transport.ChannelOptions

	// link is shared by both ends. Delivery and closing hold it, so a
	// Send that succeeded always reached the remote callback first.
	link *sync.Mutex

	mu        sync.Mutex
	state     transport.ReadyState
	holding   bool
	outbox    []transport.Message
	buffered  uint64
	threshold uint64
	lowFn     func()
	stalled   bool
	closeErr  error
	closes    int
}

var (
	_ transport.Handle                 = (*Handle)(nil)
	_ transport.BufferedAmountNotifier = (*Handle)(nil)
)

// Label implements transport.Handle.
func (h *Handle) Label() string {
	return h.label
}

// ReadyState implements transport.Handle.
func (h *Handle) ReadyState() transport.ReadyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// BufferedAmount implements transport.Handle.
func (h *Handle) BufferedAmount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buffered
}

// SetBufferedAmountLowThreshold implements transport.BufferedAmountNotifier.
func (h *Handle) SetBufferedAmountLowThreshold(threshold uint64) {
	h.mu.Lock()
	h.threshold = threshold
	h.mu.Unlock()
}

// OnBufferedAmountLow implements transport.BufferedAmountNotifier.
func (h *Handle) OnBufferedAmountLow(fn func()) {
	h.mu.Lock()
	h.lowFn = fn
	h.mu.Unlock()
}

// LowThreshold returns the configured low threshold.
func (h *Handle) LowThreshold() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.threshold
}

// Send delivers msg to the remote end, or queues it while the handle is
// holding.
func (h *Handle) Send(msg transport.Message) error {
	msg.Data = append([]byte(nil), msg.Data...)

	h.link.Lock()
	defer h.link.Unlock()

	h.mu.Lock()
	if h.state != transport.Open {
		h.mu.Unlock()
		return transport.ErrNotOpen
	}
	if h.holding {
		h.outbox = append(h.outbox, msg)
		h.buffered += uint64(len(msg.Data))
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	h.remote.receive(msg)
	return nil
}

// Options returns the options the channel was created with.
func (h *Handle) Options() transport.ChannelOptions {
	return h.opts
}

func (h *Handle) receive(msg transport.Message) {
	if h.ReadyState() != transport.Open {
		return
	}
	h.EmitMessage(msg)
}

// Close closes both ends unless the handle is stalled.
func (h *Handle) Close() error {
	h.mu.Lock()
	h.closes++
	if h.state >= transport.Closing {
		h.mu.Unlock()
		return nil
	}
	h.state = transport.Closing
	err := h.closeErr
	h.mu.Unlock()

	if err != nil {
		return err
	}
	h.link.Lock()
	h.finish()
	h.remote.finish()
	h.link.Unlock()
	return nil
}

// CloseCalls returns how many times Close has been called on this end.
func (h *Handle) CloseCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

func (h *Handle) finish() {
	h.mu.Lock()
	if h.state == transport.Closed || h.stalled {
		h.mu.Unlock()
		return
	}
	h.state = transport.Closed
	h.outbox = nil
	h.buffered = 0
	h.mu.Unlock()

	h.EmitClose()
}

// Open opens both ends of the channel.
func (h *Handle) Open() {
	for _, e := range []*Handle{h.remote, h} {
		e.mu.Lock()
		if e.state != transport.Connecting {
			e.mu.Unlock()
			continue
		}
		e.state = transport.Open
		e.mu.Unlock()
		e.EmitOpen()
	}
}

// Hold makes Send queue outbound messages, growing BufferedAmount.
func (h *Handle) Hold() {
	h.mu.Lock()
	h.holding = true
	h.mu.Unlock()
}

// Flush delivers queued messages, stops holding and signals a low
// buffered amount if one was registered.
func (h *Handle) Flush() {
	h.mu.Lock()
	out := h.outbox
	h.outbox = nil
	h.holding = false
	h.buffered = 0
	fn := h.lowFn
	h.mu.Unlock()

	h.link.Lock()
	for _, msg := range out {
		h.remote.receive(msg)
	}
	h.link.Unlock()
	if fn != nil {
		fn()
	}
}

// Stall moves the handle to closing without ever completing, the way
// some browsers leave a data channel stuck.
func (h *Handle) Stall() {
	h.mu.Lock()
	h.state = transport.Closing
	h.stalled = true
	h.mu.Unlock()
}

// FailClose makes Close return err without closing.
func (h *Handle) FailClose(err error) {
	h.mu.Lock()
	h.closeErr = err
	h.mu.Unlock()
}

// Fail reports err through the error callback.
func (h *Handle) Fail(err error) {
	h.EmitError(err)
}

// Remote returns the other end of the channel.
func (h *Handle) Remote() *Handle {
	return h.remote
}
