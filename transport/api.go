package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed handle or connection.
	ErrClosed = errors.New("transport: closed")

	// ErrNotOpen is returned by Send on a handle that is not open.
	ErrNotOpen = errors.New("transport: handle not open")
)

// ReadyState mirrors the readyState of an RTCDataChannel.
type ReadyState int

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("ReadyState(%d)", int(s))
	}
}

// Message is one unit of data delivered by a Handle. Message boundaries
// are preserved end to end.
type Message struct {
	Data     []byte
	IsString bool
}

// ChannelOptions select the delivery guarantees of a new handle. The zero
// value asks for reliable, ordered delivery.
type ChannelOptions struct {
	// Unordered lets messages be delivered out of order.
	Unordered bool

	// MaxRetransmits limits how often a message is retransmitted.
	MaxRetransmits *uint16

	// MaxPacketLifeTime limits how long a message is retransmitted.
	MaxPacketLifeTime *time.Duration

	// Protocol is the subprotocol name carried with the channel.
	Protocol string
}

// ErrBadOptions is returned for options no transport can satisfy.
var ErrBadOptions = errors.New("transport: both MaxRetransmits and MaxPacketLifeTime set")

// Validate rejects options that set both reliability limits.
func (o ChannelOptions) Validate() error {
	if o.MaxRetransmits != nil && o.MaxPacketLifeTime != nil {
		return ErrBadOptions
	}
	if o.MaxPacketLifeTime != nil && (*o.MaxPacketLifeTime < 0 || *o.MaxPacketLifeTime > 65535*time.Millisecond) {
		return fmt.Errorf("transport: packet lifetime %s out of range", *o.MaxPacketLifeTime)
	}
	return nil
}

// Reliable reports whether o asks for fully reliable delivery.
func (o ChannelOptions) Reliable() bool {
	return o.MaxRetransmits == nil && o.MaxPacketLifeTime == nil
}

// Callbacks receive the events of a Handle. Callbacks are invoked
// serially and must not block.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(Message)
	OnClose   func()
	OnError   func(error)
}

// Handle is a raw point-to-point message channel supplied by a Conn.
type Handle interface {
	// Label returns the label the handle was created with.
	Label() string

	// ReadyState reports the current state of the handle.
	ReadyState() ReadyState

	// BufferedAmount returns the number of bytes queued to send.
	BufferedAmount() uint64

	// Send queues one message.
	Send(msg Message) error

	// Close starts closing the handle. OnClose fires once it completes.
	Close() error

	// Bind installs callbacks. Events that happen before the first Bind
	// are held and delivered by it. Bind(nil) detaches and discards any
	// later events.
	Bind(cb *Callbacks)
}

// BufferedAmountNotifier is implemented by handles that can signal when
// their buffered amount drops to a threshold.
type BufferedAmountNotifier interface {
	SetBufferedAmountLowThreshold(threshold uint64)
	OnBufferedAmountLow(fn func())
}

// Conn is a connection to one peer that can carry many handles.
type Conn interface {
	// CreateChannel asks for a new handle with the given label and
	// options. It does not wait for the handle to open. Transports that
	// only deliver reliably and in order may accept any valid options.
	CreateChannel(ctx context.Context, label string, opts ChannelOptions) (Handle, error)

	// OnChannel sets the function called with each handle the remote peer
	// creates. Handles announced before OnChannel is set are held.
	OnChannel(fn func(Handle))

	// Close tears down the connection and every handle on it.
	Close() error

	// Done is closed once the connection has shut down.
	Done() <-chan struct{}

	// Err returns the reason the connection shut down, nil if it was
	// closed locally.
	Err() error
}

// Listener accepts connections from peers.
type Listener interface {
	// Close closes the listener.
	// Any blocked Accept operations will be unblocked and return errors.
	Close() error

	// Accept waits for and returns the next incoming connection.
	Accept() (Conn, error)
}
