package datachannel

import (
	"time"

	"github.com/progrium/dchan-go/transport"
)

// ChannelOption configures a channel passed to Conn.Create.
type ChannelOption func(*transport.ChannelOptions)

// Unordered lets the transport deliver messages out of order.
func Unordered() ChannelOption {
	return func(o *transport.ChannelOptions) { o.Unordered = true }
}

// MaxRetransmits makes delivery partially reliable, giving up on a
// message after n retransmissions.
func MaxRetransmits(n uint16) ChannelOption {
	return func(o *transport.ChannelOptions) { o.MaxRetransmits = &n }
}

// MaxPacketLifeTime makes delivery partially reliable, giving up on a
// message once d has passed.
func MaxPacketLifeTime(d time.Duration) ChannelOption {
	return func(o *transport.ChannelOptions) { o.MaxPacketLifeTime = &d }
}

// Protocol sets the subprotocol name carried with the channel.
func Protocol(name string) ChannelOption {
	return func(o *transport.ChannelOptions) { o.Protocol = name }
}

// WithOptions replaces all options, e.g. to copy them from another
// channel.
func WithOptions(opts transport.ChannelOptions) ChannelOption {
	return func(o *transport.ChannelOptions) { *o = opts }
}

// optionsReporter is implemented by handles that know the options their
// remote end was created with.
type optionsReporter interface {
	Options() transport.ChannelOptions
}
