package mux

import (
	"net"

	"github.com/progrium/dchan-go/transport"
)

// A Listener is a transport.Listener that returns mux connections.
type Listener interface {
	transport.Listener

	// Addr returns the listener's network address if available.
	Addr() net.Addr
}
