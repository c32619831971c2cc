// Package frame implements encoding and decoding of mux frames.
package frame

import (
	"fmt"
	"io"
)

var (
	// Debug can be set to get frames as they're encoded and decoded
	Debug io.Writer
)

// Type identifies what a frame does.
type Type byte

const (
	// Open asks the remote end to create a channel with Label. ID is the
	// sender's id for it.
	Open Type = iota + 100
	// OpenConfirm acknowledges an Open with the same ID.
	OpenConfirm
	// Data carries one message.
	Data
	// Close closes a channel. The receiver replies with Close unless it
	// already sent one.
	Close
)

func (t Type) String() string {
	switch t {
	case Open:
		return "Open"
	case OpenConfirm:
		return "OpenConfirm"
	case Data:
		return "Data"
	case Close:
		return "Close"
	default:
		return fmt.Sprintf("Type(%d)", byte(t))
	}
}

// Frame is the unit exchanged by mux connections. Fields that do not
// apply to a Type are left zero.
type Frame struct {
	_        struct{} `cbor:",toarray"`
	Type     Type
	ID       uint32
	Label    string
	Data     []byte
	IsString bool
}

func (f Frame) String() string {
	switch f.Type {
	case Open:
		return fmt.Sprintf("{Open ID:%d Label:%q}", f.ID, f.Label)
	case Data:
		return fmt.Sprintf("{Data ID:%d Length:%d IsString:%v}", f.ID, len(f.Data), f.IsString)
	default:
		return fmt.Sprintf("{%s ID:%d}", f.Type, f.ID)
	}
}
