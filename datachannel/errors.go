package datachannel

import (
	"errors"
	"fmt"
)

// ErrCodeDataChannel is the code carried by every ChannelError.
const ErrCodeDataChannel = "ERR_DATA_CHANNEL"

var (
	// ErrDataChannel matches any *ChannelError with errors.Is.
	ErrDataChannel = errors.New(ErrCodeDataChannel)

	// ErrDestroyed is the reason given for writes to a destroyed channel.
	ErrDestroyed = errors.New("cannot send after channel is destroyed")

	// ErrNotOpen is the reason given for writes to a channel that has not
	// opened yet.
	ErrNotOpen = errors.New("cannot send before channel is open - wait until open")

	// ErrConnClosed is returned by operations on a closed connection.
	ErrConnClosed = errors.New("datachannel: connection closed")

	// ErrInvalidName is returned by Create for empty names or names
	// containing '@'.
	ErrInvalidName = errors.New("datachannel: invalid channel name")

	// ErrReservedName is returned by Create for the default channel name.
	ErrReservedName = errors.New("datachannel: reserved channel name")

	// ErrSuperseded is the reason a local channel is destroyed with when
	// the remote peer opened the same name with a newer label.
	ErrSuperseded = errors.New("superseded by a newer channel with the same name")
)

// ChannelError is the error a channel is destroyed with when a write
// fails or its transport reports an error.
type ChannelError struct {
	Channel string
	Err     error
}

func channelError(name string, err error) *ChannelError {
	var ce *ChannelError
	if errors.As(err, &ce) {
		return ce
	}
	return &ChannelError{Channel: name, Err: err}
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("datachannel %q: %v", e.Channel, e.Err)
}

// Code returns ErrCodeDataChannel.
func (e *ChannelError) Code() string {
	return ErrCodeDataChannel
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

func (e *ChannelError) Is(target error) bool {
	return target == ErrDataChannel
}
