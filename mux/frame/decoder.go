package frame

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/progrium/dchan-go/codec"
)

// Decoder decodes frames given an io.Reader
type Decoder struct {
	dec codec.Decoder
	sync.Mutex
}

// NewDecoder returns a Decoder reading frames from r with c, or
// codec.Default if c is nil.
func NewDecoder(r io.Reader, c codec.Codec) *Decoder {
	if c == nil {
		c = codec.Default
	}
	return &Decoder{dec: c.Decoder(r)}
}

func (dec *Decoder) Decode() (Frame, error) {
	dec.Lock()
	defer dec.Unlock()

	var f Frame
	if err := dec.dec.Decode(&f); err != nil {
		var syscallErr *os.SyscallError
		if errors.As(err, &syscallErr) && syscallErr.Err == syscall.ECONNRESET {
			return f, io.EOF
		}
		return f, err
	}
	switch f.Type {
	case Open, OpenConfirm, Data, Close:
	default:
		return f, fmt.Errorf("mux: unexpected frame type %d", f.Type)
	}

	if Debug != nil {
		fmt.Fprintln(Debug, ">>DEC", f)
	}

	return f, nil
}
