package frame

import (
	"fmt"
	"io"
	"sync"

	"github.com/progrium/dchan-go/codec"
)

// Encoder encodes frames given an io.Writer
type Encoder struct {
	enc codec.Encoder
	sync.Mutex
}

// NewEncoder returns an Encoder writing frames to w with c, or
// codec.Default if c is nil.
func NewEncoder(w io.Writer, c codec.Codec) *Encoder {
	if c == nil {
		c = codec.Default
	}
	return &Encoder{enc: c.Encoder(w)}
}

func (enc *Encoder) Encode(f Frame) error {
	enc.Lock()
	defer enc.Unlock()

	if Debug != nil {
		fmt.Fprintln(Debug, "<<ENC", f)
	}

	return enc.enc.Encode(f)
}
