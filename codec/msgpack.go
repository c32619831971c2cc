package codec

import (
	"io"

	"github.com/ugorji/go/codec"
)

// MsgpackCodec provides a codec API for MessagePack. Byte slices are
// written as the bin type so they survive a round trip.
type MsgpackCodec struct {
	h *codec.MsgpackHandle
}

func NewMsgpackCodec() MsgpackCodec {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	return MsgpackCodec{h: h}
}

func (c MsgpackCodec) handle() *codec.MsgpackHandle {
	if c.h == nil {
		return NewMsgpackCodec().h
	}
	return c.h
}

func (c MsgpackCodec) Encoder(w io.Writer) Encoder {
	return codec.NewEncoder(w, c.handle())
}

func (c MsgpackCodec) Decoder(r io.Reader) Decoder {
	return codec.NewDecoder(r, c.handle())
}
