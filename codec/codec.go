// Package codec provides the value encodings used to put mux frames on
// the wire.
package codec

import (
	"io"
)

type Encoder interface {
	// Encode writes an encoding of v to its Writer.
	Encode(v interface{}) error
}

type Decoder interface {
	// Decode reads the next encoded value from its Reader and stores it in the value pointed to by v.
	Decode(v interface{}) error
}

// Codec returns an Encoder or Decoder given a Writer or Reader.
type Codec interface {
	Encoder(w io.Writer) Encoder
	Decoder(r io.Reader) Decoder
}

// Default is the codec mux connections use unless told otherwise:
// length prefixed CBOR.
var Default Codec = &FrameCodec{Codec: CBORCodec{}, MaxSize: DefaultMaxFrameSize}

// ByName returns a codec by its short name: cbor, json or msgpack. Each
// is wrapped in a FrameCodec.
func ByName(name string) (Codec, bool) {
	var c Codec
	switch name {
	case "", "cbor":
		c = CBORCodec{}
	case "json":
		c = JSONCodec{}
	case "msgpack":
		c = NewMsgpackCodec()
	default:
		return nil, false
	}
	return &FrameCodec{Codec: c, MaxSize: DefaultMaxFrameSize}, true
}
