package codec

import (
	"encoding/json"
	"io"
)

// JSONCodec encodes values as JSON, which makes frames readable when
// debugging a connection.
type JSONCodec struct{}

func (JSONCodec) Encoder(w io.Writer) Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

func (JSONCodec) Decoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}
