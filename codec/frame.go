package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds frames read by a FrameCodec with no MaxSize.
const DefaultMaxFrameSize = 16 << 20

// ErrFrameTooLarge is returned when a length prefix exceeds MaxSize.
type ErrFrameTooLarge struct {
	Size, Max uint32
}

func (e ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("codec: frame of %d bytes exceeds limit of %d", e.Size, e.Max)
}

// length prefixed frame wrapper codec
type FrameCodec struct {
	Codec
	MaxSize uint32
}

func (c *FrameCodec) Encoder(w io.Writer) Encoder {
	return &frameEncoder{
		w: w,
		c: c.Codec,
	}
}

type frameEncoder struct {
	w io.Writer
	c Codec
}

func (e *frameEncoder) Encode(v interface{}) error {
	var buf bytes.Buffer
	buf.Write(make([]byte, 4))
	if err := e.c.Encoder(&buf).Encode(v); err != nil {
		return err
	}
	b := buf.Bytes()
	binary.BigEndian.PutUint32(b[:4], uint32(len(b)-4))
	_, err := e.w.Write(b)
	return err
}

func (c *FrameCodec) Decoder(r io.Reader) Decoder {
	max := c.MaxSize
	if max == 0 {
		max = DefaultMaxFrameSize
	}
	return &frameDecoder{
		r:   r,
		c:   c.Codec,
		max: max,
	}
}

type frameDecoder struct {
	r   io.Reader
	c   Codec
	max uint32
}

func (d *frameDecoder) Decode(v interface{}) error {
	var prefix [4]byte
	if _, err := io.ReadFull(d.r, prefix[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > d.max {
		return ErrFrameTooLarge{Size: size, Max: d.max}
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return d.c.Decoder(bytes.NewReader(buf)).Decode(v)
}
