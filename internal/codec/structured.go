package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ustream/internal/frame"
)

const structuredHeader = 8

var ErrShortPayload = errors.New("payload shorter than header")

// Structured 原样序列化 width(u32 BE) + height(u32 BE) + pixels
type Structured struct{}

func (Structured) Name() string { return TypeStructured }

func (s Structured) Encode(f *frame.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, &EncodeError{Codec: s.Name(), Err: err}
	}

	buf := make([]byte, structuredHeader+len(f.Pixels))
	binary.BigEndian.PutUint32(buf[0:4], f.Width)
	binary.BigEndian.PutUint32(buf[4:8], f.Height)
	copy(buf[structuredHeader:], f.Pixels)
	return buf, nil
}

func (s Structured) Decode(payload []byte) (*frame.Frame, error) {
	if len(payload) < structuredHeader {
		return nil, &DecodeError{Codec: s.Name(), Err: ErrShortPayload}
	}

	f := &frame.Frame{
		Width:  binary.BigEndian.Uint32(payload[0:4]),
		Height: binary.BigEndian.Uint32(payload[4:8]),
	}
	body := payload[structuredHeader:]
	if uint64(len(body)) != uint64(f.Width)*uint64(f.Height)*frame.BytesPerPixel {
		return nil, &DecodeError{
			Codec: s.Name(),
			Err:   fmt.Errorf("%w: %dx%d with %d bytes", frame.ErrInvalidSize, f.Width, f.Height, len(body)),
		}
	}

	f.Pixels = make([]byte, len(body))
	copy(f.Pixels, body)
	if err := f.Validate(); err != nil {
		return nil, &DecodeError{Codec: s.Name(), Err: err}
	}
	return f, nil
}
