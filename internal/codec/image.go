package codec

import (
	"bytes"
	"image/jpeg"

	"ustream/internal/frame"
)

// Image JPEG有损编码，宽高由JPEG头部恢复
type Image struct {
	quality int
}

// NewImage 创建JPEG编码器，质量限制在 1..100
func NewImage(quality int) *Image {
	if quality <= 0 {
		quality = DefaultQuality
	}
	if quality > 100 {
		quality = 100
	}
	return &Image{quality: quality}
}

func (c *Image) Name() string { return TypeImage }

// Quality 返回当前质量
func (c *Image) Quality() int { return c.quality }

func (c *Image) Encode(f *frame.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, &EncodeError{Codec: c.Name(), Err: err}
	}

	var buf bytes.Buffer
	buf.Grow(len(f.Pixels) / 8)
	if err := jpeg.Encode(&buf, f.Image(), &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, &EncodeError{Codec: c.Name(), Err: err}
	}
	return buf.Bytes(), nil
}

func (c *Image) Decode(payload []byte) (*frame.Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, &DecodeError{Codec: c.Name(), Err: err}
	}
	return frame.FromImage(img), nil
}
