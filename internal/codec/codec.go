// Package codec 提供帧的负载编码：结构化（无损）与图像（JPEG）两种变体
package codec

import (
	"errors"
	"fmt"
	"strings"

	"ustream/internal/frame"
)

// 编码类型名称
const (
	TypeImage      = "jpeg"
	TypeStructured = "raw"
)

// DefaultQuality JPEG默认质量
const DefaultQuality = 75

var ErrUnknownCodec = errors.New("unknown codec type")

// Codec 帧与字节负载之间的转换，同一部署两端必须使用相同的实现
type Codec interface {
	Encode(f *frame.Frame) ([]byte, error)
	Decode(payload []byte) (*frame.Frame, error)
	Name() string
}

// EncodeError 编码失败，当前tick的发布会被跳过
type EncodeError struct {
	Codec string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s encode: %v", e.Codec, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError 解码失败，接收端据此终止连接
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Config 编码配置
type Config struct {
	Type     string `mapstructure:"type" json:"type"`
	Quality  int    `mapstructure:"quality" json:"quality"`
	MaxWidth uint   `mapstructure:"max_width" json:"max_width"`
}

// DefaultConfig 默认使用JPEG
func DefaultConfig() Config {
	return Config{
		Type:    TypeImage,
		Quality: DefaultQuality,
	}
}

// New 根据名称创建编码器
func New(cfg Config) (Codec, error) {
	switch strings.ToLower(cfg.Type) {
	case "", TypeImage, "image", "jpg":
		return NewImage(cfg.Quality), nil
	case TypeStructured, "structured":
		return Structured{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, cfg.Type)
	}
}
