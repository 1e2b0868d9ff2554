// Package frame 定义屏幕帧数据模型以及裁剪、遮挡处理
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

// BytesPerPixel RGBA每像素字节数
const BytesPerPixel = 4

var (
	ErrInvalidSize = errors.New("pixel buffer size does not match dimensions")
	ErrEmptyFrame  = errors.New("frame has zero width or height")
)

// Frame 一帧RGBA图像，Pixels长度必须等于 Width*Height*4
type Frame struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

// New 分配一个指定尺寸的空白帧
func New(width, height uint32) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Pixels: make([]byte, Size(width, height)),
	}
}

// Size 返回指定尺寸所需的像素缓冲区长度
func Size(width, height uint32) int {
	return int(width) * int(height) * BytesPerPixel
}

// Validate 检查像素缓冲区与宽高是否一致
func (f *Frame) Validate() error {
	if f == nil || f.Width == 0 || f.Height == 0 {
		return ErrEmptyFrame
	}
	if len(f.Pixels) != Size(f.Width, f.Height) {
		return fmt.Errorf("%w: %dx%d needs %d bytes, got %d",
			ErrInvalidSize, f.Width, f.Height, Size(f.Width, f.Height), len(f.Pixels))
	}
	return nil
}

// Clone 深拷贝一帧
func (f *Frame) Clone() *Frame {
	c := &Frame{Width: f.Width, Height: f.Height, Pixels: make([]byte, len(f.Pixels))}
	copy(c.Pixels, f.Pixels)
	return c
}

// CopyFrom 将src复制到f中，尽量复用f已有的缓冲区
func (f *Frame) CopyFrom(src *Frame) {
	n := len(src.Pixels)
	if cap(f.Pixels) < n {
		f.Pixels = make([]byte, n)
	}
	f.Pixels = f.Pixels[:n]
	copy(f.Pixels, src.Pixels)
	f.Width = src.Width
	f.Height = src.Height
}

// Image 以 *image.RGBA 形式共享底层像素，不拷贝
func (f *Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pixels,
		Stride: int(f.Width) * BytesPerPixel,
		Rect:   image.Rect(0, 0, int(f.Width), int(f.Height)),
	}
}

// FromImage 将任意图像转换为帧，*image.RGBA 会做一次紧凑拷贝
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := New(uint32(b.Dx()), uint32(b.Dy()))

	if rgba, ok := img.(*image.RGBA); ok {
		rowLen := b.Dx() * BytesPerPixel
		for y := 0; y < b.Dy(); y++ {
			start := rgba.PixOffset(b.Min.X, b.Min.Y+y)
			copy(f.Pixels[y*rowLen:(y+1)*rowLen], rgba.Pix[start:start+rowLen])
		}
		return f
	}

	draw.Draw(f.Image(), f.Image().Rect, img, b.Min, draw.Src)
	return f
}
