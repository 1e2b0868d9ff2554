package capture

import (
	"context"
	"sync/atomic"

	"ustream/internal/frame"
)

// Synthetic 生成移动色条测试图案，用于无显示器环境和测试
type Synthetic struct {
	cfg  Config
	slot Slot
	loop loop
	tick atomic.Uint64
}

func NewSynthetic(cfg Config) *Synthetic {
	def := DefaultConfig()
	if cfg.Width == 0 {
		cfg.Width = def.Width
	}
	if cfg.Height == 0 {
		cfg.Height = def.Height
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Synthetic{cfg: cfg}
}

func (s *Synthetic) Start(ctx context.Context) error {
	return s.loop.start(ctx, s.cfg.Interval, func() {
		s.slot.Store(Render(s.cfg.Width, s.cfg.Height, s.tick.Add(1)-1))
	})
}

func (s *Synthetic) NextFrame() (*frame.Frame, bool) {
	return s.slot.Load()
}

func (s *Synthetic) Stop() {
	s.loop.stop()
}

// Render 绘制第n帧：水平渐变背景加一条每帧右移4像素的竖条
func Render(width, height uint32, n uint64) *frame.Frame {
	f := frame.New(width, height)
	w := int(width)
	barX := int(n*4) % w
	barW := max(w/16, 1)

	for y := 0; y < int(height); y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * frame.BytesPerPixel
			if x >= barX && x < barX+barW {
				f.Pixels[off] = 220
				f.Pixels[off+1] = 30
				f.Pixels[off+2] = 30
			} else {
				f.Pixels[off] = byte(x * 255 / w)
				f.Pixels[off+1] = byte(y * 255 / int(height))
				f.Pixels[off+2] = 96
			}
			f.Pixels[off+3] = 255
		}
	}
	return f
}

var _ Source = (*Synthetic)(nil)
