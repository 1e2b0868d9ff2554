package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/kbinani/screenshot"

	"ustream/internal/frame"
	"ustream/internal/metrics"
)

// Display 一块可采集的显示器
type Display struct {
	Index  int
	Bounds image.Rectangle
}

// Displays 列出当前活动的显示器
func Displays() []Display {
	n := screenshot.NumActiveDisplays()
	out := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Display{Index: i, Bounds: screenshot.GetDisplayBounds(i)})
	}
	return out
}

// Screen 周期性截取一块显示器，只保留最新一帧
type Screen struct {
	cfg  Config
	slot Slot
	loop loop
}

// NewScreen 创建屏幕来源，Start之前不会访问显示器
func NewScreen(cfg Config) *Screen {
	return &Screen{cfg: cfg}
}

func (s *Screen) Start(ctx context.Context) error {
	if n := screenshot.NumActiveDisplays(); s.cfg.Display < 0 || s.cfg.Display >= n {
		return fmt.Errorf("%w: index %d, %d active", ErrNoDisplay, s.cfg.Display, n)
	}

	slog.Info("screen capture starting",
		"display", s.cfg.Display,
		"bounds", screenshot.GetDisplayBounds(s.cfg.Display).String(),
		"interval", s.cfg.Interval)
	return s.loop.start(ctx, s.cfg.Interval, s.grab)
}

func (s *Screen) grab() {
	img, err := screenshot.CaptureDisplay(s.cfg.Display)
	if err != nil {
		metrics.RecordCaptureError()
		slog.Warn("screen capture failed", "display", s.cfg.Display, "error", err)
		return
	}
	s.slot.Store(frame.FromImage(img))
}

func (s *Screen) NextFrame() (*frame.Frame, bool) {
	return s.slot.Load()
}

func (s *Screen) Stop() {
	s.loop.stop()
}

var _ Source = (*Screen)(nil)
