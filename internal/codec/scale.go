package codec

import (
	"github.com/nfnt/resize"

	"ustream/internal/frame"
)

// Scaler 在编码前按最大宽度等比缩小帧，MaxWidth为0时不做处理
type Scaler struct {
	MaxWidth uint
}

// Apply 返回缩放后的帧，不需要缩放时直接返回f
func (s Scaler) Apply(f *frame.Frame) *frame.Frame {
	if s.MaxWidth == 0 || f.Validate() != nil || uint(f.Width) <= s.MaxWidth {
		return f
	}
	// 高度传0保持宽高比
	out := resize.Resize(s.MaxWidth, 0, f.Image(), resize.Lanczos3)
	return frame.FromImage(out)
}
