package frame

import "math"

// CropSpec 四边需要涂白的百分比，取值范围 [0,100]
type CropSpec struct {
	Left   float64 `mapstructure:"left" json:"left"`
	Right  float64 `mapstructure:"right" json:"right"`
	Top    float64 `mapstructure:"top" json:"top"`
	Bottom float64 `mapstructure:"bottom" json:"bottom"`
}

// IsZero 四边均为0时裁剪为恒等变换
func (c CropSpec) IsZero() bool {
	return c.Left <= 0 && c.Right <= 0 && c.Top <= 0 && c.Bottom <= 0
}

// Bounds 按 round(pct/100*dim) 计算四条边带的像素宽度，结果被限制在 [0,dim]
func (c CropSpec) Bounds(width, height uint32) (left, right, top, bottom int) {
	return band(c.Left, width), band(c.Right, width), band(c.Top, height), band(c.Bottom, height)
}

func band(pct float64, dim uint32) int {
	if math.IsNaN(pct) || pct <= 0 {
		return 0
	}
	if pct > 100 {
		pct = 100
	}
	n := int(math.Round(pct / 100 * float64(dim)))
	if n > int(dim) {
		n = int(dim)
	}
	return n
}

var white = [BytesPerPixel]byte{255, 255, 255, 255}

// Crop 将四周边带原地涂为不透明白色，内部像素保持不变
// 边带可以重叠，所有写入都被限制在图像范围内
func Crop(f *Frame, spec CropSpec) {
	if f.Validate() != nil || spec.IsZero() {
		return
	}

	w, h := int(f.Width), int(f.Height)
	left, right, top, bottom := spec.Bounds(f.Width, f.Height)
	stride := w * BytesPerPixel

	for y := 0; y < h; y++ {
		row := f.Pixels[y*stride : (y+1)*stride]
		if y < top || y >= h-bottom {
			fillWhite(row)
			continue
		}
		fillWhite(row[:left*BytesPerPixel])
		fillWhite(row[(w-right)*BytesPerPixel:])
	}
}

// Blank 启用时将整帧涂白，否则不做任何修改
func Blank(f *Frame, enabled bool) {
	if !enabled || f.Validate() != nil {
		return
	}
	fillWhite(f.Pixels)
}

func fillWhite(b []byte) {
	if len(b) == 0 {
		return
	}
	copy(b, white[:])
	// 倍增拷贝
	for filled := BytesPerPixel; filled < len(b); filled *= 2 {
		copy(b[filled:], b[:filled])
	}
}
