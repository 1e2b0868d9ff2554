package frame

import "sync"

// Pool 复用采集分辨率大小的像素缓冲区，避免每次tick都分配
type Pool struct {
	pool sync.Pool
}

// NewPool 创建缓冲池
func NewPool() *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() any { return &Frame{} },
		},
	}
}

// Get 取出一个尺寸为 width x height 的帧，像素内容未定义
func (p *Pool) Get(width, height uint32) *Frame {
	f := p.pool.Get().(*Frame)
	n := Size(width, height)
	if cap(f.Pixels) < n {
		f.Pixels = make([]byte, n)
	}
	f.Pixels = f.Pixels[:n]
	f.Width = width
	f.Height = height
	return f
}

// Clone 从池中取帧并复制src
func (p *Pool) Clone(src *Frame) *Frame {
	f := p.Get(src.Width, src.Height)
	copy(f.Pixels, src.Pixels)
	return f
}

// Put 归还帧，调用方之后不得再使用f
func (p *Pool) Put(f *Frame) {
	if f == nil {
		return
	}
	p.pool.Put(f)
}
