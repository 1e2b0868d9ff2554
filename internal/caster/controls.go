package caster

import (
	"sync"

	"ustream/internal/frame"
)

// ControlState UI层可以实时修改的推流开关
type ControlState struct {
	Crop      frame.CropSpec `mapstructure:"crop" json:"crop"`
	Blank     bool           `mapstructure:"blank" json:"blank"`
	Streaming bool           `mapstructure:"streaming" json:"streaming"`
}

// DefaultControlState 默认推流、不裁剪、不遮挡
func DefaultControlState() ControlState {
	return ControlState{Streaming: true}
}

// Controls 并发安全的控制项，每个tick读取一次快照
type Controls struct {
	mu    sync.RWMutex
	state ControlState
}

func NewControls(initial ControlState) *Controls {
	return &Controls{state: initial}
}

func (c *Controls) Snapshot() ControlState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Set 整体替换，配置热加载使用
func (c *Controls) Set(s ControlState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Controls) SetCrop(spec frame.CropSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Crop = spec
}

func (c *Controls) SetBlank(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Blank = enabled
}

func (c *Controls) SetStreaming(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Streaming = enabled
}
