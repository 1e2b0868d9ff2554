// Package caster 把采集、帧处理和广播串成按固定节拍运行的推流管线
package caster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ustream/internal/capture"
	"ustream/internal/codec"
	"ustream/internal/frame"
)

// Publisher 接收处理后的帧，由hub.Hub实现
type Publisher interface {
	Publish(f *frame.Frame, streaming bool) error
	ClientCount() int
}

// Config 管线配置
type Config struct {
	TickInterval time.Duration `mapstructure:"tick_interval" json:"tick_interval"`
}

func DefaultConfig() Config {
	return Config{TickInterval: 30 * time.Millisecond}
}

// Stats 管线计数
type Stats struct {
	Ticks        uint64
	Processed    uint64
	EncodeErrors uint64
}

// Caster 推流管线
type Caster struct {
	cfg      Config
	src      capture.Source
	pub      Publisher
	controls *Controls
	pool     *frame.Pool

	previewMu sync.RWMutex
	preview   *frame.Frame

	ticks        atomic.Uint64
	processed    atomic.Uint64
	encodeErrors atomic.Uint64
}

// New 创建管线，controls为nil时使用默认控制项
func New(cfg Config, src capture.Source, pub Publisher, controls *Controls) *Caster {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if controls == nil {
		controls = NewControls(DefaultControlState())
	}
	return &Caster{
		cfg:      cfg,
		src:      src,
		pub:      pub,
		controls: controls,
		pool:     frame.NewPool(),
	}
}

// Controls 返回管线读取的控制项
func (c *Caster) Controls() *Controls {
	return c.controls
}

// Run 启动来源并按节拍处理，直到ctx结束
func (c *Caster) Run(ctx context.Context) error {
	if err := c.src.Start(ctx); err != nil {
		return fmt.Errorf("start capture source: %w", err)
	}
	defer c.src.Stop()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("caster started", "tick_interval", c.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("caster stopped", "ticks", c.ticks.Load(), "processed", c.processed.Load())
			return nil
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick 轮询一帧，复制到池化缓冲区，依次裁剪和遮挡后发布
func (c *Caster) tick() {
	c.ticks.Add(1)
	st := c.controls.Snapshot()

	src, ok := c.src.NextFrame()
	if !ok {
		// 首帧之前仍然按开关发送心跳
		if !st.Streaming {
			c.publish(nil, false)
		}
		return
	}

	f := c.pool.Clone(src)
	defer c.pool.Put(f)

	frame.Crop(f, st.Crop)
	frame.Blank(f, st.Blank)
	c.storePreview(f)
	c.processed.Add(1)

	c.publish(f, st.Streaming)
}

func (c *Caster) publish(f *frame.Frame, streaming bool) {
	err := c.pub.Publish(f, streaming)
	if err == nil {
		return
	}

	var encErr *codec.EncodeError
	if errors.As(err, &encErr) {
		c.encodeErrors.Add(1)
		return
	}
	slog.Warn("publish failed", "error", err)
}

func (c *Caster) storePreview(f *frame.Frame) {
	c.previewMu.Lock()
	defer c.previewMu.Unlock()

	if c.preview == nil {
		c.preview = f.Clone()
		return
	}
	c.preview.CopyFrom(f)
}

// Preview 返回最近处理后的帧副本，尚未处理过帧时为nil
func (c *Caster) Preview() *frame.Frame {
	c.previewMu.RLock()
	defer c.previewMu.RUnlock()

	if c.preview == nil {
		return nil
	}
	return c.preview.Clone()
}

// ClientCount 当前观看的客户端数
func (c *Caster) ClientCount() int {
	return c.pub.ClientCount()
}

func (c *Caster) Stats() Stats {
	return Stats{
		Ticks:        c.ticks.Load(),
		Processed:    c.processed.Load(),
		EncodeErrors: c.encodeErrors.Load(),
	}
}
