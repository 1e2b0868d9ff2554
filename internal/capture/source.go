// Package capture 提供帧来源：屏幕采集与合成测试图案，均以"只保留最新一帧"的方式对外提供
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ustream/internal/frame"
	"ustream/internal/metrics"
)

// 来源类型
const (
	SourceScreen    = "screen"
	SourceSynthetic = "synthetic"
)

var (
	ErrUnknownSource  = errors.New("unknown capture source")
	ErrNoDisplay      = errors.New("display not available")
	ErrAlreadyStarted = errors.New("capture already started")
)

// Source 帧来源，NextFrame 为非阻塞轮询，首帧采集完成前返回false
// 返回的帧由来源持有，调用方只读，需要修改时先复制
type Source interface {
	NextFrame() (*frame.Frame, bool)
	Start(ctx context.Context) error
	Stop()
}

// Config 采集配置
type Config struct {
	Source   string        `mapstructure:"source" json:"source"`
	Display  int           `mapstructure:"display" json:"display"`
	Interval time.Duration `mapstructure:"interval" json:"interval"`
	// 合成来源的尺寸
	Width  uint32 `mapstructure:"width" json:"width"`
	Height uint32 `mapstructure:"height" json:"height"`
}

// DefaultConfig 默认30ms采集一次主屏幕
func DefaultConfig() Config {
	return Config{
		Source:   SourceScreen,
		Display:  0,
		Interval: 30 * time.Millisecond,
		Width:    640,
		Height:   480,
	}
}

// New 根据配置创建来源
func New(cfg Config) (Source, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	switch strings.ToLower(cfg.Source) {
	case "", SourceScreen:
		return NewScreen(cfg), nil
	case SourceSynthetic:
		return NewSynthetic(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Source)
	}
}

// Slot 只保存最新一帧的槽位，新帧覆盖旧帧，从不排队
type Slot struct {
	mu       sync.Mutex
	cur      *frame.Frame
	consumed bool
	dropped  uint64
}

// Store 写入新帧，未被读取就被覆盖的旧帧计为丢弃
func (s *Slot) Store(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil && !s.consumed {
		s.dropped++
		metrics.CaptureDropped()
	}
	s.cur = f
	s.consumed = false
}

// Load 返回最新一帧，尚无帧时返回false
func (s *Slot) Load() (*frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		return nil, false
	}
	s.consumed = true
	return s.cur, true
}

// Dropped 返回被覆盖的未读帧数量
func (s *Slot) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// loop 采集循环的公共部分：按interval调用grab，直到ctx结束
type loop struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func (l *loop) start(ctx context.Context, interval time.Duration, grab func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go func(done chan struct{}) {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		grab()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				grab()
			}
		}
	}(l.done)
	return nil
}

func (l *loop) stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done
}
