package link

import (
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"sync"

	"ustream/internal/frame"
)

var ErrNoFrame = errors.New("no frame received yet")

// ConnState 面向UI的连接状态，断开时Reason说明原因
type ConnState struct {
	Connected bool
	Reason    error
}

func (s ConnState) String() string {
	if s.Connected {
		return "connected"
	}
	if s.Reason == nil {
		return "disconnected"
	}
	return fmt.Sprintf("disconnected(%v)", s.Reason)
}

// Viewer 消费Link事件，保存最近一帧和连接状态
type Viewer struct {
	mu         sync.RWMutex
	current    *frame.Frame
	last       *frame.Frame // 断开后仍保留，用于快照
	state      ConnState
	frames     uint64
	heartbeats uint64

	onChange func(ConnState, *frame.Frame)
}

// NewViewer onChange在每次帧或状态变化后调用，可以为nil
func NewViewer(onChange func(ConnState, *frame.Frame)) *Viewer {
	return &Viewer{onChange: onChange}
}

// Run 消费事件直到channel关闭
func (v *Viewer) Run(events <-chan Event) {
	v.update(func() { v.state = ConnState{Connected: true} })

	for ev := range events {
		switch ev.Kind {
		case EventFrame:
			v.update(func() {
				v.current = ev.Frame
				v.last = ev.Frame
				v.frames++
			})
		case EventHeartbeat:
			// 心跳不改变当前帧
			v.mu.Lock()
			v.heartbeats++
			v.mu.Unlock()
		case EventDisconnected:
			// 断开后不再显示旧画面
			v.update(func() {
				v.state = ConnState{Reason: ev.Err}
				v.current = nil
			})
		}
	}

	v.mu.RLock()
	connected := v.state.Connected
	v.mu.RUnlock()
	if connected {
		v.update(func() {
			v.state = ConnState{Reason: ErrClosed}
			v.current = nil
		})
	}
}

func (v *Viewer) update(fn func()) {
	v.mu.Lock()
	fn()
	state, cur := v.state, v.current
	v.mu.Unlock()

	if v.onChange != nil {
		v.onChange(state, cur)
	}
}

// Current 当前显示的帧，尚未收到或已断开时为nil
func (v *Viewer) Current() *frame.Frame {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

func (v *Viewer) State() ConnState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// Stats 返回收到的帧数与心跳数
func (v *Viewer) Stats() (frames, heartbeats uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.frames, v.heartbeats
}

// SnapshotPNG 把最后收到的一帧写成PNG文件，断开后同样可用
func (v *Viewer) SnapshotPNG(path string) error {
	v.mu.RLock()
	f := v.last
	v.mu.RUnlock()
	if f == nil {
		return ErrNoFrame
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := png.Encode(out, f.Image()); err != nil {
		out.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	slog.Info("snapshot written", "path", path, "width", f.Width, "height", f.Height)
	return nil
}
