package link

import (
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ustream/internal/codec"
	"ustream/internal/frame"
	"ustream/internal/hub"
)

func TestViewer_HeartbeatKeepsFrame(t *testing.T) {
	var (
		mu      sync.Mutex
		changes []ConnState
		shown   []*frame.Frame
	)
	v := NewViewer(func(s ConnState, f *frame.Frame) {
		mu.Lock()
		changes = append(changes, s)
		shown = append(shown, f)
		mu.Unlock()
	})

	a := frame.New(2, 2)
	events := make(chan Event, 4)
	events <- Event{Kind: EventFrame, Frame: a}
	events <- Event{Kind: EventHeartbeat}
	events <- Event{Kind: EventHeartbeat}

	// 心跳之后仍显示同一帧
	go func() {
		time.Sleep(20 * time.Millisecond)
		events <- Event{Kind: EventDisconnected, Err: ErrPeerClosed}
		close(events)
	}()
	waitDone := make(chan struct{})
	go func() {
		v.Run(events)
		close(waitDone)
	}()
	waitUntil(t, "heartbeats", func() bool { _, hb := v.Stats(); return hb == 2 })
	if v.Current() != a {
		t.Error("heartbeat replaced the current frame")
	}
	<-waitDone

	if v.Current() != nil {
		t.Error("frame still shown after disconnect")
	}
	frames, heartbeats := v.Stats()
	if frames != 1 || heartbeats != 2 {
		t.Errorf("unexpected stats frames=%d heartbeats=%d", frames, heartbeats)
	}

	st := v.State()
	if st.Connected || !errors.Is(st.Reason, ErrPeerClosed) {
		t.Errorf("expected disconnected by peer, got %s", st)
	}

	mu.Lock()
	defer mu.Unlock()
	// 连接、帧、断开三次变化，心跳不触发回调
	if len(changes) != 3 {
		t.Fatalf("expected 3 change callbacks, got %d", len(changes))
	}
	if shown[1] != a || shown[2] != nil {
		t.Errorf("unexpected frames passed to callback: %v", shown)
	}
}

func TestViewer_LocalCloseClearsFrame(t *testing.T) {
	v := NewViewer(nil)
	events := make(chan Event, 1)
	events <- Event{Kind: EventFrame, Frame: frame.New(2, 2)}
	close(events)
	v.Run(events)

	if v.Current() != nil {
		t.Error("frame still shown after local close")
	}
}

func TestViewer_LocalCloseReason(t *testing.T) {
	v := NewViewer(nil)
	events := make(chan Event)
	close(events)
	v.Run(events)

	if st := v.State(); st.Connected || !errors.Is(st.Reason, ErrClosed) {
		t.Errorf("expected locally closed, got %s", st)
	}
}

func TestViewer_SnapshotPNG(t *testing.T) {
	v := NewViewer(nil)
	path := filepath.Join(t.TempDir(), "snap.png")

	if err := v.SnapshotPNG(path); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("expected ErrNoFrame, got %v", err)
	}

	events := make(chan Event, 1)
	events <- Event{Kind: EventFrame, Frame: frame.New(7, 5)}
	close(events)
	v.Run(events)

	// 断开后仍可保存最后一帧
	if v.Current() != nil {
		t.Fatal("frame still shown after close")
	}
	if err := v.SnapshotPNG(path); err != nil {
		t.Fatalf("SnapshotPNG failed: %v", err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	cfg, err := png.DecodeConfig(file)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 7 || cfg.Height != 5 {
		t.Errorf("snapshot size %dx%d, want 7x5", cfg.Width, cfg.Height)
	}
}

// TestScenario 单个接收端：收到640x480的帧，心跳不改变画面，全部断开后读到流结束
func TestScenario(t *testing.T) {
	enc := codec.NewImage(codec.DefaultQuality)
	h := hub.New(hub.DefaultConfig(), enc)
	defer h.Close()
	if err := h.Start(0); err != nil {
		t.Fatalf("hub start failed: %v", err)
	}

	l, err := Connect(context.Background(), h.Addr().String(), enc, testConfig())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer l.Disconnect()

	updates := make(chan ConnState, 16)
	v := NewViewer(func(s ConnState, _ *frame.Frame) { updates <- s })
	go v.Run(l.Events())

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if h.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", h.ClientCount())
	}

	frameA := frame.New(640, 480)
	for i := range frameA.Pixels {
		frameA.Pixels[i] = byte(i)
	}
	if err := h.Publish(frameA, true); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitUntil(t, "frame A", func() bool { return v.Current() != nil })
	got := v.Current()
	if got.Width != 640 || got.Height != 480 {
		t.Fatalf("received %dx%d, want 640x480", got.Width, got.Height)
	}

	time.Sleep(hub.DefaultConfig().PublishInterval + 10*time.Millisecond)
	if err := h.Publish(nil, false); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "heartbeat", func() bool { _, hb := v.Stats(); return hb == 1 })
	if v.Current() != got {
		t.Error("heartbeat changed the displayed frame")
	}

	h.DisconnectAll()
	if h.ClientCount() != 0 {
		t.Errorf("expected 0 clients after DisconnectAll, got %d", h.ClientCount())
	}
	waitUntil(t, "disconnect", func() bool { return !v.State().Connected })
	if st := v.State(); !errors.Is(st.Reason, ErrPeerClosed) {
		t.Errorf("expected peer closed, got %s", st)
	}
	if v.Current() != nil {
		t.Error("frame still shown after peer closed")
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
