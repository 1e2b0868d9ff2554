package link

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"ustream/internal/codec"
	"ustream/internal/frame"
	"ustream/internal/wire"
)

// serveOnce 启动一个只接受一个连接的服务端，handler结束后关闭连接
func serveOnce(t *testing.T, handler func(net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}()
	return ln.Addr().String()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ReadTimeout = time.Second
	return cfg
}

func nextEvent(t *testing.T, l *Link) Event {
	t.Helper()
	select {
	case ev, ok := <-l.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func structuredMsg(t *testing.T, f *frame.Frame) []byte {
	t.Helper()
	payload, err := codec.Structured{}.Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	return wire.Encode(payload)
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"192.168.1.10", "192.168.1.10:9041", false},
		{" 10.0.0.1 ", "10.0.0.1:9041", false},
		{"::1", "[::1]:9041", false},
		{"[::1]", "[::1]:9041", false},
		{"127.0.0.1:7000", "127.0.0.1:7000", false},
		{"caster.local:9041", "caster.local:9041", false},
		{"", "", true},
		{"not an address", "", true},
		{"caster.local", "", true},
		{":9041", "", true},
		{"127.0.0.1:0", "", true},
		{"127.0.0.1:70000", "", true},
		{"127.0.0.1:http", "", true},
	}

	for _, tt := range tests {
		got, err := ResolveTarget(tt.in)
		if tt.err {
			if !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("ResolveTarget(%q): expected ErrInvalidAddress, got %q, %v", tt.in, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ResolveTarget(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestConnect_InvalidAddress(t *testing.T) {
	_, err := Connect(context.Background(), "bogus", codec.Structured{}, testConfig())
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestConnect_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = Connect(context.Background(), addr, codec.Structured{}, testConfig())
	if !errors.Is(err, ErrConnectRefused) {
		t.Errorf("expected ErrConnectRefused, got %v", err)
	}
	if errors.Is(err, ErrConnectTimeout) {
		t.Error("refused must not be reported as timeout")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyDialError(t *testing.T) {
	ctx := context.Background()

	if err := classifyDialError(ctx, "a:1", &net.OpError{Op: "dial", Err: timeoutErr{}}); !errors.Is(err, ErrConnectTimeout) {
		t.Errorf("expected ErrConnectTimeout, got %v", err)
	}
	if err := classifyDialError(ctx, "a:1", context.DeadlineExceeded); !errors.Is(err, ErrConnectTimeout) {
		t.Errorf("expected ErrConnectTimeout for deadline, got %v", err)
	}
	if err := classifyDialError(ctx, "a:1", errors.New("no route to host")); !errors.Is(err, ErrConnectRefused) {
		t.Errorf("expected ErrConnectRefused, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := classifyDialError(cancelled, "a:1", errors.New("operation was canceled")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLink_FramesHeartbeatsAndPeerClose(t *testing.T) {
	src := frame.New(3, 2)
	src.Pixels[5] = 42
	msg := structuredMsg(t, src)

	addr := serveOnce(t, func(c net.Conn) {
		c.Write(wire.Heartbeat())
		c.Write(msg)
		c.Write(wire.Heartbeat())
	})

	l, err := Connect(context.Background(), addr, codec.Structured{}, testConfig())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer l.Disconnect()

	if ev := nextEvent(t, l); ev.Kind != EventHeartbeat {
		t.Fatalf("expected heartbeat, got %s", ev.Kind)
	}
	ev := nextEvent(t, l)
	if ev.Kind != EventFrame || ev.Frame.Width != 3 || ev.Frame.Height != 2 || ev.Frame.Pixels[5] != 42 {
		t.Fatalf("unexpected frame event %+v", ev)
	}
	if ev := nextEvent(t, l); ev.Kind != EventHeartbeat {
		t.Fatalf("expected heartbeat, got %s", ev.Kind)
	}

	ev = nextEvent(t, l)
	if ev.Kind != EventDisconnected || !errors.Is(ev.Err, ErrPeerClosed) {
		t.Fatalf("expected peer closed, got %s %v", ev.Kind, ev.Err)
	}
	if _, ok := <-l.Events(); ok {
		t.Error("events channel should be closed after disconnect event")
	}
}

func TestLink_SplitHeaderAcrossPolls(t *testing.T) {
	msg := structuredMsg(t, frame.New(4, 4))

	addr := serveOnce(t, func(c net.Conn) {
		c.Write(msg[:2])
		// 超过几次轮询间隔，已读到的半个消息头不能丢
		time.Sleep(50 * time.Millisecond)
		c.Write(msg[2:])
		time.Sleep(50 * time.Millisecond)
	})

	l, err := Connect(context.Background(), addr, codec.Structured{}, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Disconnect()

	ev := nextEvent(t, l)
	if ev.Kind != EventFrame || ev.Frame.Width != 4 {
		t.Fatalf("expected 4x4 frame, got %s %v", ev.Kind, ev.Err)
	}
}

func TestLink_OversizedMessage(t *testing.T) {
	addr := serveOnce(t, func(c net.Conn) {
		var hdr [wire.HeaderSize]byte
		binary.BigEndian.PutUint32(hdr[:], 1<<20)
		c.Write(hdr[:])
		time.Sleep(100 * time.Millisecond)
	})

	cfg := testConfig()
	cfg.MaxPayload = 1024
	l, err := Connect(context.Background(), addr, codec.Structured{}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Disconnect()

	ev := nextEvent(t, l)
	if ev.Kind != EventDisconnected || !errors.Is(ev.Err, wire.ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %s %v", ev.Kind, ev.Err)
	}
}

func TestLink_DecodeFailure(t *testing.T) {
	addr := serveOnce(t, func(c net.Conn) {
		c.Write(wire.Encode([]byte{1, 2, 3}))
		time.Sleep(100 * time.Millisecond)
	})

	l, err := Connect(context.Background(), addr, codec.Structured{}, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Disconnect()

	ev := nextEvent(t, l)
	var decErr *codec.DecodeError
	if ev.Kind != EventDisconnected || !errors.As(ev.Err, &decErr) {
		t.Fatalf("expected DecodeError, got %s %v", ev.Kind, ev.Err)
	}
}

func TestLink_TruncatedPayload(t *testing.T) {
	msg := structuredMsg(t, frame.New(8, 8))
	addr := serveOnce(t, func(c net.Conn) {
		c.Write(msg[:len(msg)/2])
	})

	l, err := Connect(context.Background(), addr, codec.Structured{}, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Disconnect()

	ev := nextEvent(t, l)
	if ev.Kind != EventDisconnected || !errors.Is(ev.Err, ErrReadFailed) {
		t.Fatalf("expected ErrReadFailed, got %s %v", ev.Kind, ev.Err)
	}
	if errors.Is(ev.Err, ErrPeerClosed) {
		t.Error("truncated stream must not look like a clean close")
	}
}

func TestLink_DisconnectIsIdempotent(t *testing.T) {
	release := make(chan struct{})
	addr := serveOnce(t, func(c net.Conn) {
		// 保持连接但不发送任何内容
		<-release
	})
	defer close(release)

	l, err := Connect(context.Background(), addr, codec.Structured{}, testConfig())
	if err != nil {
		t.Fatal(err)
	}

	l.Disconnect()
	l.Disconnect()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop did not stop after Disconnect")
	}
	for range l.Events() {
	}

	// 循环退出后再次调用也不会出错
	l.Disconnect()
}

func TestLink_DisconnectAfterPeerClose(t *testing.T) {
	addr := serveOnce(t, func(c net.Conn) {})

	l, err := Connect(context.Background(), addr, codec.Structured{}, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	for range l.Events() {
	}
	<-l.Done()

	l.Disconnect()
	l.Disconnect()
}

func TestEventKind_String(t *testing.T) {
	if EventFrame.String() != "frame" || EventHeartbeat.String() != "heartbeat" ||
		EventDisconnected.String() != "disconnected" || EventKind(7).String() != "unknown" {
		t.Error("unexpected EventKind names")
	}
}
