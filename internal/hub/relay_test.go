package hub

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"ustream/internal/bus"
	redisbus "ustream/internal/bus/redis"
	"ustream/internal/codec"
	"ustream/internal/frame"
	"ustream/internal/wire"
)

// MockBus 记录发布内容的总线模拟
type MockBus struct {
	mu         sync.Mutex
	published  [][]byte
	topics     []string
	publishErr error
}

func (m *MockBus) Publish(ctx context.Context, topic string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.topics = append(m.topics, topic)
	m.published = append(m.published, data)
	return nil
}

func (m *MockBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (m *MockBus) Unsubscribe(topic string) error { return nil }
func (m *MockBus) Close() error                   { return nil }

func (m *MockBus) Published() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.published...)
}

func TestHub_ForwardsToBus(t *testing.T) {
	mb := &MockBus{}
	h, _ := startHub(t, codec.Structured{}, WithBus(mb, ""))

	if err := h.Publish(frame.New(2, 2), true); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "bus publish", func() bool { return len(mb.Published()) == 1 })
	msg := mb.Published()[0]
	if err := wire.Validate(msg); err != nil {
		t.Fatalf("bus received malformed message: %v", err)
	}
	mb.mu.Lock()
	topic := mb.topics[0]
	mb.mu.Unlock()
	if topic != bus.DefaultTopic {
		t.Errorf("expected default topic, got %q", topic)
	}
}

func TestHub_BusFailureDoesNotFailPublish(t *testing.T) {
	mb := &MockBus{publishErr: bus.ErrPublishFailed}
	h, _ := startHub(t, codec.Structured{}, WithBus(mb, "frames"))
	conn := NewMockConn("10.0.0.1:5000")
	register(t, h, conn)

	if err := h.Publish(nil, false); err != nil {
		t.Fatalf("bus failure leaked into Publish: %v", err)
	}
	waitFor(t, "local delivery", func() bool { return len(conn.Written()) == 1 })
}

func TestHub_FollowBusWithoutBus(t *testing.T) {
	h := New(DefaultConfig(), codec.Structured{})
	defer h.Close()

	if err := h.FollowBus(context.Background(), nil, ""); !errors.Is(err, ErrNoBus) {
		t.Errorf("expected ErrNoBus, got %v", err)
	}
}

// TestHub_RedisRelay 源节点经Redis把消息转发给中继节点的TCP客户端
func TestHub_RedisRelay(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("无法启动miniredis: %v", err)
	}
	defer s.Close()

	newBus := func(source string) *redisbus.RedisBus {
		cfg := redisbus.DefaultConfig()
		cfg.Addrs = []string{s.Addr()}
		cfg.RetryInterval = 20 * time.Millisecond
		cfg.Source = source
		rb, err := redisbus.New(cfg)
		if err != nil {
			t.Fatalf("无法创建RedisBus: %v", err)
		}
		t.Cleanup(func() { _ = rb.Close() })
		return rb
	}

	origin := New(DefaultConfig(), codec.Structured{}, WithBus(newBus("origin"), "relay-test"))
	defer origin.Close()
	if err := origin.Start(0); err != nil {
		t.Fatal(err)
	}

	relay := New(DefaultConfig(), codec.Structured{})
	defer relay.Close()
	if err := relay.Start(0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	followed := make(chan error, 1)
	go func() { followed <- relay.FollowBus(ctx, newBus("relay"), "relay-test") }()
	defer func() {
		cancel()
		if err := <-followed; err != nil {
			t.Errorf("FollowBus returned %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.PubSubChannels("")) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	viewer, err := net.Dial("tcp", relay.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer viewer.Close()
	waitFor(t, "relay client", func() bool { return relay.ClientCount() == 1 })

	src := frame.New(16, 8)
	src.Pixels[0] = 0x7F
	if err := origin.Publish(src, true); err != nil {
		t.Fatal(err)
	}

	_ = viewer.SetReadDeadline(time.Now().Add(3 * time.Second))
	payload, err := wire.ReadMessage(viewer, wire.DefaultMaxPayload)
	if err != nil {
		t.Fatalf("relay client read failed: %v", err)
	}
	got, err := codec.Structured{}.Decode(payload)
	if err != nil {
		t.Fatal(err)
	}
	if got.Width != 16 || got.Height != 8 || !bytes.Equal(got.Pixels, src.Pixels) {
		t.Error("relayed frame differs from source")
	}
}
