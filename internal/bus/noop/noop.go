// Package noop 提供单节点部署使用的空消息总线
package noop

import (
	"context"
	"sync"

	"ustream/internal/bus"
)

// NoopBus 丢弃所有发布的消息，订阅通道永远不会收到数据，
// 只会在取消订阅、ctx结束或总线关闭时被关闭
type NoopBus struct {
	mu     sync.Mutex
	closed bool
	subs   map[string][]chan []byte
}

// New 创建一个新的NoopBus实例
func New() *NoopBus {
	return &NoopBus{subs: make(map[string][]chan []byte)}
}

func (n *NoopBus) Publish(ctx context.Context, topic string, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}
	return nil
}

func (n *NoopBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, bus.ErrBusClosed
	}
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}

	ch := make(chan []byte)
	n.subs[topic] = append(n.subs[topic], ch)

	go func() {
		<-ctx.Done()
		n.release(topic, ch)
	}()
	return ch, nil
}

func (n *NoopBus) Unsubscribe(topic string) error {
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs[topic] {
		close(ch)
	}
	delete(n.subs, topic)
	return nil
}

// release 关闭单个订阅通道，已关闭时忽略
func (n *NoopBus) release(topic string, target chan []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	chans := n.subs[topic]
	for i, ch := range chans {
		if ch == target {
			close(ch)
			n.subs[topic] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
}

func (n *NoopBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	for topic, chans := range n.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(n.subs, topic)
	}
	return nil
}

// 确保NoopBus实现了MessageBus接口
var _ bus.MessageBus = (*NoopBus)(nil)
