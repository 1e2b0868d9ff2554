package nats

import (
	"context"
	"log/slog"
	"time"

	"ustream/internal/bus"

	"github.com/nats-io/nats.go"
)

// Publish 实现MessageBus.Publish，core NATS发布是异步的，这里只等待写入本地缓冲
func (n *NatsBus) Publish(ctx context.Context, topic string, data []byte) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgData, err := bus.NewMessage(n.cfg.Name, data).Marshal()
	if err != nil {
		n.IncPublishErrors()
		return bus.ErrPublishFailed
	}

	if err := n.conn.Publish(topic, msgData); err != nil {
		n.IncPublishErrors()
		slog.Debug("nats publish failed", "topic", topic, "error", err)
		return bus.ErrPublishFailed
	}
	return nil
}

// Subscribe 实现MessageBus.Subscribe，订阅NATS主题
func (n *NatsBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, bus.ErrBusClosed
	}
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}

	if old, ok := n.subs[topic]; ok {
		_ = old.Unsubscribe()
	}

	msgCh := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanSubscribe(topic, msgCh)
	if err != nil {
		return nil, err
	}
	n.subs[topic] = sub

	outCh := make(chan []byte, 16)
	go n.forward(ctx, topic, sub, msgCh, outCh)

	slog.Info("subscribed to nats topic", "topic", topic)
	return outCh, nil
}

// forward 解开信封并转发，订阅失效或ctx结束时关闭outCh
func (n *NatsBus) forward(ctx context.Context, topic string, sub *nats.Subscription, msgCh <-chan *nats.Msg, outCh chan<- []byte) {
	defer close(outCh)

	// ChanSubscribe不会关闭msgCh，这里轮询订阅状态
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.release(topic, sub)
			return
		case <-ticker.C:
			if !sub.IsValid() {
				return
			}
		case msg := <-msgCh:
			envelope, err := bus.UnmarshalMessage(msg.Data)
			if err != nil {
				slog.Warn("dropping malformed bus message", "topic", topic, "error", err)
				n.IncSubscribeErrors()
				continue
			}
			n.ObserveLatency(envelope.Latency())

			select {
			case outCh <- envelope.Data:
			case <-ctx.Done():
				n.release(topic, sub)
				return
			case <-time.After(n.cfg.OpTimeout):
				slog.Warn("timeout sending message to subscriber channel", "topic", topic)
				n.IncSubscribeErrors()
			}
		}
	}
}

// Unsubscribe 实现MessageBus.Unsubscribe
func (n *NatsBus) Unsubscribe(topic string) error {
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if sub, ok := n.subs[topic]; ok {
		delete(n.subs, topic)
		return sub.Unsubscribe()
	}
	return nil
}

// release 仅在该主题当前仍是sub时取消订阅，避免误删替换后的新订阅
func (n *NatsBus) release(topic string, sub *nats.Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if cur, ok := n.subs[topic]; ok && cur == sub {
		delete(n.subs, topic)
	}
	_ = sub.Unsubscribe()
}
