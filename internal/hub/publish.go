package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ustream/internal/bus"
	"ustream/internal/codec"
	"ustream/internal/frame"
	"ustream/internal/metrics"
	"ustream/internal/utils"
	"ustream/internal/wire"
)

// Publish 发布一帧。距离上一次有效发布不足PublishInterval的调用直接忽略
// streaming为false时发送心跳，不编码
func (h *Hub) Publish(f *frame.Frame, streaming bool) error {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	now := h.now()
	if !h.lastPublish.IsZero() && now.Sub(h.lastPublish) < h.cfg.PublishInterval {
		metrics.PublishRateLimited()
		return nil
	}

	var msg []byte
	if streaming {
		payload, err := h.encode(f)
		if err != nil {
			slog.Warn("encode failed, skipping tick", "codec", h.codec.Name(), "error", err)
			metrics.RecordEncodeError()
			return err
		}
		msg = wire.Encode(payload)
	} else {
		msg = wire.Heartbeat()
	}

	if !h.emit(msg) {
		return nil
	}
	h.lastPublish = now
	metrics.MessagePublished(len(msg), !streaming)

	h.forward(msg)
	return nil
}

func (h *Hub) encode(f *frame.Frame) ([]byte, error) {
	if h.scaler.MaxWidth > 0 {
		f = h.scaler.Apply(f)
	}

	start := time.Now()
	payload, err := h.codec.Encode(f)
	if err != nil {
		var encErr *codec.EncodeError
		if !errors.As(err, &encErr) {
			err = &codec.EncodeError{Codec: h.codec.Name(), Err: err}
		}
		return nil, err
	}
	metrics.ObserveEncode(time.Since(start).Seconds())
	return payload, nil
}

// emit 在注册表锁内检查状态并把消息放入每个客户端的队列，返回是否实际发出
func (h *Hub) emit(msg []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if State(h.state.Load()) != StateRunning {
		return false
	}
	for _, c := range h.clients {
		c.enqueue(msg)
	}
	return true
}

// Relay 转发一条已经成帧的消息，不经过发布间隔和编码器
func (h *Hub) Relay(msg []byte) error {
	if err := wire.Validate(msg); err != nil {
		return err
	}
	h.emit(msg)
	return nil
}

// forward 把消息交给总线协程，总线跟不上时丢弃
func (h *Hub) forward(msg []byte) {
	if h.busOut == nil {
		return
	}
	select {
	case h.busOut <- msg:
	default:
		slog.Debug("bus backlog full, dropping message", "topic", h.topic)
	}
}

func (h *Hub) busLoop() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.busOut:
			ctx, cancel := context.WithTimeout(h.ctx, h.cfg.BusTimeout)
			if err := h.bus.Publish(ctx, h.topic, msg); err != nil {
				slog.Warn("failed to publish to bus", "topic", h.topic, "error", err)
				metrics.RecordError()
			}
			cancel()
		}
	}
}

// FollowBus 订阅总线主题并把收到的消息中继给本地客户端，阻塞到ctx结束
// 订阅channel被关闭时重新订阅
func (h *Hub) FollowBus(ctx context.Context, b bus.MessageBus, topic string) error {
	if b == nil {
		return ErrNoBus
	}
	if topic == "" {
		topic = bus.DefaultTopic
	}

	for {
		var ch <-chan []byte
		err := utils.RetryWithBackoff(ctx, "bus subscribe", utils.DefaultBackoff(), func(ctx context.Context) error {
			var err error
			ch, err = b.Subscribe(ctx, topic)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("follow bus topic %s: %w", topic, err)
		}
		slog.Info("following bus", "topic", topic, "node_id", h.nodeID)

		if done := h.relayFrom(ctx, ch); done {
			_ = b.Unsubscribe(topic)
			return nil
		}

		slog.Warn("bus subscription closed, resubscribing", "topic", topic)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// relayFrom 消费订阅channel，ctx结束时返回true，channel关闭时返回false
func (h *Hub) relayFrom(ctx context.Context, ch <-chan []byte) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			if err := h.Relay(msg); err != nil {
				slog.Warn("dropping malformed bus message", "size", len(msg), "error", err)
				metrics.RecordError()
			}
		}
	}
}
