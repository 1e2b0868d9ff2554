package redis

import (
	"context"

	"ustream/internal/bus"
)

// Publish 把数据装入带时间戳的信封后发布到频道
func (r *RedisBus) Publish(ctx context.Context, topic string, data []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	msgData, err := bus.NewMessage(r.cfg.Source, data).Marshal()
	if err != nil {
		r.IncPublishErrors()
		return bus.ErrPublishFailed
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()

	// 没有订阅者时PUBLISH返回0，这在Pub/Sub模型中是正常的
	if err := r.client.Publish(publishCtx, r.formatKey(topic), msgData).Err(); err != nil {
		r.IncPublishErrors()
		return bus.ErrPublishFailed
	}
	return nil
}

// Subscribe 订阅频道，返回的通道在取消订阅、ctx结束或总线关闭时关闭
func (r *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, bus.ErrBusClosed
	}
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}

	// 同一主题重复订阅时替换旧的订阅
	if cancel, ok := r.subs[topic]; ok {
		cancel()
	}

	outCh := make(chan []byte, 16)
	subCtx, cancel := context.WithCancel(ctx)
	r.subs[topic] = cancel

	go r.subscribeRoutine(subCtx, r.formatKey(topic), outCh)
	return outCh, nil
}

// Unsubscribe 取消订阅，后台goroutine会自行退出
func (r *RedisBus) Unsubscribe(topic string) error {
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	if cancel, ok := r.subs[topic]; ok {
		cancel()
		delete(r.subs, topic)
	}
	return nil
}
