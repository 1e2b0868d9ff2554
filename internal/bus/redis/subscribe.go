package redis

import (
	"context"
	"log/slog"
	"time"

	"ustream/internal/bus"
)

// subscribeRoutine 维持一个订阅，连接断开后按RetryInterval重新订阅
func (r *RedisBus) subscribeRoutine(ctx context.Context, channel string, outCh chan<- []byte) {
	defer close(outCh)

	retryCount := 0
	for {
		if ctx.Err() != nil {
			slog.Debug("redis subscription stopped", "channel", channel)
			return
		}

		r.consume(ctx, channel, outCh, &retryCount)

		if ctx.Err() != nil {
			return
		}

		retryCount++
		r.IncReconnects()
		slog.Info("redis subscription disconnected, reconnecting",
			"channel", channel, "retry_count", retryCount)

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.RetryInterval):
		}
	}
}

func (r *RedisBus) consume(ctx context.Context, channel string, outCh chan<- []byte, retryCount *int) {
	pubsub := r.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			slog.Error("failed to receive subscription confirmation", "channel", channel, "error", err)
			r.IncSubscribeErrors()
		}
		return
	}

	if *retryCount > 0 {
		slog.Info("redis subscription recovered", "channel", channel, "after_retries", *retryCount)
		*retryCount = 0
	}

	msgCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}

			envelope, err := bus.UnmarshalMessage([]byte(msg.Payload))
			if err != nil {
				slog.Warn("dropping malformed bus message", "channel", channel, "error", err)
				r.IncSubscribeErrors()
				continue
			}
			r.ObserveSubscribeLatency(envelope.Latency())

			select {
			case outCh <- envelope.Data:
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.OpTimeout):
				slog.Warn("timeout sending message to subscriber channel", "channel", channel)
				r.IncSubscribeErrors()
			}
		}
	}
}
