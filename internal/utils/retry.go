package utils

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backoff 指数退避参数
type Backoff struct {
	MaxRetries int           // 首次尝试之后的最大重试次数，<0 表示无限重试
	Initial    time.Duration // 第一次重试前的等待
	Max        time.Duration // 等待上限
	Factor     float64       // 每次等待的倍数，<=1 时使用1.5
}

// DefaultBackoff 总线订阅使用的默认退避
func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries: 5,
		Initial:    time.Second,
		Max:        30 * time.Second,
		Factor:     1.5,
	}
}

// Next 计算下一次等待时间
func (b Backoff) Next(cur time.Duration) time.Duration {
	f := b.Factor
	if f <= 1 {
		f = 1.5
	}
	next := time.Duration(float64(cur) * f)
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	return next
}

// RetryWithBackoff 执行operation，失败时按退避策略重试，ctx结束时立即返回ctx.Err()
// operationName 仅用于日志
func RetryWithBackoff(ctx context.Context, operationName string, b Backoff, operation func(ctx context.Context) error) error {
	err := operation(ctx)
	if err == nil {
		return nil
	}
	if b.MaxRetries == 0 {
		slog.Error("operation failed with no retries configured", "operation", operationName, "error", err)
		return fmt.Errorf("%s failed (no retries): %w", operationName, err)
	}

	wait := b.Initial
	for attempt := 1; b.MaxRetries < 0 || attempt <= b.MaxRetries; attempt++ {
		slog.Debug("waiting before retry", "operation", operationName, "attempt", attempt, "backoff_ms", wait.Milliseconds(), "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err = operation(ctx); err == nil {
			slog.Debug("operation successful after retry", "operation", operationName, "attempt", attempt)
			return nil
		}
		wait = b.Next(wait)
	}

	slog.Error("operation failed after all retries", "operation", operationName, "retries", b.MaxRetries, "error", err)
	return fmt.Errorf("%s failed after %d retries: %w", operationName, b.MaxRetries, err)
}
