// Package nats 提供基于NATS core pub/sub的消息总线实现
package nats

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ustream/internal/bus"

	"github.com/nats-io/nats.go"
)

// Config NATS连接配置选项
type Config struct {
	// 连接地址，例如 nats://localhost:4222
	URLs []string `mapstructure:"urls" json:"urls"`

	// 连接名称，用于标识客户端
	Name string `mapstructure:"name" json:"name"`

	ReconnectWait  time.Duration `mapstructure:"reconnect_wait" json:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects" json:"max_reconnects"` // -1表示无限重连
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`

	// 订阅通道阻塞时放弃投递的超时
	OpTimeout time.Duration `mapstructure:"op_timeout" json:"op_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		URLs:           []string{nats.DefaultURL},
		Name:           "ustream",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
		OpTimeout:      100 * time.Millisecond,
	}
}

// NatsBus 基于NATS的消息总线实现
type NatsBus struct {
	conn       *nats.Conn
	cfg        Config
	mu         sync.RWMutex
	closed     bool
	subs       map[string]*nats.Subscription
	reconnects uint64
}

// New 创建一个新的NatsBus实例
func New(cfg Config) (*NatsBus, error) {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultConfig().OpTimeout
	}

	nb := &NatsBus{
		cfg:  cfg,
		subs: make(map[string]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			nb.IncReconnects()
			slog.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("nats connection closed")
		}),
	}

	serverURL := nats.DefaultURL
	if len(cfg.URLs) > 0 {
		serverURL = strings.Join(cfg.URLs, ",")
	}

	nc, err := nats.Connect(serverURL, opts...)
	if err != nil {
		return nil, err
	}
	nb.conn = nc

	slog.Info("connected to nats", "urls", cfg.URLs)
	return nb, nil
}

// GetReconnectCount 获取重连次数
func (n *NatsBus) GetReconnectCount() uint64 {
	return atomic.LoadUint64(&n.reconnects)
}

// Close 实现MessageBus.Close，关闭NATS连接
func (n *NatsBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	for topic, sub := range n.subs {
		_ = sub.Unsubscribe()
		delete(n.subs, topic)
	}
	n.conn.Close()
	return nil
}

// 确保NatsBus实现了MessageBus接口
var _ bus.MessageBus = (*NatsBus)(nil)
