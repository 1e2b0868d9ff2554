// Package redis 提供基于Redis Pub/Sub的消息总线实现
package redis

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"ustream/internal/bus"

	"github.com/redis/go-redis/v9"
)

// Config Redis连接配置选项
type Config struct {
	// 连接地址 (单机模式、集群模式或哨兵模式)
	Addrs []string `mapstructure:"addrs" json:"addrs"`

	// 密码，如果需要的话
	Password string `mapstructure:"password" json:"password"`

	// 数据库编号 (仅单机模式和哨兵模式有效)
	DB int `mapstructure:"db" json:"db"`

	// 哨兵模式的主节点名称
	MasterName string `mapstructure:"master_name" json:"master_name"`

	PoolSize     int           `mapstructure:"pool_size" json:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" json:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`

	// 订阅断开后的重连间隔
	RetryInterval time.Duration `mapstructure:"retry_interval" json:"retry_interval"`
	MaxRetries    int           `mapstructure:"max_retries" json:"max_retries"`

	// 发布超时
	OpTimeout time.Duration `mapstructure:"op_timeout" json:"op_timeout"`

	// 频道前缀
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix"`

	// 模式: single(单机), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode" json:"mode"`

	// 写入信封的来源标识
	Source string `mapstructure:"source" json:"source"`
}

func DefaultConfig() Config {
	return Config{
		Addrs:         []string{"localhost:6379"},
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		RetryInterval: 200 * time.Millisecond,
		MaxRetries:    3,
		OpTimeout:     500 * time.Millisecond,
		KeyPrefix:     "ustream:",
		Mode:          "single",
	}
}

type RedisBus struct {
	client     redis.UniversalClient // 通用客户端接口，兼容单机、哨兵和集群模式
	cfg        Config
	mu         sync.RWMutex
	closed     bool
	subs       map[string]context.CancelFunc // 活跃订阅的取消函数
	reconnects uint64
}

// dialHook 记录底层连接的建立情况
type dialHook struct {
	dials atomic.Uint64
}

func (h *dialHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			slog.Warn("redis dial failed", "addr", addr, "error", err)
			return nil, err
		}
		slog.Debug("redis connection established", "addr", addr, "dials", h.dials.Add(1))
		return conn, nil
	}
}

func (h *dialHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return next
}

func (h *dialHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

// New 连接Redis并返回总线，连接失败时返回错误
func New(cfg Config) (*RedisBus, error) {
	if len(cfg.Addrs) == 0 {
		cfg.Addrs = []string{"localhost:6379"}
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultConfig().OpTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultConfig().RetryInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}

	opts := &redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	}
	if cfg.Mode == "sentinel" {
		opts.MasterName = cfg.MasterName
	}
	client := redis.NewUniversalClient(opts)

	rb := &RedisBus{
		client: client,
		cfg:    cfg,
		subs:   make(map[string]context.CancelFunc),
	}
	client.AddHook(&dialHook{})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		_ = client.Close()
		return nil, err
	}

	slog.Info("connected to redis", "addrs", cfg.Addrs, "mode", cfg.Mode)
	return rb, nil
}

func (r *RedisBus) formatKey(topic string) string {
	return r.cfg.KeyPrefix + topic
}

// GetReconnectCount 获取订阅重连次数
func (r *RedisBus) GetReconnectCount() uint64 {
	return atomic.LoadUint64(&r.reconnects)
}

// Close 实现MessageBus.Close，关闭Redis连接
func (r *RedisBus) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for topic, cancel := range r.subs {
		cancel()
		delete(r.subs, topic)
	}
	return r.client.Close()
}

var _ bus.MessageBus = (*RedisBus)(nil)
