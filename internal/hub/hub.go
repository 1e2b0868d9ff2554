// Package hub 实现帧广播中心：接受TCP连接、维护客户端注册表、限速发布并向所有客户端扇出
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ustream/internal/bus"
	"ustream/internal/codec"
	"ustream/internal/metrics"
)

var (
	ErrHubClosed      = errors.New("hub closed")
	ErrAlreadyStarted = errors.New("hub already started")
	ErrNoBus          = errors.New("hub has no message bus")
)

// State 广播状态机
type State int32

const (
	StateIdle     State = iota // 未启动或已关闭
	StateRunning               // 正常发布
	StateDraining              // 正在断开全部客户端，发布被挂起
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config Hub配置
type Config struct {
	PublishInterval time.Duration `mapstructure:"publish_interval" json:"publish_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	SendBufferCap   int           `mapstructure:"send_buffer_cap" json:"send_buffer_cap"`
	BusTimeout      time.Duration `mapstructure:"bus_timeout" json:"bus_timeout"`
}

func DefaultConfig() Config {
	return Config{
		PublishInterval: 60 * time.Millisecond,
		WriteTimeout:    5 * time.Second,
		SendBufferCap:   8,
		BusTimeout:      500 * time.Millisecond,
	}
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.PublishInterval <= 0 {
		c.PublishInterval = def.PublishInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SendBufferCap <= 0 {
		c.SendBufferCap = def.SendBufferCap
	}
	if c.BusTimeout <= 0 {
		c.BusTimeout = def.BusTimeout
	}
}

// Option Hub可选项
type Option func(*Hub)

// WithBus 把每条发布的消息同时转发到消息总线，中继节点用FollowBus接收
func WithBus(b bus.MessageBus, topic string) Option {
	return func(h *Hub) {
		h.bus = b
		h.topic = topic
	}
}

// WithScaler 编码前缩放
func WithScaler(s codec.Scaler) Option {
	return func(h *Hub) {
		h.scaler = s
	}
}

// Hub 广播中心，注册表只由Hub自己在mu保护下修改
type Hub struct {
	cfg    Config
	codec  codec.Codec
	scaler codec.Scaler
	bus    bus.MessageBus
	topic  string
	nodeID string

	mu       sync.Mutex
	clients  map[string]*Client // key=远端地址
	state    atomic.Int32
	count    atomic.Int64
	closed   bool
	listener net.Listener
	acceptWg sync.WaitGroup

	pubMu       sync.Mutex
	lastPublish time.Time
	now         func() time.Time

	busOut chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建Hub，Start之前处于Idle状态
func New(cfg Config, enc codec.Codec, opts ...Option) *Hub {
	cfg.fillDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		cfg:     cfg,
		codec:   enc,
		nodeID:  uuid.NewString(),
		clients: make(map[string]*Client),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.bus != nil {
		if h.topic == "" {
			h.topic = bus.DefaultTopic
		}
		h.busOut = make(chan []byte, 4)
		go h.busLoop()
	}

	slog.Info("Hub initialized", "node_id", h.nodeID, "codec", enc.Name(), "publish_interval", cfg.PublishInterval)
	return h
}

// Start 在0.0.0.0:port上监听，绑定失败直接返回错误
func (h *Hub) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return fmt.Errorf("hub listen on port %d: %w", port, err)
	}
	if err := h.Serve(ln); err != nil {
		_ = ln.Close()
		return err
	}
	return nil
}

// Serve 使用已有的listener启动接收循环
func (h *Hub) Serve(ln net.Listener) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if h.listener != nil {
		return ErrAlreadyStarted
	}

	h.listener = ln
	h.state.Store(int32(StateRunning))

	h.acceptWg.Add(1)
	go h.acceptLoop(ln)

	slog.Info("hub listening", "addr", ln.Addr().String(), "node_id", h.nodeID)
	return nil
}

// Addr 返回监听地址，未启动时为nil
func (h *Hub) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

func (h *Hub) acceptLoop(ln net.Listener) {
	defer h.acceptWg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// 单次接收失败只影响这一个连接
			slog.Warn("accept failed", "error", err)
			metrics.RecordError()
			time.Sleep(5 * time.Millisecond)
			continue
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		if _, err := h.Register(conn); err != nil {
			slog.Warn("register failed", "client", conn.RemoteAddr().String(), "error", err)
		}
	}
}

// Register 把连接加入注册表并启动它的写协程
func (h *Hub) Register(conn Conn) (*Client, error) {
	c := newClient(conn, h.cfg, h.unregister)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return nil, ErrHubClosed
	}
	old := h.clients[c.addr]
	h.clients[c.addr] = c
	if old == nil {
		h.count.Add(1)
	}
	h.mu.Unlock()

	if old != nil {
		// 同一地址重复注册，旧连接的注销回调会因身份不匹配而跳过
		slog.Warn("replacing client with same address", "client", c.addr)
		_ = old.Close()
	} else {
		metrics.ClientConnected()
	}

	go c.writeLoop()

	slog.Info("client connected", "client", c.addr, "session", c.id, "clients", h.ClientCount())
	return c, nil
}

// unregister 由客户端关闭时回调，只移除仍属于该客户端的注册项
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	cur, ok := h.clients[c.addr]
	removed := ok && cur == c
	if removed {
		delete(h.clients, c.addr)
		h.count.Add(-1)
	}
	h.mu.Unlock()

	if removed {
		metrics.ClientDisconnected()
		slog.Info("client disconnected", "client", c.addr, "session", c.id, "evicted", c.evictedCount())
	}
}

// DisconnectAll 断开全部客户端：挂起发布，清空注册表并将计数归零，完成后恢复发布
// 没有客户端时只切换一次状态。Start之前注册的客户端同样被断开，状态保持Idle
func (h *Hub) DisconnectAll() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	final := StateRunning
	if State(h.state.Load()) == StateIdle {
		final = StateIdle
	}
	h.mu.Unlock()

	h.drain(final)
}

// drain 在Draining状态下关闭所有快照中的连接，结束后进入final状态
func (h *Hub) drain(final State) {
	h.mu.Lock()
	h.state.Store(int32(StateDraining))
	snapshot := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.clients = make(map[string]*Client)
	h.count.Store(0)
	h.mu.Unlock()

	for _, c := range snapshot {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close client", "client", c.addr, "error", err)
		}
	}
	metrics.ClientsReset(len(snapshot), h.ClientCount())
	slog.Info("all clients disconnected", "count", len(snapshot))

	h.mu.Lock()
	h.state.Store(int32(final))
	h.mu.Unlock()
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// State 当前状态
func (h *Hub) State() State {
	return State(h.state.Load())
}

// Close 停止监听并断开所有客户端，之后Hub保持Idle
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	ln := h.listener
	h.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
		h.acceptWg.Wait()
	}

	h.drain(StateIdle)
	h.cancel()
	return err
}

func (c *Client) evictedCount() uint64 {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	return c.evicted
}
