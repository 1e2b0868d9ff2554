// Package link 实现接收端：连接到caster，按长度前缀读取消息并把解码后的帧交给消费者
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"ustream/internal/codec"
	"ustream/internal/frame"
	"ustream/internal/metrics"
	"ustream/internal/wire"
)

var (
	ErrInvalidAddress = errors.New("invalid target address")
	ErrConnectTimeout = errors.New("connect timed out")
	ErrConnectRefused = errors.New("connect refused")
	ErrPeerClosed     = errors.New("disconnected by peer")
	ErrReadFailed     = errors.New("read failed")
	ErrClosed         = errors.New("link closed locally")

	// 等待消息头超时，读循环据此检查停止信号
	errPoll = errors.New("poll timeout")
)

// Config 接收端配置
type Config struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	// 等待下一条消息头时的轮询间隔，决定Disconnect的响应延迟
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	// 读取单条消息负载的超时
	ReadTimeout time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	MaxPayload  uint32        `mapstructure:"max_payload" json:"max_payload"`
	EventBuffer int           `mapstructure:"event_buffer" json:"event_buffer"`
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		PollInterval:   100 * time.Millisecond,
		ReadTimeout:    30 * time.Second,
		MaxPayload:     wire.DefaultMaxPayload,
		EventBuffer:    4,
	}
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.MaxPayload == 0 {
		c.MaxPayload = def.MaxPayload
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
}

// EventKind 事件类型
type EventKind int

const (
	EventFrame        EventKind = iota // 新帧
	EventHeartbeat                     // 本tick无更新
	EventDisconnected                  // 连接结束，Err为原因
)

func (k EventKind) String() string {
	switch k {
	case EventFrame:
		return "frame"
	case EventHeartbeat:
		return "heartbeat"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event 读循环交给消费者的事件
type Event struct {
	Kind  EventKind
	Frame *frame.Frame
	Err   error
}

// Link 到一个caster的连接
type Link struct {
	cfg  Config
	dec  codec.Codec
	addr string

	conn   net.Conn
	r      *bufio.Reader
	events chan Event

	done     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
}

// ResolveTarget 解析目标地址：裸IP使用固定端口，否则必须是host:port
func ResolveTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	ipText := strings.TrimSuffix(strings.TrimPrefix(target, "["), "]")
	if ip := net.ParseIP(ipText); ip != nil {
		return net.JoinHostPort(ip.String(), strconv.Itoa(wire.DefaultPort)), nil
	}

	host, port, err := net.SplitHostPort(target)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, target, err)
	}
	if host == "" || strings.ContainsAny(host, " /") {
		return "", fmt.Errorf("%w: %q: bad host", ErrInvalidAddress, target)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return "", fmt.Errorf("%w: %q: bad port", ErrInvalidAddress, target)
	}
	return net.JoinHostPort(host, port), nil
}

// Connect 在ConnectTimeout内建立连接并启动读循环
func Connect(ctx context.Context, target string, dec codec.Codec, cfg Config) (*Link, error) {
	cfg.fillDefaults()

	addr, err := ResolveTarget(target)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(ctx, addr, err)
	}

	l := &Link{
		cfg:    cfg,
		dec:    dec,
		addr:   addr,
		conn:   conn,
		r:      bufio.NewReaderSize(conn, 64<<10),
		events: make(chan Event, cfg.EventBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go l.readLoop()

	slog.Info("connected to caster", "addr", addr, "codec", dec.Name())
	return l, nil
}

func classifyDialError(ctx context.Context, addr string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("connect %s: %w", addr, ctx.Err())
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s: %w", ErrConnectTimeout, addr, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrConnectRefused, addr, err)
}

// Addr 已解析的目标地址
func (l *Link) Addr() string { return l.addr }

// Events 事件流，读循环退出时关闭
func (l *Link) Events() <-chan Event { return l.events }

// Done 读循环退出后关闭
func (l *Link) Done() <-chan struct{} { return l.exited }

// Disconnect 请求读循环在下一次迭代前停止，可重复调用
func (l *Link) Disconnect() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

func (l *Link) stopping() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// emit 投递事件，Disconnect之后不再阻塞
func (l *Link) emit(ev Event) bool {
	select {
	case l.events <- ev:
		return true
	case <-l.done:
		return false
	}
}

func (l *Link) readLoop() {
	defer close(l.exited)
	defer close(l.events)
	defer l.conn.Close()

	for {
		if l.stopping() {
			slog.Info("link disconnected locally", "addr", l.addr)
			return
		}

		ev, err := l.next()
		if errors.Is(err, errPoll) {
			continue
		}
		if err != nil {
			l.finish(err)
			return
		}
		if !l.emit(ev) {
			return
		}
	}
}

// next 读取下一条消息。等待消息头时使用短超时轮询，超时不会丢弃已缓冲的字节
func (l *Link) next() (Event, error) {
	_ = l.conn.SetReadDeadline(time.Now().Add(l.cfg.PollInterval))
	hdr, err := l.r.Peek(wire.HeaderSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if l.r.Buffered() == 0 {
				return Event{}, ErrPeerClosed
			}
			return Event{}, fmt.Errorf("%w: %w", ErrReadFailed, io.ErrUnexpectedEOF)
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return Event{}, errPoll
		}
		return Event{}, err
	}

	n := wire.ReadHeader(hdr)
	_, _ = l.r.Discard(wire.HeaderSize)

	if n == 0 {
		return Event{Kind: EventHeartbeat}, nil
	}
	if n > l.cfg.MaxPayload {
		return Event{}, fmt.Errorf("%w: %d > %d", wire.ErrMessageTooLarge, n, l.cfg.MaxPayload)
	}

	_ = l.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
	payload := make([]byte, n)
	if _, err := io.ReadFull(l.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Event{}, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}

	f, err := l.dec.Decode(payload)
	if err != nil {
		return Event{}, err
	}
	metrics.FrameReceived()
	return Event{Kind: EventFrame, Frame: f}, nil
}

// finish 把终止原因作为最后一个事件交给消费者
func (l *Link) finish(err error) {
	switch {
	case errors.Is(err, ErrPeerClosed):
		slog.Info("caster closed the connection", "addr", l.addr)
	case errors.Is(err, wire.ErrMessageTooLarge):
		slog.Warn("oversized message, closing link", "addr", l.addr, "error", err)
	default:
		var decErr *codec.DecodeError
		if !errors.As(err, &decErr) && !errors.Is(err, ErrReadFailed) {
			err = fmt.Errorf("%w: %w", ErrReadFailed, err)
		}
		slog.Warn("link read loop terminated", "addr", l.addr, "error", err)
		metrics.RecordError()
	}
	l.emit(Event{Kind: EventDisconnected, Err: err})
}
