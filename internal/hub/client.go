package hub

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"ustream/internal/metrics"
)

// Conn 客户端连接的最小接口，net.Conn 直接满足，WebSocket 通过适配器满足
type Conn interface {
	Write(p []byte) (int, error)
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// Client 注册表中的一个订阅者，拥有独立的有界发送队列和写协程
type Client struct {
	id      string // 会话ID，仅用于日志
	addr    string // 注册表键
	conn    Conn
	cfg     Config
	queue   chan []byte
	qmu     sync.Mutex // 保证"淘汰最旧再入队"相对其他发布是原子的
	done    chan struct{}
	closed  sync.Once
	onClose func(*Client)

	evicted uint64
}

func newClient(conn Conn, cfg Config, onClose func(*Client)) *Client {
	return &Client{
		id:      uuid.NewString(),
		addr:    conn.RemoteAddr().String(),
		conn:    conn,
		cfg:     cfg,
		queue:   make(chan []byte, cfg.SendBufferCap),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// ID 返回会话ID
func (c *Client) ID() string { return c.id }

// Addr 返回远端地址
func (c *Client) Addr() string { return c.addr }

// enqueue 非阻塞入队，队列满时淘汰最旧的一条
func (c *Client) enqueue(msg []byte) {
	c.qmu.Lock()
	defer c.qmu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}

	for {
		select {
		case c.queue <- msg:
			return
		default:
		}

		select {
		case <-c.queue:
			c.evicted++
			metrics.MessageEvicted()
		default:
		}
	}
}

// writeLoop 按顺序把队列中的消息完整写出，任何写入失败都会关闭该客户端
func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return

		case msg := <-c.queue:
			select {
			case <-c.done:
				return
			default:
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := writeFull(c.conn, msg); err != nil {
				slog.Info("write failed", "error", err, "client", c.addr, "session", c.id)
				metrics.RecordWriteError()
				_ = c.Close()
				return
			}
			metrics.MessageSent(len(msg))
		}
	}
}

func writeFull(w io.Writer, msg []byte) error {
	for len(msg) > 0 {
		n, err := w.Write(msg)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		msg = msg[n:]
	}
	return nil
}

// Close 关闭连接并通知Hub注销，多次调用只生效一次，返回第一次关闭连接的错误
func (c *Client) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.done)
		err = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}
