package websocket

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 常量定义
const (
	BinaryMessage = websocket.BinaryMessage

	CloseNormalClosure = websocket.CloseNormalClosure
	CloseGoingAway     = websocket.CloseGoingAway
)

// Conn 把一个WebSocket连接当作字节流写出端：每次Write发送一条二进制消息，内容恰好是一条线上消息
// Write只能由一个协程调用，Close可以并发调用
type Conn struct {
	ws  WSConn
	cfg Config

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConn 包装已升级的连接
func NewConn(ws WSConn, cfg Config) *Conn {
	return &Conn{
		ws:   ws,
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// Done 连接关闭后返回
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close 发送关闭帧后关闭底层连接，可重复调用
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(CloseGoingAway, "stream ended")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Serve 启动读协程和心跳协程。观看端发来的数据帧被丢弃，读失败或pong超时即关闭连接，
// onClose在连接关闭后调用一次
func (c *Conn) Serve(onClose func()) {
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	go c.readPump(onClose)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop()
	}
}

func (c *Conn) readPump(onClose func()) {
	defer func() {
		_ = c.Close()
		if onClose != nil {
			onClose()
		}
	}()

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, CloseNormalClosure, CloseGoingAway) {
				slog.Info("viewer read error", "client", c.RemoteAddr().String(), "error", err)
			}
			return
		}
	}
}

// pingLoop 定期发送ping，WriteControl可以与Write并发调用
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				slog.Debug("viewer ping failed", "client", c.RemoteAddr().String(), "error", err)
				_ = c.Close()
				return
			}
		}
	}
}
