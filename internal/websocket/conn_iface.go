package websocket

import (
	"net"
	"time"
)

// WSConn 适配器依赖的gorilla连接方法，便于测试替换
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	WriteControl(int, []byte, time.Time) error
	SetReadLimit(int64)
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	SetPongHandler(func(string) error)
	RemoteAddr() net.Addr
	Close() error
}
