// Package websocket 把gorilla/websocket连接适配成hub的客户端连接，用于浏览器等WebSocket观看端
package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Config 定义WebSocket连接的配置选项
type Config struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`   // 两次pong之间允许的最长间隔
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"` // 控制帧写入超时
	PingInterval    time.Duration `mapstructure:"ping_interval" json:"ping_interval"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size" json:"write_buffer_size"`
	ReadLimit       int64         `mapstructure:"read_limit" json:"read_limit"` // 观看端只发控制帧
}

// DefaultConfig 返回默认的WebSocket配置
func DefaultConfig() Config {
	return Config{
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
		PingInterval:    25 * time.Second,
		ReadBufferSize:  4 << 10,  // 4KB
		WriteBufferSize: 64 << 10, // 帧消息较大
		ReadLimit:       4 << 10,
	}
}

// NewUpgrader 按配置创建Upgrader，不校验Origin
func NewUpgrader(cfg Config) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}
