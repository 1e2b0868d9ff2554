// Package bus 提供节点间消息传递机制，用于把一个caster的线上消息转发给其他中继节点
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// 定义错误类型
var (
	ErrTopicEmpty    = errors.New("topic cannot be empty")
	ErrBusClosed     = errors.New("message bus is closed")
	ErrPublishFailed = errors.New("publish message failed")
)

// DefaultTopic 帧转发的默认主题
const DefaultTopic = "ustream.frames"

// MessageBus 在节点间传播消息
type MessageBus interface {
	// Publish 发布消息到指定主题
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe 订阅指定主题，返回接收channel，收到的是Publish时传入的原始数据
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)

	// Unsubscribe 取消订阅主题
	Unsubscribe(topic string) error

	Close() error
}

// Message 总线上传输的信封，携带发布时间用于统计转发延迟
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	Data      []byte    `json:"data"`
}

// NewMessage 创建信封
func NewMessage(source string, data []byte) *Message {
	return &Message{
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMessage 解析信封
func UnmarshalMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Latency 从发布到现在经过的时间
func (m *Message) Latency() time.Duration {
	return time.Since(m.Timestamp)
}
