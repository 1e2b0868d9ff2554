// Package wire 定义caster与receiver之间的长度前缀消息格式
//
//	message := length(4字节, 大端无符号) ++ payload(length字节)
//	length == 0 表示心跳 / 本tick未推流，不是断开信号
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize 长度前缀字节数
	HeaderSize = 4
	// DefaultPort 固定的TCP端口
	DefaultPort = 9041
	// DefaultMaxPayload 读取时允许的最大负载
	DefaultMaxPayload = 64 << 20
)

var (
	ErrMessageTooLarge = errors.New("wire message exceeds max payload")
	ErrMalformed       = errors.New("malformed wire message")
)

var heartbeat = [HeaderSize]byte{}

// Encode 生成一条完整的消息，单次写出即可
func Encode(payload []byte) []byte {
	msg := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(msg, uint32(len(payload)))
	copy(msg[HeaderSize:], payload)
	return msg
}

// Heartbeat 返回零长度消息
func Heartbeat() []byte {
	msg := heartbeat
	return msg[:]
}

// IsHeartbeat 判断是否为零长度消息
func IsHeartbeat(msg []byte) bool {
	return len(msg) == HeaderSize && ReadHeader(msg) == 0
}

// ReadHeader 解析长度前缀
func ReadHeader(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[:HeaderSize])
}

// Validate 检查msg是否恰好是一条完整消息
func Validate(msg []byte) error {
	if len(msg) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(msg))
	}
	if n := ReadHeader(msg); int(n) != len(msg)-HeaderSize {
		return fmt.Errorf("%w: header says %d, body has %d", ErrMalformed, n, len(msg)-HeaderSize)
	}
	return nil
}

// WriteMessage 写出一条消息
func WriteMessage(w io.Writer, payload []byte) error {
	_, err := w.Write(Encode(payload))
	return err
}

// ReadMessage 读取一条消息的负载，心跳返回空切片
// 在读到任何头部字节之前流结束时返回 io.EOF
func ReadMessage(r io.Reader, maxPayload uint32) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	n := ReadHeader(hdr[:])
	if n == 0 {
		return []byte{}, nil
	}
	if maxPayload > 0 && n > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, maxPayload)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
