package main

import (
	"fmt"
	"strings"
)

// Mode 运行模式
type Mode int

const (
	ModeCaster   Mode = iota // 采集并推流
	ModeReceiver             // 连接caster并显示
)

func (m Mode) String() string {
	switch m {
	case ModeCaster:
		return "caster"
	case ModeReceiver:
		return "receiver"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode 解析命令行第一个参数
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "caster":
		return ModeCaster, nil
	case "receiver":
		return ModeReceiver, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}
