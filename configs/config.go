package configs

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"ustream/internal/bus"
	"ustream/internal/bus/nats"
	"ustream/internal/bus/redis"
	"ustream/internal/capture"
	"ustream/internal/caster"
	"ustream/internal/codec"
	"ustream/internal/hub"
	"ustream/internal/link"
	"ustream/internal/websocket"
	"ustream/internal/wire"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"log/slog"
)

// 集群角色
const (
	RoleOrigin = "origin" // 本地采集并把消息发布到总线
	RoleRelay  = "relay"  // 不采集，转发总线上的消息
)

type Server struct {
	Port      int              `mapstructure:"port"`
	HTTPAddr  string           `mapstructure:"http_addr"`
	Hub       hub.Config       `mapstructure:"hub"`
	WebSocket websocket.Config `mapstructure:"websocket"`
}

type Cluster struct {
	Enabled bool         `mapstructure:"enabled"`
	BusType string       `mapstructure:"bus_type"` // 消息总线类型: "nats", "redis", "noop"
	Role    string       `mapstructure:"role"`
	Topic   string       `mapstructure:"topic"`
	NATS    nats.Config  `mapstructure:"nats"`
	Redis   redis.Config `mapstructure:"redis"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server   `mapstructure:"server"`
	Capture  capture.Config      `mapstructure:"capture"`
	Codec    codec.Config        `mapstructure:"codec"`
	Caster   caster.Config       `mapstructure:"caster"`
	Controls caster.ControlState `mapstructure:"controls"`
	Client   link.Config         `mapstructure:"client"`
	Cluster  `mapstructure:"cluster"`
	Log      `mapstructure:"log"`
	Version  string `mapstructure:"version"`
}

// 允许通过环境变量覆盖的键，即使配置文件中没有出现
var envKeys = []string{
	"server.port",
	"server.http_addr",
	"capture.source",
	"capture.display",
	"codec.type",
	"codec.quality",
	"codec.max_width",
	"controls.blank",
	"controls.streaming",
	"cluster.enabled",
	"cluster.bus_type",
	"cluster.role",
	"cluster.topic",
	"log.level",
}

// NewDefaultConfig creates a new Config with default values
func NewDefaultConfig() Config {
	config := Config{}

	// 服务器默认配置
	config.Server.Port = wire.DefaultPort
	config.Server.HTTPAddr = ":9042"
	config.Server.Hub = hub.DefaultConfig()
	config.Server.WebSocket = websocket.DefaultConfig()

	config.Capture = capture.DefaultConfig()
	config.Codec = codec.DefaultConfig()
	config.Caster = caster.DefaultConfig()
	config.Controls = caster.DefaultControlState()
	config.Client = link.DefaultConfig()

	// 集群默认关闭
	config.Cluster.Enabled = false
	config.Cluster.BusType = "noop"
	config.Cluster.Role = RoleOrigin
	config.Cluster.Topic = bus.DefaultTopic
	config.Cluster.NATS = nats.DefaultConfig()
	config.Cluster.Redis = redis.DefaultConfig()

	// 日志默认配置
	config.Log.Level = "info"

	// 版本默认配置
	config.Version = "dev"

	return config
}

// Load 读取配置文件并叠加环境变量，文件不存在时使用默认值
// 返回的viper实例可用于WatchControls
func Load(configFile string) (Config, *viper.Viper, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// 支持环境变量
	v.SetEnvPrefix("USTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	config := NewDefaultConfig()

	if configFile != "" {
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return config, v, fmt.Errorf("read config %s: %w", configFile, err)
			}
			slog.Warn("Config file not found, using default config", "file", configFile)
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		return NewDefaultConfig(), v, fmt.Errorf("unmarshal config: %w", err)
	}
	return config, v, nil
}

// LoadConfig loads configuration from the specified file
func LoadConfig(configFile string) (Config, error) {
	config, _, err := Load(configFile)
	return config, err
}

// WatchControls 监听配置文件变化，只重新解析controls部分并回调
func WatchControls(v *viper.Viper, fn func(caster.ControlState)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("Config file changed", "file", e.Name, "op", e.Op.String())

		st := caster.DefaultControlState()
		if err := v.UnmarshalKey("controls", &st); err != nil {
			slog.Error("Failed to unmarshal updated controls", "error", err)
			return
		}

		fn(st)
		slog.Info("Controls reloaded", "streaming", st.Streaming, "blank", st.Blank,
			"crop_left", st.Crop.Left, "crop_right", st.Crop.Right, "crop_top", st.Crop.Top, "crop_bottom", st.Crop.Bottom)
	})
	v.WatchConfig()
}

// ParseLogLevel parses a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate 检查会导致启动失败的配置
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Cluster.Enabled && c.Cluster.Role != RoleOrigin && c.Cluster.Role != RoleRelay {
		return fmt.Errorf("invalid cluster role %q", c.Cluster.Role)
	}
	if c.Client.ConnectTimeout < 0 || c.Caster.TickInterval < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}
