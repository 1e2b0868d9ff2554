package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"ustream/configs"
	"ustream/internal/bus"
	busnats "ustream/internal/bus/nats"
	"ustream/internal/bus/noop"
	busredis "ustream/internal/bus/redis"
	"ustream/internal/capture"
	"ustream/internal/caster"
	"ustream/internal/codec"
	"ustream/internal/hub"
	"ustream/internal/metrics"
	internalwebsocket "ustream/internal/websocket"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options 服务器配置选项
type Options struct {
	// 推流TCP端口，默认 9041
	Port int

	// HTTP服务器地址（/ws、/metrics、/health），默认 ":9042"
	HTTPAddr string

	// 编码类型: "jpeg", "raw"，默认 "jpeg"
	Codec    string
	Quality  int  // JPEG质量，默认 75
	MaxWidth uint // 编码前缩放的最大宽度，0表示不缩放

	// 采集来源: "screen", "synthetic"，默认 "screen"
	CaptureSource string
	// 自定义帧来源，设置后忽略CaptureSource
	Source capture.Source

	// 是否启用集群模式，默认 false
	EnableCluster bool

	// 消息总线类型: "nats", "redis", "noop"，默认 "noop"
	BusType string
	// 集群角色: "origin", "relay"，默认 "origin"
	Role  string
	Topic string

	// NATS配置，当BusType为"nats"时使用
	NATSConfig *busnats.Config

	// Redis配置，当BusType为"redis"时使用
	RedisConfig *busredis.Config

	// Hub配置
	PublishInterval time.Duration // 发布间隔，默认 60ms
	WriteTimeout    time.Duration // 写超时，默认 5s
	SendBufferCap   int           // 每个客户端的发送队列容量，默认 8

	// 日志级别: "debug", "info", "warn", "error"，默认 "info"
	LogLevel string

	Upgrader *websocket.Upgrader
}

type Server struct {
	config     *configs.Config
	messageBus bus.MessageBus
	hub        *hub.Hub
	codec      codec.Codec
	source     capture.Source
	caster     *caster.Caster
	controls   *caster.Controls
	httpServer *http.Server
	httpLn     net.Listener
	upgrader   *websocket.Upgrader
	customMux  *http.ServeMux // 允许用户添加自定义路由

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 根据选项创建服务器
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		opts = defaultOptions()
	} else {
		fillDefaults(opts)
	}
	config := buildConfig(opts)
	setupLogging(config.Log.Level)

	s, err := newServer(config, opts.Source)
	if err != nil {
		return nil, err
	}
	if opts.Upgrader != nil {
		s.upgrader = opts.Upgrader
	}
	return s, nil
}

// NewServerWithConfig 使用已加载的配置创建服务器，src为nil时按配置创建采集来源
func NewServerWithConfig(config *configs.Config, src capture.Source) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newServer(config, src)
}

func newServer(config *configs.Config, src capture.Source) (*Server, error) {
	s := &Server{
		config:    config,
		source:    src,
		customMux: http.NewServeMux(),
		upgrader:  internalwebsocket.NewUpgrader(config.Server.WebSocket),
	}
	if err := s.initComponents(); err != nil {
		return nil, err
	}
	return s, nil
}

// initComponents 初始化内部组件
func (s *Server) initComponents() error {
	enc, err := codec.New(s.config.Codec)
	if err != nil {
		return err
	}
	s.codec = enc

	s.messageBus = noop.New()
	if s.config.Cluster.Enabled {
		messageBus, err := createMessageBus(s.config.Cluster)
		if err != nil {
			return fmt.Errorf("failed to create message bus: %w", err)
		}
		s.messageBus = messageBus
	}

	hubOpts := []hub.Option{hub.WithScaler(codec.Scaler{MaxWidth: s.config.Codec.MaxWidth})}
	if s.config.Cluster.Enabled && s.config.Cluster.Role == configs.RoleOrigin {
		hubOpts = append(hubOpts, hub.WithBus(s.messageBus, s.config.Cluster.Topic))
	}
	s.hub = hub.New(s.config.Server.Hub, enc, hubOpts...)

	s.controls = caster.NewControls(s.config.Controls)
	if s.isRelay() {
		return nil
	}

	if s.source == nil {
		src, err := capture.New(s.config.Capture)
		if err != nil {
			_ = s.messageBus.Close()
			return fmt.Errorf("failed to create capture source: %w", err)
		}
		s.source = src
	}
	s.caster = caster.New(s.config.Caster, s.source, s.hub, s.controls)
	return nil
}

func (s *Server) isRelay() bool {
	return s.config.Cluster.Enabled && s.config.Cluster.Role == configs.RoleRelay
}

// Handle 添加自定义HTTP路由
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.customMux.Handle(pattern, handler)
}

// HandleFunc 添加自定义HTTP处理函数
func (s *Server) HandleFunc(pattern string, handler http.HandlerFunc) {
	s.customMux.HandleFunc(pattern, handler)
}

// Hub 返回广播中心
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Caster 返回推流管线，中继节点为nil
func (s *Server) Caster() *caster.Caster {
	return s.caster
}

// ApplyControls 替换推流控制项，由配置热加载调用
func (s *Server) ApplyControls(st caster.ControlState) {
	s.controls.Set(st)
}

// DisconnectAll 断开所有观看端，之后的新连接照常接入
func (s *Server) DisconnectAll() int {
	n := s.hub.ClientCount()
	s.hub.DisconnectAll()
	slog.Info("Disconnected all viewers", "count", n)
	return n
}

// TCPAddr 推流监听地址，启动前为nil
func (s *Server) TCPAddr() net.Addr {
	return s.hub.Addr()
}

// HTTPAddr HTTP监听地址，启动前为nil
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// Start 依次启动推流端口、管线（或总线中继）和HTTP服务
func (s *Server) Start() error {
	slog.Info("Starting ustream server", "port", s.config.Server.Port, "http", s.config.Server.HTTPAddr,
		"codec", s.codec.Name(), "relay", s.isRelay())

	// 初始化Prometheus指标
	metrics.Default()

	if err := s.hub.Start(s.config.Server.Port); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		_ = s.hub.Close()
		return fmt.Errorf("http listen on %s: %w", s.config.Server.HTTPAddr, err)
	}
	s.httpLn = ln

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runPipeline(ctx)
	}()

	// 创建主路由
	mainMux := http.NewServeMux()

	// 注册核心路由
	mainMux.HandleFunc("/ws", s.handleWebSocket)
	mainMux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mainMux.HandleFunc("/health", s.handleHealth)
	mainMux.HandleFunc("/disconnect", s.handleDisconnect)

	// 合并自定义路由
	mainMux.Handle("/", s.customMux)

	s.httpServer = &http.Server{
		Handler:           mainMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

func (s *Server) runPipeline(ctx context.Context) {
	if s.isRelay() {
		if err := s.hub.FollowBus(ctx, s.messageBus, s.config.Cluster.Topic); err != nil {
			slog.Error("Bus relay stopped", "error", err)
			metrics.RecordCriticalError("bus_relay")
		}
		return
	}
	if err := s.caster.Run(ctx); err != nil {
		slog.Error("Caster stopped", "error", err)
		metrics.RecordCriticalError("capture")
	}
}

// Shutdown 按启动的相反顺序停止
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down ustream server...")

	var httpErr error
	if s.httpServer != nil {
		httpErr = s.httpServer.Shutdown(ctx)
	}

	if s.cancel != nil {
		s.cancel()
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("Pipeline did not stop before shutdown deadline")
		}
	}

	if err := s.hub.Close(); err != nil {
		slog.Error("Failed to close hub", "error", err)
	}
	if s.messageBus != nil {
		if err := s.messageBus.Close(); err != nil {
			slog.Error("Failed to close message bus", "error", err)
		}
	}

	return httpErr
}

// handleWebSocket 把WebSocket观看端注册为hub客户端
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket", "error", err, "remoteAddr", r.RemoteAddr)
		metrics.RecordError()
		return
	}

	conn := internalwebsocket.NewConn(ws, s.config.Server.WebSocket)
	client, err := s.hub.Register(conn)
	if err != nil {
		slog.Warn("Rejected WebSocket viewer", "error", err, "remoteAddr", r.RemoteAddr)
		return
	}
	conn.Serve(func() { _ = client.Close() })

	slog.Info("WebSocket viewer connected", "session", client.ID(), "remoteAddr", r.RemoteAddr)
}

// handleDisconnect 处理断开全部观看端的请求，只接受POST
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := s.DisconnectAll()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"disconnected": n,
	})
}

// handleHealth 处理健康检查
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	response := map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"state":   s.hub.State().String(),
		"version": s.config.Version,
		"time":    time.Now().Format(time.RFC3339),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}

func defaultOptions() *Options {
	opts := &Options{}
	fillDefaults(opts)
	return opts
}

func fillDefaults(opts *Options) {
	if opts.Port == 0 {
		opts.Port = 9041
	}
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = ":9042"
	}
	if opts.Codec == "" {
		opts.Codec = codec.TypeImage
	}
	if opts.Quality == 0 {
		opts.Quality = codec.DefaultQuality
	}
	if opts.CaptureSource == "" {
		opts.CaptureSource = capture.SourceScreen
	}
	if opts.BusType == "" {
		opts.BusType = "noop"
	}
	if opts.Role == "" {
		opts.Role = configs.RoleOrigin
	}
	if opts.Topic == "" {
		opts.Topic = bus.DefaultTopic
	}
	if opts.PublishInterval == 0 {
		opts.PublishInterval = 60 * time.Millisecond
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.SendBufferCap == 0 {
		opts.SendBufferCap = 8
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "info"
	}
}

func buildConfig(opts *Options) *configs.Config {
	config := configs.NewDefaultConfig()

	config.Server.Port = opts.Port
	config.Server.HTTPAddr = opts.HTTPAddr
	config.Server.Hub.PublishInterval = opts.PublishInterval
	config.Server.Hub.WriteTimeout = opts.WriteTimeout
	config.Server.Hub.SendBufferCap = opts.SendBufferCap

	config.Codec.Type = opts.Codec
	config.Codec.Quality = opts.Quality
	config.Codec.MaxWidth = opts.MaxWidth
	config.Capture.Source = opts.CaptureSource

	config.Cluster.Enabled = opts.EnableCluster
	config.Cluster.BusType = opts.BusType
	config.Cluster.Role = opts.Role
	config.Cluster.Topic = opts.Topic

	if opts.NATSConfig != nil {
		config.Cluster.NATS = *opts.NATSConfig
	}
	if opts.RedisConfig != nil {
		config.Cluster.Redis = *opts.RedisConfig
	}

	config.Log.Level = opts.LogLevel
	config.Version = "1.0.0"

	return &config
}

func setupLogging(level string) {
	logLevel := configs.ParseLogLevel(level)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// SetupLogging 按配置的日志级别安装JSON日志
func SetupLogging(level string) {
	setupLogging(level)
}

func createMessageBus(cluster configs.Cluster) (bus.MessageBus, error) {
	switch cluster.BusType {
	case "nats":
		return busnats.New(cluster.NATS)
	case "redis":
		return busredis.New(cluster.Redis)
	case "noop":
		return noop.New(), nil
	default:
		return nil, fmt.Errorf("unsupported bus type: %s", cluster.BusType)
	}
}
