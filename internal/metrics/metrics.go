// Package metrics 提供监控指标收集功能
package metrics

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once           sync.Once
	registry       *prometheus.Registry
	defaultMetrics *Metrics
)

// Metrics 封装所有监控指标
type Metrics struct {
	// 连接指标
	ConnectedClients  prometheus.Gauge
	ConnectionRate    prometheus.Counter
	DisconnectionRate prometheus.Counter

	// 发布指标
	MessagesPublished prometheus.Counter
	Heartbeats        prometheus.Counter
	RateLimited       prometheus.Counter
	MessageSize       prometheus.Histogram

	// 发送指标
	MessagesEvicted prometheus.Counter
	BytesSent       prometheus.Counter
	WriteErrors     prometheus.Counter

	// 采集与编码
	CaptureDrops  prometheus.Counter
	CaptureErrors prometheus.Counter
	EncodeErrors  prometheus.Counter
	EncodeLatency prometheus.Histogram

	// 接收端
	FramesReceived prometheus.Counter

	// 错误指标
	ErrorsTotal         prometheus.Counter
	CriticalErrorsTotal *prometheus.CounterVec
}

// NewMetrics 创建新的Metrics实例
func NewMetrics(namespace string) *Metrics {
	registry = prometheus.NewRegistry()
	f := promauto.With(registry)

	return &Metrics{
		ConnectedClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "当前连接的客户端总数",
		}),
		ConnectionRate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "新连接总数",
		}),
		DisconnectionRate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnections_total",
			Help:      "断开连接总数",
		}),

		MessagesPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "发布的帧消息总数",
		}),
		Heartbeats: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "发布的心跳消息总数",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_rate_limited_total",
			Help:      "被发布间隔丢弃的调用次数",
		}),
		MessageSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_size_bytes",
			Help:      "消息大小分布",
			Buckets:   []float64{1024, 16384, 65536, 262144, 1048576, 4194304, 16777216},
		}),

		MessagesEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_evicted_total",
			Help:      "慢客户端队列中被淘汰的旧消息数",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "写入客户端连接的字节总数",
		}),
		WriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "客户端写入失败次数",
		}),

		CaptureDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_drops_total",
			Help:      "未被读取即被覆盖的采集帧数",
		}),
		CaptureErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "屏幕采集失败次数",
		}),
		EncodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encode_errors_total",
			Help:      "编码失败次数",
		}),
		EncodeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_seconds",
			Help:      "单帧编码耗时(秒)",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),

		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "接收端解码成功的帧数",
		}),

		ErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "错误总数",
		}),
		CriticalErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "critical_errors_total",
			Help:      "严重错误总数",
		}, []string{"type"}),
	}
}

// GetRegistry 获取Prometheus注册表
func GetRegistry() *prometheus.Registry {
	Default()
	return registry
}

// Default 获取默认指标实例
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = NewMetrics("ustream")
	})
	return defaultMetrics
}

// 便捷方法，用于快速记录指标

// ClientConnected 记录客户端连接
func ClientConnected() {
	m := Default()
	m.ConnectedClients.Inc()
	m.ConnectionRate.Inc()
}

// ClientDisconnected 记录客户端断开连接
func ClientDisconnected() {
	m := Default()
	m.ConnectedClients.Dec()
	m.DisconnectionRate.Inc()
}

// ClientsReset 批量断开后校正连接数
func ClientsReset(disconnected, remaining int) {
	m := Default()
	m.ConnectedClients.Set(float64(remaining))
	m.DisconnectionRate.Add(float64(disconnected))
}

// MessagePublished 记录一次有效发布
func MessagePublished(sizeBytes int, heartbeat bool) {
	m := Default()
	if heartbeat {
		m.Heartbeats.Inc()
		return
	}
	m.MessagesPublished.Inc()
	m.MessageSize.Observe(float64(sizeBytes))
}

// PublishRateLimited 记录被发布间隔丢弃的调用
func PublishRateLimited() {
	Default().RateLimited.Inc()
}

// MessageEvicted 记录慢客户端丢弃的旧消息
func MessageEvicted() {
	Default().MessagesEvicted.Inc()
}

// MessageSent 记录发送消息
func MessageSent(sizeBytes int) {
	Default().BytesSent.Add(float64(sizeBytes))
}

// RecordWriteError 记录写入失败
func RecordWriteError() {
	m := Default()
	m.WriteErrors.Inc()
	m.ErrorsTotal.Inc()
}

// RecordEncodeError 记录编码失败
func RecordEncodeError() {
	m := Default()
	m.EncodeErrors.Inc()
	m.ErrorsTotal.Inc()
}

// ObserveEncode 记录编码耗时(秒)
func ObserveEncode(seconds float64) {
	Default().EncodeLatency.Observe(seconds)
}

// CaptureDropped 记录被覆盖的采集帧
func CaptureDropped() {
	Default().CaptureDrops.Inc()
}

// RecordCaptureError 记录采集失败
func RecordCaptureError() {
	m := Default()
	m.CaptureErrors.Inc()
	m.ErrorsTotal.Inc()
}

// FrameReceived 记录接收端收到的帧
func FrameReceived() {
	Default().FramesReceived.Inc()
}

// RecordError 记录错误
func RecordError() {
	Default().ErrorsTotal.Inc()
}

// RecordCriticalError 记录严重错误
func RecordCriticalError(errorType string) {
	m := Default()
	m.CriticalErrorsTotal.WithLabelValues(errorType).Inc()
	m.ErrorsTotal.Inc()
	slog.Error("critical error occurred", "type", errorType)
}
