package redis

import (
	"sync/atomic"
	"time"

	"ustream/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	factory = promauto.With(metrics.GetRegistry())

	// publishErrorsCounter 记录发布错误次数
	publishErrorsCounter = factory.NewCounter(prometheus.CounterOpts{
		Name: "ustream_bus_redis_publish_errors_total",
		Help: "Redis消息总线发布错误总数",
	})

	// subscribeErrorsCounter 记录订阅错误次数
	subscribeErrorsCounter = factory.NewCounter(prometheus.CounterOpts{
		Name: "ustream_bus_redis_subscribe_errors_total",
		Help: "Redis消息总线订阅错误总数",
	})

	// reconnectsCounter 记录重连次数
	reconnectsCounter = factory.NewCounter(prometheus.CounterOpts{
		Name: "ustream_bus_redis_reconnects_total",
		Help: "Redis消息总线重连次数",
	})

	// subscribeLatency 发布到收到的延迟
	subscribeLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "ustream_bus_redis_latency_seconds",
		Help:    "Redis消息总线转发延迟(秒)",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

// IncPublishErrors 增加发布错误计数
func (r *RedisBus) IncPublishErrors() {
	publishErrorsCounter.Inc()
}

// IncSubscribeErrors 增加订阅错误计数
func (r *RedisBus) IncSubscribeErrors() {
	subscribeErrorsCounter.Inc()
}

// IncReconnects 增加重连计数
func (r *RedisBus) IncReconnects() {
	reconnectsCounter.Inc()
	atomic.AddUint64(&r.reconnects, 1)
}

// ObserveSubscribeLatency 观察转发延迟
func (r *RedisBus) ObserveSubscribeLatency(d time.Duration) {
	subscribeLatency.Observe(d.Seconds())
}
