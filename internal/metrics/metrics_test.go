package metrics

import (
	"testing"
)

// value 从默认注册表读取无标签指标的当前值
func value(t *testing.T, name string) float64 {
	t.Helper()

	families, err := GetRegistry().Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		m := mf.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

func TestClientGauge(t *testing.T) {
	before := value(t, "ustream_connections_total")

	ClientConnected()
	ClientConnected()
	ClientConnected()
	ClientDisconnected()
	if got := value(t, "ustream_connected_clients"); got != 2 {
		t.Errorf("connected_clients = %v, want 2", got)
	}
	if got := value(t, "ustream_connections_total") - before; got != 3 {
		t.Errorf("connections_total delta = %v, want 3", got)
	}

	// 批量断开后直接校正为剩余数量
	ClientsReset(2, 0)
	if got := value(t, "ustream_connected_clients"); got != 0 {
		t.Errorf("connected_clients after reset = %v, want 0", got)
	}
}

func TestMessagePublished(t *testing.T) {
	frames := value(t, "ustream_messages_published_total")
	beats := value(t, "ustream_heartbeats_total")
	sizes := value(t, "ustream_message_size_bytes")

	MessagePublished(4096, false)
	MessagePublished(0, true)
	MessagePublished(0, true)

	if got := value(t, "ustream_messages_published_total") - frames; got != 1 {
		t.Errorf("messages_published delta = %v, want 1", got)
	}
	if got := value(t, "ustream_heartbeats_total") - beats; got != 2 {
		t.Errorf("heartbeats delta = %v, want 2", got)
	}
	// 心跳不计入消息大小分布
	if got := value(t, "ustream_message_size_bytes") - sizes; got != 1 {
		t.Errorf("message_size samples delta = %v, want 1", got)
	}
}

func TestErrorsRollUp(t *testing.T) {
	total := value(t, "ustream_errors_total")

	RecordWriteError()
	RecordEncodeError()
	RecordCaptureError()
	RecordError()
	RecordCriticalError("test")

	if got := value(t, "ustream_errors_total") - total; got != 5 {
		t.Errorf("errors_total delta = %v, want 5", got)
	}
}
