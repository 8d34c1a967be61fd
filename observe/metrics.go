// Package observe 电台运行指标，基于OpenTelemetry Metrics API，
// 通过Prometheus导出器在/metrics暴露。
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/lisuiheng/pttradio"

// Metrics 电台的全部指标，可并发使用
type Metrics struct {
	// Frames 每帧处理结果。属性: direction(tx/rx/loopback), result(ok/concealed/dropped)
	Frames metric.Int64Counter
	// Concealments 丢包补偿次数
	Concealments metric.Int64Counter
	// Recoveries 硬件传输错误恢复次数。属性: direction
	Recoveries metric.Int64Counter
	// CodecErrors 编解码失败次数。属性: op(encode/decode)
	CodecErrors metric.Int64Counter
	// Switches 方向切换次数。属性: to
	Switches metric.Int64Counter
	// Displaced 被新帧替换的未消费帧。属性: handoff(inbound/outbound)
	Displaced metric.Int64Counter
	// TransportErrors 传输错误。属性: transport, op
	TransportErrors metric.Int64Counter

	// TickDuration 音频线程单个节拍的耗时
	TickDuration metric.Float64Histogram
	// State 当前电台状态(-2..2)
	State metric.Int64Gauge
}

var tickBuckets = []float64{
	0.001, 0.005, 0.01, 0.02, 0.04, 0.06, 0.08, 0.1, 0.25,
}

// NewMetrics 用给定的MeterProvider创建所有指标
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("pttradio.frames",
		metric.WithDescription("Audio frames by direction and result."),
	); err != nil {
		return nil, err
	}
	if met.Concealments, err = m.Int64Counter("pttradio.concealments",
		metric.WithDescription("Frames synthesized by packet loss concealment."),
	); err != nil {
		return nil, err
	}
	if met.Recoveries, err = m.Int64Counter("pttradio.audio.recoveries",
		metric.WithDescription("Recovered audio transfer errors (overrun/underrun)."),
	); err != nil {
		return nil, err
	}
	if met.CodecErrors, err = m.Int64Counter("pttradio.codec.errors",
		metric.WithDescription("Failed encode or decode calls."),
	); err != nil {
		return nil, err
	}
	if met.Switches, err = m.Int64Counter("pttradio.state.switches",
		metric.WithDescription("Resolved direction switches by target state."),
	); err != nil {
		return nil, err
	}
	if met.Displaced, err = m.Int64Counter("pttradio.handoff.displaced",
		metric.WithDescription("Unconsumed frames replaced by a newer frame."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("pttradio.transport.errors",
		metric.WithDescription("Transport errors by transport and operation."),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("pttradio.audio.tick.duration",
		metric.WithDescription("Time spent in one audio loop tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.State, err = m.Int64Gauge("pttradio.state",
		metric.WithDescription("Current radio state (-2 rx_switch .. 2 tx_switch)."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics 返回基于全局MeterProvider的实例
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
