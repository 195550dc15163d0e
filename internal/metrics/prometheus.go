// Package metrics 注意力监测服务的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesIngested 输入分类器的样本数（face=true/false）
	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attention_samples_ingested_total",
			Help: "Total number of feature samples fed to classifiers",
		},
		[]string{"face"},
	)

	// SamplesRejected 被丢弃的消息数（按原因）
	SamplesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attention_samples_rejected_total",
			Help: "Total number of feature messages rejected before classification",
		},
		[]string{"reason"},
	)

	// StatusTransitions 已提交的状态变化（按新状态）
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attention_status_transitions_total",
			Help: "Total number of committed attention status changes",
		},
		[]string{"status"},
	)

	// SinkErrors 事件下发失败次数
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attention_sink_errors_total",
			Help: "Total number of status event delivery failures",
		},
		[]string{"sink"},
	)

	// ActiveSessions 当前活跃会话数
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "attention_active_sessions",
			Help: "Number of participants with a live classifier",
		},
	)

	// ProcessingLatency 单条消息处理耗时
	ProcessingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "attention_processing_latency_seconds",
			Help:    "Feature message processing latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)

	// RequestsTotal 查询接口请求数
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attention_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)
)

// ObserveSample 记录一次分类器输入
func ObserveSample(faceDetected bool) {
	if faceDetected {
		SamplesIngested.WithLabelValues("true").Inc()
		return
	}
	SamplesIngested.WithLabelValues("false").Inc()
}
