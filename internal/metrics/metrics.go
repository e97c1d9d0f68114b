// Package metrics exposes Prometheus collectors for the agent pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_runs_total",
			Help: "Pipeline runs by route and outcome",
		},
		[]string{"route", "outcome"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsagent_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_tool_calls_total",
			Help: "Tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)
	workerReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_worker_reports_total",
			Help: "Worker reports by specialist and status",
		},
		[]string{"specialist", "status"},
	)
	llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsagent_llm_call_duration_seconds",
			Help:    "Latency of model calls by endpoint",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		},
		[]string{"endpoint", "outcome"},
	)
	keepalivesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsagent_stream_keepalives_total",
			Help: "Idle keep-alive frames written by protocol",
		},
		[]string{"protocol"},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(toolCallsTotal)
	prometheus.MustRegister(workerReportsTotal)
	prometheus.MustRegister(llmCallDuration)
	prometheus.MustRegister(keepalivesTotal)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RunFinished counts a completed run.
func RunFinished(route, outcome string) {
	if route == "" {
		route = "unknown"
	}
	runsTotal.WithLabelValues(route, outcome).Inc()
}

// ObserveStage records how long a stage took.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ToolCall counts one tool invocation.
func ToolCall(tool, outcome string) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// WorkerReport counts one worker report.
func WorkerReport(specialist, status string) {
	workerReportsTotal.WithLabelValues(specialist, status).Inc()
}

// ObserveLLMCall records a model call latency.
func ObserveLLMCall(endpoint, outcome string, d time.Duration) {
	llmCallDuration.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
}

// KeepAlive counts one idle frame.
func KeepAlive(protocol string) {
	keepalivesTotal.WithLabelValues(protocol).Inc()
}
