// Package observe 暴露 Prometheus 指标
package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标定义
var (
	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlharbor_sessions_created_total",
		Help: "已创建的缓存会话总数",
	})
	SessionsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlharbor_sessions_completed_total",
		Help: "成功完成物化的会话总数",
	})
	SessionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlharbor_sessions_failed_total",
		Help: "以 ERROR 终止的会话总数",
	})
	RowsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlharbor_rows_ingested_total",
		Help: "已写入本地缓存的结果行总数",
	})
	SweepsPerformed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sqlharbor_sweeps_total",
		Help: "清扫器完整清扫次数",
	})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sqlharbor_active_sessions",
		Help: "当前处于 PENDING/ACTIVE 的会话数",
	})
)

// Register 必须在 main 调用一次
func Register() {
	prometheus.MustRegister(
		SessionsCreated, SessionsCompleted, SessionsFailed,
		RowsIngested, SweepsPerformed, ActiveSessions,
	)
}

// Handler 返回 HTTP 处理器
func Handler() http.Handler { return promhttp.Handler() }
