// Package observe 聚合可观测性开关: 结构化日志、Prometheus 指标与 pprof。
// internal/observe/logging.go
package observe

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger 把全局 slog 切到 JSON 输出。启动早期的引导日志仍走
// 标准 log，本函数之后的组件日志统一结构化。DEBUG 级别额外附带
// 调用点，线上级别不付这笔开销。
func InitLogger(levelStr string) {
	level := parseLevel(levelStr)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
