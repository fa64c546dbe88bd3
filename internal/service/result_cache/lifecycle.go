// Package result_cache file: internal/service/result_cache/lifecycle.go
//
// 生命周期迁移的具名入口。每个入口对应状态机的一条边，
// 校验、时间戳刷新与落盘都收敛在 registry.transition 的临界区里。
package result_cache

import (
	"context"
	"log/slog"
	"time"

	"SQLHarbor/internal/core/domain"
	"SQLHarbor/internal/observe"
)

// activate 把 PENDING 会话推入 ACTIVE，摄取任务启动前调用。
func (e *Engine) activate(ctx context.Context, sessionID string) error {
	_, err := e.reg.transition(ctx, sessionID, domain.StatusActive, nil)
	return err
}

// complete 以 COMPLETED 终止会话，写入最终进度与累计执行秒数。
func (e *Engine) complete(ctx context.Context, sessionID string, processedRows int64, startedAt time.Time) error {
	_, err := e.reg.transition(ctx, sessionID, domain.StatusCompleted, func(rec *domain.SessionRecord) {
		rec.ProcessedRows = processedRows
		secs := e.reg.clock().Sub(startedAt).Seconds()
		rec.ExecutionTime = &secs
	})
	if err == nil {
		observe.SessionsCompleted.Inc()
		observe.ActiveSessions.Set(float64(e.reg.activeCount()))
	}
	return err
}

// fail 以 ERROR 终止会话并记录失败原因。已落盘的部分数据保留，
// 便于排查后人工清理或等待清扫器回收。
func (e *Engine) fail(ctx context.Context, sessionID string, processedRows int64, startedAt time.Time, reason string) error {
	_, err := e.reg.transition(ctx, sessionID, domain.StatusError, func(rec *domain.SessionRecord) {
		rec.ProcessedRows = processedRows
		rec.ErrorMessage = reason
		if !startedAt.IsZero() {
			secs := e.reg.clock().Sub(startedAt).Seconds()
			rec.ExecutionTime = &secs
		}
	})
	if err == nil {
		observe.SessionsFailed.Inc()
		observe.ActiveSessions.Set(float64(e.reg.activeCount()))
	}
	return err
}

// requestCancel 把会话置为 CANCELLED。摄取任务在下一个块边界
// 观察到终止态后停止，因此取消生效存在至多一个块的延迟。
func (e *Engine) requestCancel(ctx context.Context, sessionID string) error {
	_, err := e.reg.transition(ctx, sessionID, domain.StatusCancelled, nil)
	if err == nil {
		observe.ActiveSessions.Set(float64(e.reg.activeCount()))
	}
	return err
}

// timeoutSession 由清扫器调用，把失活会话置为 TIMEOUT。
// error_message 只属于 ERROR 会话，超时原因进日志而不进记录。
func (e *Engine) timeoutSession(ctx context.Context, sessionID string, reason string) error {
	_, err := e.reg.transition(ctx, sessionID, domain.StatusTimeout, nil)
	if err == nil {
		slog.Info("[Lifecycle] 会话已置为 TIMEOUT", "session_id", sessionID, "reason", reason)
		observe.ActiveSessions.Set(float64(e.reg.activeCount()))
	}
	return err
}
