// Package result_cache file: internal/service/result_cache/sweeper.go
//
// 后台清扫器。两类回收在同一轮巡检里完成：
//   - 失活超时: last_activity 距今超过 active_timeout 的非终止态会话置为 TIMEOUT；
//   - 硬过期:   created_at 距今超过 hard_ttl 的会话连表带记录物理删除。
//
// 持有活跃摄取连接的会话永远不会被物理删除，只计入 Deferred。
// 存储文件被锁时本轮放弃，等下个周期重试。
package result_cache

import (
	"context"
	"log/slog"
	"time"

	"SQLHarbor/internal/core/port"
	"SQLHarbor/internal/observe"
)

// startSweeper 启动周期性清扫 goroutine，随引擎基础上下文退出。
func (e *Engine) startSweeper() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.opts.SweepInterval)
		defer ticker.Stop()
		slog.Info("[Sweeper] 后台清扫器已启动", "interval", e.opts.SweepInterval.String())

		for {
			select {
			case <-e.baseCtx.Done():
				slog.Info("[Sweeper] 收到退出信号，清扫器停止")
				return
			case <-ticker.C:
				if _, err := e.sweepOnce(e.baseCtx); err != nil {
					if port.IsStoreLocked(err) {
						slog.Warn("[Sweeper] 存储被锁，本轮放弃，下个周期重试")
						continue
					}
					slog.Error("[Sweeper] 清扫失败", "error", err)
				}
			}
		}
	}()
}

// sweepOnce 执行一轮完整清扫。锁冲突会中断剩余工作并上抛，
// 其余单会话错误记日志后继续。
func (e *Engine) sweepOnce(ctx context.Context) (*port.SweepReport, error) {
	report := &port.SweepReport{}
	now := e.reg.clock()

	records, err := e.store.ListAllSessions(ctx)
	if err != nil {
		return report, err
	}

	for _, rec := range records {
		// 失活超时
		if !rec.Status.IsTerminal() && now.Sub(rec.LastActivity) > e.opts.ActiveTimeout {
			errTo := e.timeoutSession(ctx, rec.SessionID, "会话失活超时")
			switch {
			case errTo == nil:
				report.TimedOut++
				slog.Info("[Sweeper] 失活会话已置为 TIMEOUT", "session_id", rec.SessionID)
			case port.IsStoreLocked(errTo):
				return report, errTo
			default:
				slog.Warn("[Sweeper] 标记超时失败", "session_id", rec.SessionID, "error", errTo)
			}
		}

		// 硬过期
		if now.Sub(rec.CreatedAt) <= e.opts.HardTTL {
			continue
		}
		if e.reg.isIngesting(rec.SessionID) {
			// 摄取连接仍然存活，本轮跳过
			report.Deferred++
			continue
		}
		if errDel := e.purgeSession(ctx, rec.SessionID); errDel != nil {
			if port.IsStoreLocked(errDel) {
				return report, errDel
			}
			slog.Warn("[Sweeper] 硬删除失败", "session_id", rec.SessionID, "error", errDel)
			continue
		}
		report.HardDeleted++
		slog.Info("[Sweeper] 硬过期会话已物理删除", "session_id", rec.SessionID)
	}

	observe.SweepsPerformed.Inc()
	observe.ActiveSessions.Set(float64(e.reg.activeCount()))
	return report, nil
}

// purgeSession 物理删除会话：先删数据表，再删注册表记录，
// 最后清内存层与列缓存。注册表记录缺失视为已删。
func (e *Engine) purgeSession(ctx context.Context, sessionID string) error {
	if err := e.store.DropSessionTable(ctx, sessionID); err != nil {
		return err
	}
	if err := e.store.DeleteSession(ctx, sessionID); err != nil {
		if se := port.AsStoreError(err); se == nil || se.Kind != port.StoreNotFound {
			return err
		}
	}
	e.reg.remove(sessionID)
	e.columnCache.Remove(sessionID)
	return nil
}

// ManualSweep 实现 port.ResultCacheEngine.ManualSweep。
func (e *Engine) ManualSweep(ctx context.Context) (*port.SweepReport, error) {
	return e.sweepOnce(ctx)
}
