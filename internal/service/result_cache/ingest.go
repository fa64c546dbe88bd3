// Package result_cache file: internal/service/result_cache/ingest.go
//
// 摄取管线：把仓库行流分块写入本地缓存。每个 ACTIVE 会话
// 恰好由一个摄取 goroutine 拥有；块边界是唯一的观察点——
// 取消、超时都在这里生效，进度也在这里推进。
package result_cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"SQLHarbor/internal/core/domain"
	"SQLHarbor/internal/core/port"
	"SQLHarbor/internal/observe"
)

// runIngestion 是摄取任务主体，在专属 goroutine 中运行。
// 任何退出路径都会关闭行流、归还摄取连接并清除 ingesting 标记。
func (e *Engine) runIngestion(sessionID string, stream port.RowStream, startedAt time.Time) {
	defer e.wg.Done()
	defer stream.Close()

	ctx := e.baseCtx
	columns := stream.Columns()
	if len(columns) == 0 {
		e.finishWithError(ctx, sessionID, 0, startedAt, "仓库未返回任何结果列")
		return
	}

	// 数据表在首个块到达前创建：空结果集也要有表，
	// 否则读取端会把 COMPLETED 会话误报为 NotFound。
	if err := e.store.CreateSessionTable(ctx, sessionID, columns); err != nil {
		e.finishWithError(ctx, sessionID, 0, startedAt, fmt.Sprintf("创建会话数据表失败: %v", err))
		return
	}

	conn, err := e.store.OpenIngestConn(ctx, sessionID, columns)
	if err != nil {
		e.finishWithError(ctx, sessionID, 0, startedAt, fmt.Sprintf("借出摄取连接失败: %v", err))
		return
	}
	e.reg.markIngesting(sessionID)
	defer e.reg.unmarkIngesting(sessionID)
	defer conn.Close()

	var (
		processed  int64
		chunkIndex int
	)

	for {
		// 块边界状态检查：取消/超时在这里生效，已落盘的数据保留
		rec, errGet := e.reg.get(ctx, sessionID)
		if errGet != nil {
			slog.Error("[Ingest] 读取会话状态失败，放弃摄取", "session_id", sessionID, "error", errGet)
			_ = conn.Commit(ctx)
			return
		}
		if rec.Status != domain.StatusActive {
			slog.Info("[Ingest] 会话已离开 ACTIVE，摄取停止", "session_id", sessionID, "status", rec.Status, "processed_rows", processed)
			_ = conn.Commit(ctx)
			return
		}

		chunk, errRead := e.readChunk(ctx, stream, columns)
		if errRead != nil && !errors.Is(errRead, io.EOF) {
			_ = conn.Commit(ctx)
			if ctx.Err() != nil {
				// 进程关停：不标记 ERROR，留给下次启动的恢复逻辑处理
				slog.Info("[Ingest] 引擎关停，摄取中断", "session_id", sessionID, "processed_rows", processed)
				return
			}
			e.finishWithError(ctx, sessionID, processed, startedAt, errRead.Error())
			return
		}

		if len(chunk) > 0 {
			if errIns := conn.InsertChunk(ctx, chunk); errIns != nil {
				e.finishWithError(ctx, sessionID, processed, startedAt, fmt.Sprintf("写入数据块失败: %v", errIns))
				return
			}
			processed += int64(len(chunk))
			chunkIndex++
			observe.RowsIngested.Add(float64(len(chunk)))
			e.reg.touch(sessionID, processed)

			// 批次节奏：每 BatchChunks 个块提交一次事务并把进度落盘
			if chunkIndex%e.opts.BatchChunks == 0 {
				if errCommit := conn.Commit(ctx); errCommit != nil {
					e.finishWithError(ctx, sessionID, processed, startedAt, fmt.Sprintf("批次提交失败: %v", errCommit))
					return
				}
				if errFlush := e.reg.flush(ctx, sessionID); errFlush != nil {
					slog.Warn("[Ingest] 进度落盘失败，下一批次重试", "session_id", sessionID, "error", errFlush)
				}
			}
		}

		if errors.Is(errRead, io.EOF) {
			break
		}
	}

	// 尾批提交后才允许宣告完成
	if errCommit := conn.Commit(ctx); errCommit != nil {
		e.finishWithError(ctx, sessionID, processed, startedAt, fmt.Sprintf("尾批提交失败: %v", errCommit))
		return
	}
	if errDone := e.complete(ctx, sessionID, processed, startedAt); errDone != nil {
		// 取消/超时与流末尾赛跑时迁移会被拒绝，终止态以先到者为准
		if errors.Is(errDone, port.ErrIllegalTransition) {
			slog.Info("[Ingest] 会话已先行终止，完成迁移被跳过", "session_id", sessionID)
		} else {
			slog.Error("[Ingest] 标记会话完成失败", "session_id", sessionID, "error", errDone)
		}
		return
	}
	slog.Info("[Ingest] 会话物化完成", "session_id", sessionID, "rows", processed)
}

// readChunk 从行流中读出至多 ChunkRows 行并逐值归一化。
// 流耗尽时返回已读行与 io.EOF。
func (e *Engine) readChunk(ctx context.Context, stream port.RowStream, columns []string) ([][]any, error) {
	chunk := make([][]any, 0, e.opts.ChunkRows)
	for len(chunk) < e.opts.ChunkRows {
		raw, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return chunk, io.EOF
		}
		if err != nil {
			return chunk, fmt.Errorf("读取仓库行流失败: %v", err)
		}
		if len(raw) != len(columns) {
			return chunk, fmt.Errorf("行宽不一致: 期望 %d 列, 实际 %d 列", len(columns), len(raw))
		}

		row := make([]any, len(raw))
		for i, v := range raw {
			normalized, errNorm := domain.NormalizeValue(columns[i], v)
			if errNorm != nil {
				return chunk, fmt.Errorf("%w: 列 '%s': %v", port.ErrUnsupportedType, columns[i], errNorm)
			}
			row[i] = normalized
		}
		chunk = append(chunk, row)
	}
	return chunk, nil
}

// finishWithError 把会话以 ERROR 终止；迁移本身失败时只能记日志。
func (e *Engine) finishWithError(ctx context.Context, sessionID string, processed int64, startedAt time.Time, reason string) {
	slog.Error("[Ingest] 摄取失败", "session_id", sessionID, "processed_rows", processed, "reason", reason)
	if err := e.fail(ctx, sessionID, processed, startedAt, reason); err != nil {
		slog.Error("[Ingest] 标记会话 ERROR 失败", "session_id", sessionID, "error", err)
	}
}
