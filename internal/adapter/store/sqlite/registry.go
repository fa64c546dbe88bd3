// Package sqlite file: internal/adapter/store/sqlite/registry.go
//
// cache_sessions 注册表的 CRUD。时间戳一律以 UTC RFC3339Nano 文本落盘。
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"SQLHarbor/internal/core/domain"
	"SQLHarbor/internal/core/port"
)

const timeLayout = time.RFC3339Nano

// UpsertSession 写入 (或覆盖) 一条会话记录，is_complete 由状态派生。
func (s *Store) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.SessionID == "" {
		return port.NewStoreError(port.StoreIO, "upsert_session", errors.New("会话记录不能为空"))
	}

	var execTime sql.NullFloat64
	if rec.ExecutionTime != nil {
		execTime = sql.NullFloat64{Float64: *rec.ExecutionTime, Valid: true}
	}
	var errMsg sql.NullString
	if rec.ErrorMessage != "" {
		errMsg = sql.NullString{String: rec.ErrorMessage, Valid: true}
	}

	query := fmt.Sprintf(`
       INSERT INTO %s(session_id, user_id, created_at, updated_at, last_activity,
                      status, total_rows, processed_rows, is_complete, execution_time, error_message)
       VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
       ON CONFLICT(session_id) DO UPDATE SET
          updated_at     = excluded.updated_at,
          last_activity  = excluded.last_activity,
          status         = excluded.status,
          total_rows     = excluded.total_rows,
          processed_rows = excluded.processed_rows,
          is_complete    = excluded.is_complete,
          execution_time = excluded.execution_time,
          error_message  = excluded.error_message
    `, registryTable)

	isComplete := 0
	if rec.IsComplete() {
		isComplete = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.SessionID, rec.UserID,
		rec.CreatedAt.UTC().Format(timeLayout),
		rec.UpdatedAt.UTC().Format(timeLayout),
		rec.LastActivity.UTC().Format(timeLayout),
		string(rec.Status), rec.TotalRows, rec.ProcessedRows,
		isComplete, execTime, errMsg,
	)
	if err != nil {
		return wrapErr("upsert_session", err)
	}
	return nil
}

// GetSession 按ID读取会话记录，不存在时返回 NotFound 类 StoreError。
func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT session_id, user_id, created_at, updated_at, last_activity,
                status, total_rows, processed_rows, execution_time, error_message
         FROM %s WHERE session_id = ?`, registryTable), sessionID)

	rec, err := scanSessionRecord(row)
	if err != nil {
		return nil, wrapErr("get_session", err)
	}
	return rec, nil
}

// ListSessionsForUser 返回指定用户的全部会话记录，新会话在前。
func (s *Store) ListSessionsForUser(ctx context.Context, userID int64) ([]*domain.SessionRecord, error) {
	return s.listSessions(ctx, "list_sessions_for_user",
		fmt.Sprintf(`SELECT session_id, user_id, created_at, updated_at, last_activity,
                            status, total_rows, processed_rows, execution_time, error_message
                     FROM %s WHERE user_id = ? ORDER BY created_at DESC`, registryTable), userID)
}

// ListIncompleteSessions 返回所有 is_complete = false 的记录 (启动恢复用)。
func (s *Store) ListIncompleteSessions(ctx context.Context) ([]*domain.SessionRecord, error) {
	return s.listSessions(ctx, "list_incomplete_sessions",
		fmt.Sprintf(`SELECT session_id, user_id, created_at, updated_at, last_activity,
                            status, total_rows, processed_rows, execution_time, error_message
                     FROM %s WHERE is_complete = 0`, registryTable))
}

// ListAllSessions 返回注册表的全部记录 (清扫器用)。
func (s *Store) ListAllSessions(ctx context.Context) ([]*domain.SessionRecord, error) {
	return s.listSessions(ctx, "list_all_sessions",
		fmt.Sprintf(`SELECT session_id, user_id, created_at, updated_at, last_activity,
                            status, total_rows, processed_rows, execution_time, error_message
                     FROM %s`, registryTable))
}

// DeleteSession 删除会话记录，记录不存在时返回 NotFound。
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", registryTable), sessionID)
	if err != nil {
		return wrapErr("delete_session", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return port.NewStoreError(port.StoreNotFound, "delete_session", sql.ErrNoRows)
	}
	return nil
}

// listSessions 是各 List* 的公共实现。
func (s *Store) listSessions(ctx context.Context, op, query string, args ...any) ([]*domain.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			slog.Warn("[CacheStore] 关闭会话结果集失败", "op", op, "error", errClose)
		}
	}()

	var records []*domain.SessionRecord
	for rows.Next() {
		rec, errScan := scanSessionRecord(rows)
		if errScan != nil {
			slog.Warn("[CacheStore] 扫描会话记录失败，已跳过此行", "op", op, "error", errScan)
			continue
		}
		records = append(records, rec)
	}
	if errRows := rows.Err(); errRows != nil {
		return nil, wrapErr(op, errRows)
	}
	return records, nil
}

// rowScanner 同时兼容 *sql.Row 和 *sql.Rows。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSessionRecord 从一行扫描出 SessionRecord。
func scanSessionRecord(row rowScanner) (*domain.SessionRecord, error) {
	var (
		rec          domain.SessionRecord
		status       string
		createdAt    string
		updatedAt    string
		lastActivity string
		execTime     sql.NullFloat64
		errMsg       sql.NullString
	)
	if err := row.Scan(&rec.SessionID, &rec.UserID, &createdAt, &updatedAt, &lastActivity,
		&status, &rec.TotalRows, &rec.ProcessedRows, &execTime, &errMsg); err != nil {
		return nil, err
	}

	rec.Status = domain.SessionStatus(status)
	var err error
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("解析 created_at 失败: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("解析 updated_at 失败: %w", err)
	}
	if rec.LastActivity, err = time.Parse(timeLayout, lastActivity); err != nil {
		return nil, fmt.Errorf("解析 last_activity 失败: %w", err)
	}
	if execTime.Valid {
		v := execTime.Float64
		rec.ExecutionTime = &v
	}
	if errMsg.Valid {
		rec.ErrorMessage = errMsg.String
	}
	return &rec, nil
}
