// Package sqlite file: internal/adapter/store/sqlite/session_table.go
//
// 会话数据表的 DDL 与摄取专用连接。每个会话的结果物化到
// result_<session_id> 表，全部列以 TEXT 存储，类型归一化在入库边界完成。
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"SQLHarbor/internal/core/domain"
	"SQLHarbor/internal/core/port"
)

// CreateSessionTable 为会话创建数据表，幂等。列名按仓库返回原样加引号。
func (s *Store) CreateSessionTable(ctx context.Context, sessionID string, columns []string) error {
	if len(columns) == 0 {
		return port.NewStoreError(port.StoreIO, "create_session_table", errors.New("列清单不能为空"))
	}
	tableName := domain.DataTableName(sessionID)

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteIdent(c) + " TEXT"
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(tableName), joinComma(defs))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return wrapErr("create_session_table", err)
	}
	return nil
}

// DropSessionTable 删除会话数据表，幂等。
func (s *Store) DropSessionTable(ctx context.Context, sessionID string) error {
	tableName := domain.DataTableName(sessionID)
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(tableName))); err != nil {
		return wrapErr("drop_session_table", err)
	}
	return nil
}

// SessionColumns 返回会话数据表的物理列 (按建表顺序)。
// 数据表尚未创建时返回 NotFound 类 StoreError。
func (s *Store) SessionColumns(ctx context.Context, sessionID string) ([]string, error) {
	tableName := domain.DataTableName(sessionID)
	exists, err := s.tableExists(ctx, tableName)
	if err != nil {
		return nil, wrapErr("session_columns", err)
	}
	if !exists {
		return nil, port.NewStoreError(port.StoreNotFound, "session_columns",
			fmt.Errorf("会话 '%s' 的数据表不存在", sessionID))
	}

	colSet, err := listColumnsOn(ctx, s.db, tableName)
	if err != nil {
		return nil, wrapErr("session_columns", err)
	}
	cols := make([]string, 0, len(colSet))
	for c := range colSet {
		cols = append(cols, c)
	}
	sort.Slice(cols, func(i, j int) bool { return colSet[cols[i]] < colSet[cols[j]] })
	return cols, nil
}

// OpenIngestConn 为一次摄取借出独占连接并预编译插入语句。
func (s *Store) OpenIngestConn(ctx context.Context, sessionID string, columns []string) (port.IngestConn, error) {
	if len(columns) == 0 {
		return nil, port.NewStoreError(port.StoreIO, "open_ingest_conn", errors.New("列清单不能为空"))
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, wrapErr("open_ingest_conn", err)
	}

	tableName := domain.DataTableName(sessionID)
	stmt, err := conn.PrepareContext(ctx, buildInsertSQL(tableName, columns))
	if err != nil {
		_ = conn.Close()
		return nil, wrapErr("open_ingest_conn", err)
	}

	return &ingestConn{
		sessionID: sessionID,
		conn:      conn,
		stmt:      stmt,
		ncols:     len(columns),
	}, nil
}

// ingestConn 实现 port.IngestConn。非并发安全：一个摄取任务独占一条连接。
type ingestConn struct {
	sessionID string
	conn      *sql.Conn
	stmt      *sql.Stmt
	ncols     int

	mu     sync.Mutex
	tx     *sql.Tx
	closed bool
}

// InsertChunk 在当前事务内逐行插入一个数据块。
func (c *ingestConn) InsertChunk(ctx context.Context, rows [][]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return port.NewStoreError(port.StoreIO, "insert_chunk", errors.New("摄取连接已关闭"))
	}
	if len(rows) == 0 {
		return nil
	}

	if c.tx == nil {
		tx, err := c.conn.BeginTx(ctx, nil)
		if err != nil {
			return wrapErr("insert_chunk", err)
		}
		c.tx = tx
	}

	txStmt := c.tx.StmtContext(ctx, c.stmt)
	for _, row := range rows {
		if len(row) != c.ncols {
			return port.NewStoreError(port.StoreIO, "insert_chunk",
				fmt.Errorf("行宽 %d 与列数 %d 不一致", len(row), c.ncols))
		}
		if _, err := txStmt.ExecContext(ctx, row...); err != nil {
			// 回滚整个未提交批次，保证单次调用不产生部分提交
			_ = c.tx.Rollback()
			c.tx = nil
			return wrapErr("insert_chunk", err)
		}
	}
	return nil
}

// Commit 提交当前事务 (批次落盘点)。
func (c *ingestConn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitLocked()
}

func (c *ingestConn) commitLocked() error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return wrapErr("commit", err)
	}
	return nil
}

// Close 提交尾批并归还连接，可重复调用。
func (c *ingestConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	errCommit := c.commitLocked()
	if errStmt := c.stmt.Close(); errStmt != nil {
		slog.Warn("[CacheStore] 关闭摄取插入语句失败", "session_id", c.sessionID, "error", errStmt)
	}
	errConn := c.conn.Close()
	if errCommit != nil {
		return errCommit
	}
	if errConn != nil {
		return wrapErr("close_ingest_conn", errConn)
	}
	return nil
}

// joinComma 以 ", " 连接各片段。
func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
