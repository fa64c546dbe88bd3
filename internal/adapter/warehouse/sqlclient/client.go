// Package sqlclient — 基于 database/sql 的仓库客户端适配器
// internal/adapter/warehouse/sqlclient/client.go
//
// 远端分析型仓库只要有 database/sql 驱动即可接入：适配器把
// port.WarehouseClient 的计数往返和流式拉取映射到标准驱动接口上。
package sqlclient

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"SQLHarbor/internal/core/port"
)

// 断言 *Client 实现 port.WarehouseClient 接口，编译期校验
var _ port.WarehouseClient = (*Client)(nil)

// Client 持有到仓库的连接池。
type Client struct {
	db     *sql.DB
	driver string
}

// New 按驱动名与 DSN 打开仓库连接。
func New(ctx context.Context, driver, dsn string) (*Client, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: 打开仓库连接失败: %v", port.ErrWarehouse, err)
	}
	if errPing := db.PingContext(ctx); errPing != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping 仓库失败: %v", port.ErrWarehouse, errPing)
	}
	return &Client{db: db, driver: driver}, nil
}

// Count 把用户 SQL 包装为计数子查询，做一次廉价的行数往返。
func (c *Client) Count(ctx context.Context, userSQL string) (int64, error) {
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS harbor_count_probe", stripTrailing(userSQL))
	var n int64
	if err := c.db.QueryRowContext(ctx, countSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: 计数往返失败: %v", port.ErrWarehouse, err)
	}
	return n, nil
}

// Stream 执行用户 SQL 并返回惰性行流。Close 取消底层查询。
func (c *Client) Stream(ctx context.Context, userSQL string) (port.RowStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	rows, err := c.db.QueryContext(streamCtx, stripTrailing(userSQL))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: 执行查询失败: %v", port.ErrWarehouse, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		cancel()
		return nil, fmt.Errorf("%w: 获取结果列失败: %v", port.ErrWarehouse, err)
	}
	return &rowStream{rows: rows, cancel: cancel, columns: cols}, nil
}

// HealthCheck 实现 port.WarehouseClient.HealthCheck。
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", port.ErrWarehouse, err)
	}
	return nil
}

// Close 关闭连接池。
func (c *Client) Close() error {
	return c.db.Close()
}

// rowStream 实现 port.RowStream。
type rowStream struct {
	rows    *sql.Rows
	cancel  context.CancelFunc
	columns []string
}

func (rs *rowStream) Columns() []string { return rs.columns }

// Next 产出下一行；流结束时返回 io.EOF。
func (rs *rowStream) Next(ctx context.Context) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !rs.rows.Next() {
		if err := rs.rows.Err(); err != nil {
			return nil, fmt.Errorf("%w: 迭代结果行失败: %v", port.ErrWarehouse, err)
		}
		return nil, io.EOF
	}

	scanDest := make([]any, len(rs.columns))
	scanDestPtrs := make([]any, len(rs.columns))
	for i := range scanDest {
		scanDestPtrs[i] = &scanDest[i]
	}
	if err := rs.rows.Scan(scanDestPtrs...); err != nil {
		return nil, fmt.Errorf("%w: 扫描结果行失败: %v", port.ErrWarehouse, err)
	}
	return scanDest, nil
}

// Close 取消查询并释放结果集，可重复调用。
func (rs *rowStream) Close() error {
	rs.cancel()
	return rs.rows.Close()
}

// stripTrailing 去掉用户 SQL 尾部的分号与空白，便于安全地做子查询包装。
func stripTrailing(userSQL string) string {
	return strings.TrimRight(strings.TrimSpace(userSQL), "; \t\n\r")
}
