// Package port file: internal/core/port/warehouse.go
package port

import "context"

// RowStream 是仓库查询结果的惰性行迭代器。
// 行按生产者顺序产出；Close 负责取消底层查询并释放连接，必须在任何
// 终止路径上被调用。
type RowStream interface {
	// Columns 返回结果集的列名，顺序与 Next 产出的值一致。
	Columns() []string

	// Next 返回下一行的值。流结束时返回 (nil, io.EOF)。
	Next(ctx context.Context) ([]any, error)

	// Close 取消查询并释放底层资源，可重复调用。
	Close() error
}

// WarehouseClient 抽象远端分析型数据仓库。
// 引擎只通过它做两件事：行数预探测和流式拉取结果。
type WarehouseClient interface {
	// Count 对用户 SQL 执行一次廉价的计数往返。
	Count(ctx context.Context, sql string) (int64, error)

	// Stream 执行用户 SQL 并返回惰性行流。
	Stream(ctx context.Context, sql string) (RowStream, error)

	// HealthCheck 检查仓库连接的健康状况。
	HealthCheck(ctx context.Context) error
}
