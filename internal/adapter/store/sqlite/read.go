// Package sqlite file: internal/adapter/store/sqlite/read.go
//
// 会话数据表的参数化读取：分页扫描与去重取值。
// 与教科书式的单连接顺序查询不同，数据查询与计数查询并发执行。
package sqlite

import (
	"context"
	"database/sql"

	"SQLHarbor/internal/core/domain"
	"SQLHarbor/internal/core/port"

	"golang.org/x/sync/errgroup"
)

// ReadPage 对会话数据表做分页读取。columns 是调用方已验证的列白名单，
// 过滤值一律参数绑定。数据页与总数并发查询。
func (s *Store) ReadPage(ctx context.Context, sessionID string, columns []string, req port.ReadPageRequest) (*port.ReadPageResult, error) {
	tableName := domain.DataTableName(sessionID)

	pageSQL, pageArgs, err := buildPageSQL(tableName, columns, req)
	if err != nil {
		return nil, port.NewStoreError(port.StoreIO, "read_page", err)
	}
	countSQL, countArgs := buildCountSQL(tableName, req.Filters)

	var (
		rowsOut    []map[string]any
		totalCount int64
	)
	g, queryCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.db.QueryRowContext(queryCtx, countSQL, countArgs...).Scan(&totalCount); err != nil {
			return wrapErr("read_page_count", err)
		}
		return nil
	})

	g.Go(func() error {
		rows, errExec := s.db.QueryContext(queryCtx, pageSQL, pageArgs...)
		if errExec != nil {
			return wrapErr("read_page", errExec)
		}
		defer rows.Close()

		rowsOut = make([]map[string]any, 0, req.PageSize)
		for rows.Next() {
			scanDest := make([]any, len(columns))
			scanDestPtrs := make([]any, len(columns))
			for i := range scanDest {
				scanDestPtrs[i] = &scanDest[i]
			}
			if errScan := rows.Scan(scanDestPtrs...); errScan != nil {
				return wrapErr("read_page", errScan)
			}
			rowData := make(map[string]any, len(columns))
			for i, colName := range columns {
				if bytes, ok := scanDest[i].([]byte); ok {
					rowData[colName] = string(bytes)
				} else {
					rowData[colName] = scanDest[i]
				}
			}
			rowsOut = append(rowsOut, rowData)
		}
		if errRows := rows.Err(); errRows != nil {
			return wrapErr("read_page", errRows)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	totalPages := totalCount / int64(req.PageSize)
	if totalCount%int64(req.PageSize) != 0 {
		totalPages++
	}
	return &port.ReadPageResult{
		Rows:       rowsOut,
		Columns:    columns,
		TotalCount: totalCount,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: totalPages,
	}, nil
}

// DistinctValues 枚举单列去重值，同时并发计算真实基数。
func (s *Store) DistinctValues(ctx context.Context, sessionID string, columns []string, req port.DistinctRequest) (*port.DistinctResult, error) {
	tableName := domain.DataTableName(sessionID)

	valuesSQL, valuesArgs := buildDistinctSQL(tableName, req.Column, req.Filters, req.Limit)
	countSQL, countArgs := buildDistinctCountSQL(tableName, req.Column, req.Filters)

	var (
		values     []string
		totalCount int64
	)
	g, queryCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.db.QueryRowContext(queryCtx, countSQL, countArgs...).Scan(&totalCount); err != nil {
			return wrapErr("distinct_values_count", err)
		}
		return nil
	})

	g.Go(func() error {
		rows, errExec := s.db.QueryContext(queryCtx, valuesSQL, valuesArgs...)
		if errExec != nil {
			return wrapErr("distinct_values", errExec)
		}
		defer rows.Close()

		values = make([]string, 0, req.Limit)
		for rows.Next() {
			var v sql.NullString
			if errScan := rows.Scan(&v); errScan != nil {
				return wrapErr("distinct_values", errScan)
			}
			if v.Valid {
				values = append(values, v.String)
			}
		}
		if errRows := rows.Err(); errRows != nil {
			return wrapErr("distinct_values", errRows)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &port.DistinctResult{
		Values:      values,
		TotalCount:  totalCount,
		IsTruncated: totalCount > int64(len(values)),
	}, nil
}
