// Package sqlite file: internal/adapter/store/sqlite/helpers.go
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"SQLHarbor/internal/core/port"
)

// quoteIdent 对来自仓库响应的任意标识符加引号。
// 双引号内的双引号按 SQL 标准转义为两个双引号。
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// buildWhereClause 按 列 -> 值集合 构建 WHERE 子句。
// 同列多值析取 (IN)，跨列合取 (AND)；空集合的列被忽略。
// 列名必须已通过白名单校验，值一律走参数绑定。
func buildWhereClause(filters map[string][]string) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}

	// map 遍历无序，按列名排序保证 SQL 稳定可测
	cols := make([]string, 0, len(filters))
	for col, vals := range filters {
		if len(vals) > 0 {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return "", nil
	}
	sort.Strings(cols)

	var conditions []string
	var args []any
	for _, col := range cols {
		vals := filters[col]
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(vals)), ", ")
		conditions = append(conditions, fmt.Sprintf("%s IN (%s)", quoteIdent(col), placeholders))
		for _, v := range vals {
			args = append(args, v)
		}
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildPageSQL 构建分页数据查询。
// 未指定排序键时按 rowid 排序，保证读出顺序即插入顺序。
func buildPageSQL(tableName string, columns []string, req port.ReadPageRequest) (string, []any, error) {
	if tableName == "" || len(columns) == 0 {
		return "", nil, errors.New("表名和查询列不能为空 (buildPageSQL)")
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	whereClause, whereArgs := buildWhereClause(req.Filters)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(tableName))
	if whereClause != "" {
		sb.WriteString(" ")
		sb.WriteString(whereClause)
	}
	if req.SortBy != "" {
		order := "ASC"
		if strings.EqualFold(req.SortOrder, "DESC") {
			order = "DESC"
		}
		sb.WriteString(fmt.Sprintf(" ORDER BY %s %s", quoteIdent(req.SortBy), order))
	} else {
		sb.WriteString(" ORDER BY rowid ASC")
	}
	sb.WriteString(" LIMIT ? OFFSET ?")

	args := append(whereArgs, req.PageSize, (req.Page-1)*req.PageSize)
	return sb.String(), args, nil
}

// buildCountSQL 构建与分页查询同条件的计数查询。
func buildCountSQL(tableName string, filters map[string][]string) (string, []any) {
	whereClause, whereArgs := buildWhereClause(filters)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(tableName))
	if whereClause != "" {
		query += " " + whereClause
	}
	return query, whereArgs
}

// buildDistinctSQL 构建单列去重取值查询 (NULL 不计入取值)。
func buildDistinctSQL(tableName, column string, filters map[string][]string, limit int) (string, []any) {
	whereClause, whereArgs := buildWhereClause(filters)
	qcol := quoteIdent(column)
	if whereClause == "" {
		whereClause = fmt.Sprintf("WHERE %s IS NOT NULL", qcol)
	} else {
		whereClause += fmt.Sprintf(" AND %s IS NOT NULL", qcol)
	}
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s %s ORDER BY %s ASC LIMIT ?",
		qcol, quoteIdent(tableName), whereClause, qcol)
	return query, append(whereArgs, limit)
}

// buildDistinctCountSQL 构建真实基数查询 (COUNT(DISTINCT) 天然忽略 NULL)。
func buildDistinctCountSQL(tableName, column string, filters map[string][]string) (string, []any) {
	whereClause, whereArgs := buildWhereClause(filters)
	query := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", quoteIdent(column), quoteIdent(tableName))
	if whereClause != "" {
		query += " " + whereClause
	}
	return query, whereArgs
}

// buildInsertSQL 构建会话数据表的单行参数化 INSERT。
func buildInsertSQL(tableName string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(tableName), strings.Join(quoted, ", "), placeholders)
}

// listColumnsOn 返回指定表的物理列集合 (名字 -> 序号)。
func listColumnsOn(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, tableName string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(tableName)))
	if err != nil {
		return nil, fmt.Errorf("PRAGMA table_info for table %q 失败: %w", tableName, err)
	}
	defer rows.Close()

	cols := make(map[string]int)
	for rows.Next() {
		var (
			cid       int
			colName   string
			colType   string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notnull, &dfltValue, &pk); err != nil {
			slog.Warn("[CacheStore] listColumnsOn 扫描列信息失败", "table", tableName, "error", err)
			continue
		}
		cols[colName] = cid
	}
	return cols, rows.Err()
}

// tableExists 报告指定用户表是否存在。
func (s *Store) tableExists(ctx context.Context, tableName string) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, tableName).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
