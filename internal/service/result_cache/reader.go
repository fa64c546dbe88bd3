// Package result_cache file: internal/service/result_cache/reader.go
//
// 读取端：分页、过滤、排序与去重取值。所有列名都要先过
// 数据表物理列的白名单，过滤值本身则交给存储层做参数绑定。
package result_cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"SQLHarbor/internal/core/domain"
	"SQLHarbor/internal/core/port"
)

// readableSession 校验会话可读并返回记录。
// ACTIVE 会话允许读已落盘的部分数据，前端靠这个做渐进渲染。
func (e *Engine) readableSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	rec, err := e.reg.get(ctx, sessionID)
	if err != nil {
		se := port.AsStoreError(err)
		if errors.Is(err, port.ErrNotFound) || (se != nil && se.Kind == port.StoreNotFound) {
			return nil, fmt.Errorf("%w: '%s'", port.ErrInvalidSession, sessionID)
		}
		return nil, err
	}

	switch rec.Status {
	case domain.StatusActive, domain.StatusCompleted:
		return rec, nil
	case domain.StatusTimeout:
		return nil, fmt.Errorf("%w: 会话 '%s'", port.ErrTimeout, sessionID)
	case domain.StatusCancelled:
		return nil, fmt.Errorf("%w: 会话 '%s'", port.ErrCancelled, sessionID)
	case domain.StatusError:
		return nil, fmt.Errorf("%w: 会话以 ERROR 终止: %s", port.ErrInvalidSession, rec.ErrorMessage)
	default: // PENDING: 数据表尚不存在
		return nil, fmt.Errorf("%w: 会话 '%s' 尚未开始物化", port.ErrInvalidSession, sessionID)
	}
}

// sessionColumns 返回会话数据表的物理列白名单，带 LRU 缓存。
// 列集在表创建后不变，缓存失效只发生在会话被清理时。
func (e *Engine) sessionColumns(ctx context.Context, sessionID string) ([]string, error) {
	if cols, ok := e.columnCache.Get(sessionID); ok {
		return cols, nil
	}
	cols, err := e.store.SessionColumns(ctx, sessionID)
	if err != nil {
		if se := port.AsStoreError(err); se != nil && se.Kind == port.StoreNotFound {
			return nil, fmt.Errorf("%w: 会话 '%s' 的数据表不存在", port.ErrInvalidSession, sessionID)
		}
		return nil, err
	}
	e.columnCache.Add(sessionID, cols)
	return cols, nil
}

// validateColumns 校验过滤列与排序列都在白名单内。
func validateColumns(columns []string, filters map[string][]string, sortBy string) error {
	allowed := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		allowed[c] = struct{}{}
	}
	for col := range filters {
		if _, ok := allowed[col]; !ok {
			return fmt.Errorf("%w: 未知的过滤列 '%s'", port.ErrInvalidArgument, col)
		}
	}
	if sortBy != "" {
		if _, ok := allowed[sortBy]; !ok {
			return fmt.Errorf("%w: 未知的排序列 '%s'", port.ErrInvalidArgument, sortBy)
		}
	}
	return nil
}

// ReadPage 实现 port.ResultCacheEngine.ReadPage。
func (e *Engine) ReadPage(ctx context.Context, req port.ReadPageRequest) (*port.ReadPageResult, error) {
	if _, err := e.readableSession(ctx, req.SessionID); err != nil {
		return nil, err
	}

	if req.Page == 0 {
		req.Page = 1
	}
	if req.Page < 1 {
		return nil, fmt.Errorf("%w: 页码必须 >= 1", port.ErrInvalidArgument)
	}
	if req.PageSize <= 0 {
		req.PageSize = e.opts.DefaultPageSize
	}
	switch strings.ToUpper(req.SortOrder) {
	case "":
		req.SortOrder = "ASC"
	case "ASC", "DESC":
		req.SortOrder = strings.ToUpper(req.SortOrder)
	default:
		return nil, fmt.Errorf("%w: 排序方向只能是 ASC 或 DESC", port.ErrInvalidArgument)
	}

	columns, err := e.sessionColumns(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := validateColumns(columns, req.Filters, req.SortBy); err != nil {
		return nil, err
	}

	return e.store.ReadPage(ctx, req.SessionID, columns, req)
}

// DistinctValues 实现 port.ResultCacheEngine.DistinctValues。
func (e *Engine) DistinctValues(ctx context.Context, req port.DistinctRequest) (*port.DistinctResult, error) {
	if _, err := e.readableSession(ctx, req.SessionID); err != nil {
		return nil, err
	}
	if req.Column == "" {
		return nil, fmt.Errorf("%w: 必须指定目标列", port.ErrInvalidArgument)
	}
	if req.Limit <= 0 {
		req.Limit = e.opts.DefaultPageSize
	}

	columns, err := e.sessionColumns(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := validateColumns(columns, req.Filters, req.Column); err != nil {
		return nil, err
	}

	return e.store.DistinctValues(ctx, req.SessionID, columns, req)
}
