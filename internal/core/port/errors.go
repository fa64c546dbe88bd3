// Package port file: internal/core/port/errors.go
package port

import (
	"errors"
	"fmt"
)

// 引擎对外暴露的标准错误。路由层据此映射 HTTP 状态码。
var (
	ErrInvalidSession    = errors.New("无效的会话")
	ErrNotFound          = errors.New("指定的会话未找到")
	ErrLimitExceeded     = errors.New("查询结果行数超出允许上限")
	ErrIllegalTransition = errors.New("非法的会话状态迁移")
	ErrUnsupportedType   = errors.New("结果集中含有不支持的数据类型")
	ErrConcurrencyLimit  = errors.New("并发会话数已达上限")
	ErrCancelled         = errors.New("会话已被取消")
	ErrTimeout           = errors.New("会话已超时")
	ErrWarehouse         = errors.New("数据仓库访问失败")
	ErrInvalidArgument   = errors.New("非法的请求参数")
	ErrInternal          = errors.New("内部错误")
)

// StoreErrorKind 对嵌入式存储错误做粗粒度分类。
type StoreErrorKind string

const (
	StoreLocked   StoreErrorKind = "Locked"
	StoreNotFound StoreErrorKind = "NotFound"
	StoreCorrupt  StoreErrorKind = "Corrupt"
	StoreIO       StoreErrorKind = "IO"
)

// StoreError 包装嵌入式存储的任意失败。
// 单次公开操作要么完整生效，要么以 StoreError 失败且不产生部分提交。
type StoreError struct {
	Kind StoreErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("存储操作 '%s' 失败 (kind=%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError 构造一个 StoreError。
func NewStoreError(kind StoreErrorKind, op string, err error) *StoreError {
	return &StoreError{Kind: kind, Op: op, Err: err}
}

// AsStoreError 提取 err 链上的 *StoreError，不存在时返回 nil。
func AsStoreError(err error) *StoreError {
	var se *StoreError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// IsStoreLocked 报告 err 是否为存储文件被锁导致的失败。
func IsStoreLocked(err error) bool {
	se := AsStoreError(err)
	return se != nil && se.Kind == StoreLocked
}
