// Package port file: internal/core/port/engine.go
package port

import (
	"context"

	"SQLHarbor/internal/core/domain"
)

// StartIntent 表示调用方提交摄取时的意图。
type StartIntent string

const (
	// IntentDisplay 以页面展示为目的，受 display_limit 约束。
	IntentDisplay StartIntent = "display"
	// IntentDownload 以流式导出为目的，受 download_limit 约束。
	IntentDownload StartIntent = "download"
)

// ProbeClass 是行数预探测的分类结果。
type ProbeClass string

const (
	ProbeDisplayable          ProbeClass = "displayable"
	ProbeRequiresConfirmation ProbeClass = "requires_confirmation"
	ProbeRejected             ProbeClass = "rejected"
)

// ProbeOutcome 是 Probe 的返回：分类 + 精确行数。
type ProbeOutcome struct {
	Class     ProbeClass `json:"class"`
	TotalRows int64      `json:"total_rows"`
}

// SweepReport 是一次完整清扫的统计。
type SweepReport struct {
	TimedOut    int `json:"timed_out"`
	HardDeleted int `json:"hard_deleted"`
	Deferred    int `json:"deferred"`
}

// ResultCacheEngine 是查询结果缓存与会话生命周期引擎对外的端口。
type ResultCacheEngine interface {
	// Probe 对用户 SQL 做行数预探测并分类，不注册会话。
	Probe(ctx context.Context, userID int64, sql string) (*ProbeOutcome, error)

	// Start 注册会话并启动摄取，返回会话ID。
	// 意图为 display 时行数须不超过 display_limit，download 时不超过 download_limit。
	Start(ctx context.Context, userID int64, sql string, intent StartIntent) (string, error)

	// Status 返回会话记录的拷贝。
	Status(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// ListForUser 返回指定用户的全部会话记录。
	ListForUser(ctx context.Context, userID int64) ([]*domain.SessionRecord, error)

	// Cancel 请求取消会话；摄取任务在下一个块边界观察到并停止。
	Cancel(ctx context.Context, sessionID string) error

	// ReadPage 对已物化的结果做分页/过滤/排序读取。
	ReadPage(ctx context.Context, req ReadPageRequest) (*ReadPageResult, error)

	// DistinctValues 枚举单列去重值。
	DistinctValues(ctx context.Context, req DistinctRequest) (*DistinctResult, error)

	// Cleanup 删除会话的记录与数据表。force 为 false 时拒绝清理仍在摄取的会话。
	Cleanup(ctx context.Context, sessionID string, force bool) error

	// ManualSweep 同步执行一轮完整清扫并返回统计。
	ManualSweep(ctx context.Context) (*SweepReport, error)
}
