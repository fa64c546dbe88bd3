// Package port file: internal/core/port/store.go
package port

import (
	"context"

	"SQLHarbor/internal/core/domain"
)

// ReadPageRequest 定义一次分页读取。
// Filters 为 列名 -> 值集合：同列多值取析取 (OR)，跨列取合取 (AND)；
// 缺省或空集合表示该列不限制。
type ReadPageRequest struct {
	SessionID string              `json:"session_id"`
	Page      int                 `json:"page"`
	PageSize  int                 `json:"page_size"`
	Filters   map[string][]string `json:"filters"`
	SortBy    string              `json:"sort_by"`
	SortOrder string              `json:"sort_order"` // "ASC" (默认) 或 "DESC"
}

// ReadPageResult 是分页读取的返回。
type ReadPageResult struct {
	Rows       []map[string]any `json:"rows"`
	Columns    []string         `json:"columns"`
	TotalCount int64            `json:"total_count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int64            `json:"total_pages"`
}

// DistinctRequest 定义一次去重取值枚举，过滤语义与 ReadPageRequest 相同。
type DistinctRequest struct {
	SessionID string              `json:"session_id"`
	Column    string              `json:"column"`
	Limit     int                 `json:"limit"`
	Filters   map[string][]string `json:"filters"`
}

// DistinctResult 是去重取值的返回。TotalCount 为真实基数，
// IsTruncated 当且仅当基数超过 Limit 时为 true。
type DistinctResult struct {
	Values      []string `json:"values"`
	TotalCount  int64    `json:"total_count"`
	IsTruncated bool     `json:"is_truncated"`
}

// IngestConn 是摄取管线独占的一条存储连接。
// 块插入运行在连接私有的事务里；Commit 按批次节奏调用，
// Close 负责提交尾批并归还连接，任何终止路径都必须调用。
type IngestConn interface {
	// InsertChunk 在当前事务内插入一个数据块 (若无事务则先开启)。
	InsertChunk(ctx context.Context, rows [][]any) error

	// Commit 提交当前事务 (若有)。
	Commit(ctx context.Context) error

	// Close 提交未落盘的尾批并释放连接，可重复调用。
	Close() error
}

// CacheStore 是嵌入式缓存存储 (C1) 的端口。
// 所有公开操作以 *StoreError 失败，且单次调用不产生部分提交。
type CacheStore interface {
	// InitSchema 初始化/迁移 cache_sessions 注册表，幂等。
	InitSchema(ctx context.Context) error

	// CreateSessionTable 为会话创建数据表，幂等；列名按原样加引号。
	CreateSessionTable(ctx context.Context, sessionID string, columns []string) error

	// DropSessionTable 删除会话数据表，幂等。
	DropSessionTable(ctx context.Context, sessionID string) error

	// SessionColumns 返回会话数据表的物理列，表不存在时返回 NotFound。
	SessionColumns(ctx context.Context, sessionID string) ([]string, error)

	// OpenIngestConn 为一次摄取借出独占连接。
	OpenIngestConn(ctx context.Context, sessionID string, columns []string) (IngestConn, error)

	// ReadPage 对会话数据表做参数化分页读取。columns 是已验证的列白名单。
	ReadPage(ctx context.Context, sessionID string, columns []string, req ReadPageRequest) (*ReadPageResult, error)

	// DistinctValues 枚举单列去重值并返回真实基数。
	DistinctValues(ctx context.Context, sessionID string, columns []string, req DistinctRequest) (*DistinctResult, error)

	// --- cache_sessions 注册表 CRUD ---

	UpsertSession(ctx context.Context, rec *domain.SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)
	ListSessionsForUser(ctx context.Context, userID int64) ([]*domain.SessionRecord, error)
	ListIncompleteSessions(ctx context.Context) ([]*domain.SessionRecord, error)
	ListAllSessions(ctx context.Context) ([]*domain.SessionRecord, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Close 关闭底层数据库。
	Close() error
}
