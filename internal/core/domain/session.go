// Package domain file: internal/core/domain/session.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionStatus 表示一次查询结果物化会话的生命周期状态。
type SessionStatus string

const (
	StatusPending   SessionStatus = "PENDING"
	StatusActive    SessionStatus = "ACTIVE"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusError     SessionStatus = "ERROR"
	StatusCancelled SessionStatus = "CANCELLED"
	StatusTimeout   SessionStatus = "TIMEOUT"
)

// legalTransitions 定义了状态机中允许的全部迁移。
// 终止态 (COMPLETED/ERROR/CANCELLED/TIMEOUT) 没有任何出边。
var legalTransitions = map[SessionStatus][]SessionStatus{
	StatusPending: {StatusActive, StatusCancelled, StatusTimeout, StatusError},
	StatusActive:  {StatusCompleted, StatusError, StatusCancelled, StatusTimeout},
}

// IsTerminal 报告该状态是否为终止态。
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// IsValid 报告该状态是否为已知的六个状态之一。
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusError, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// CanTransition 报告从 s 到 next 的迁移是否被状态机允许。
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SessionRecord 是会话注册表的基本单元，对应 cache_sessions 表的一行。
type SessionRecord struct {
	SessionID     string        `json:"session_id"`
	UserID        int64         `json:"user_id"`
	Status        SessionStatus `json:"status"`
	TotalRows     int64         `json:"total_rows"`
	ProcessedRows int64         `json:"processed_rows"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastActivity  time.Time     `json:"last_activity"`
	// ExecutionTime 为会话终止前的累计执行秒数；终止前为 nil。
	ExecutionTime *float64 `json:"execution_time,omitempty"`
	ErrorMessage  string   `json:"error_message,omitempty"`
}

// IsComplete 等价于 Status 为终止态。
func (r *SessionRecord) IsComplete() bool {
	return r.Status.IsTerminal()
}

// Clone 返回记录的一个浅拷贝 (ExecutionTime 指针会被复制为新指针)。
// 注册表对外只交出拷贝，避免调用方绕过锁修改内存层。
func (r *SessionRecord) Clone() *SessionRecord {
	cp := *r
	if r.ExecutionTime != nil {
		v := *r.ExecutionTime
		cp.ExecutionTime = &v
	}
	return &cp
}

// NewSessionID 生成一个全局唯一、可按字典序排序的会话ID。
// 形如 u42_20260828T093015_1a2b3c4d：编码了所有者、墙钟时间和消歧后缀。
func NewSessionID(userID int64, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("u%d_%s_%s", userID, now.UTC().Format("20060102T150405"), suffix)
}

// DataTableName 从会话ID确定性地导出该会话的数据表名。
// 会话ID中的非标识符字符会被替换，保证结果是合法的 SQL 标识符。
func DataTableName(sessionID string) string {
	var sb strings.Builder
	sb.WriteString("result_")
	for _, ch := range sessionID {
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '_' {
			sb.WriteRune(ch)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
