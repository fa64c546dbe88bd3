// Package result_cache file: internal/service/result_cache/registry.go
package result_cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"SQLHarbor/internal/core/domain"
	"SQLHarbor/internal/core/port"
)

// registry 是双层会话注册表：内存层在单把互斥锁下提供快速路径，
// 嵌入式存储层是跨重启的事实来源。所有状态变更都先改内存、
// 同步写穿存储，存储失败时回滚内存，保证两层不会静默分叉。
type registry struct {
	mu        sync.Mutex
	capLimit  int
	sessions  map[string]*domain.SessionRecord
	ingesting map[string]struct{} // 持有活跃摄取连接的会话
	store     port.CacheStore
	clock     func() time.Time
}

func newRegistry(store port.CacheStore, capLimit int) *registry {
	return &registry{
		capLimit:  capLimit,
		sessions:  make(map[string]*domain.SessionRecord),
		ingesting: make(map[string]struct{}),
		store:     store,
		clock:     time.Now,
	}
}

// register 原子地完成配额检查与插入：二者在同一临界区内，
// 并发的注册请求不可能一起挤过配额。存储写入失败时内存插入回滚。
func (r *registry) register(ctx context.Context, rec *domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inFlight := 0
	for _, existing := range r.sessions {
		if !existing.Status.IsTerminal() {
			inFlight++
		}
	}
	if inFlight >= r.capLimit {
		return fmt.Errorf("%w: 当前 %d / 上限 %d", port.ErrConcurrencyLimit, inFlight, r.capLimit)
	}
	if _, exists := r.sessions[rec.SessionID]; exists {
		return fmt.Errorf("%w: 会话ID '%s' 已存在", port.ErrInternal, rec.SessionID)
	}

	r.sessions[rec.SessionID] = rec.Clone()
	if err := r.store.UpsertSession(ctx, rec); err != nil {
		delete(r.sessions, rec.SessionID) // 回滚内存层
		return err
	}
	return nil
}

// get 返回会话记录的拷贝。内存未命中时回源存储并回填内存层，
// 这样重启后的首次状态查询也能走到快速路径。
func (r *registry) get(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	r.mu.Lock()
	if rec, ok := r.sessions[sessionID]; ok {
		cp := rec.Clone()
		r.mu.Unlock()
		return cp, nil
	}
	r.mu.Unlock()

	rec, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.sessions[sessionID]; ok {
		// 回源期间别的调用已回填，以内存层为准
		return cached.Clone(), nil
	}
	r.sessions[sessionID] = rec.Clone()
	return rec, nil
}

// transition 在单个临界区内完成校验-迁移-落盘。
// mutate 回调在状态已更新、尚未落盘时对记录做附加修改
// (如写入 error_message 或 execution_time)。
func (r *registry) transition(ctx context.Context, sessionID string, next domain.SessionStatus, mutate func(*domain.SessionRecord)) (*domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[sessionID]
	if !ok {
		// 内存未命中也要去存储看一眼，重启后的迁移请求依赖这一步
		fromStore, err := r.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		r.sessions[sessionID] = fromStore
		rec = fromStore
	}

	if !rec.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s (会话 %s)", port.ErrIllegalTransition, rec.Status, next, sessionID)
	}

	rollback := rec.Clone()
	now := r.clock()
	rec.Status = next
	rec.UpdatedAt = now
	rec.LastActivity = now
	if mutate != nil {
		mutate(rec)
	}

	if err := r.store.UpsertSession(ctx, rec); err != nil {
		r.sessions[sessionID] = rollback // 存储失败，内存层回滚
		return nil, err
	}
	return rec.Clone(), nil
}

// touch 只更新内存层的进度与活动时间，不触碰存储。
// 摄取管线每个块调用一次，落盘节奏由批次提交控制。
func (r *registry) touch(sessionID string, processedRows int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.sessions[sessionID]; ok {
		rec.ProcessedRows = processedRows
		now := r.clock()
		rec.UpdatedAt = now
		rec.LastActivity = now
	}
}

// flush 把内存层的当前记录写穿到存储，批次提交后调用。
// 存储写入与 transition 同处一个临界区：进度落盘不可能拿着
// 过期快照覆盖并发迁移刚写入的终止态。
func (r *registry) flush(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: 会话 '%s' 不在内存层", port.ErrNotFound, sessionID)
	}
	return r.store.UpsertSession(ctx, rec.Clone())
}

// remove 把会话从内存层彻底清除，存储侧的删除由调用方负责。
func (r *registry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	delete(r.ingesting, sessionID)
}

// listForUser 以存储为权威列出用户会话，并用内存层覆盖进度字段。
func (r *registry) listForUser(ctx context.Context, userID int64) ([]*domain.SessionRecord, error) {
	records, err := r.store.ListSessionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range records {
		if cached, ok := r.sessions[rec.SessionID]; ok {
			records[i] = cached.Clone()
		}
	}
	return records, nil
}

// activeCount 返回当前非终止态会话数。
func (r *registry) activeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.sessions {
		if !rec.Status.IsTerminal() {
			n++
		}
	}
	return n
}

func (r *registry) markIngesting(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingesting[sessionID] = struct{}{}
}

func (r *registry) unmarkIngesting(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ingesting, sessionID)
}

func (r *registry) isIngesting(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ingesting[sessionID]
	return ok
}

// resetMemory 清空内存层，缓存文件被外部清除并重建后由
// Store.OnReset 回调触发。
func (r *registry) resetMemory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*domain.SessionRecord)
	r.ingesting = make(map[string]struct{})
	slog.Warn("[Registry] 内存层已随缓存重建而清空")
}

// restoreOnStart 在启动时把存储里滞留的非终止态会话统一置为
// TIMEOUT：上一进程的摄取任务已随进程消亡，这些会话不可能再推进。
func (r *registry) restoreOnStart(ctx context.Context) error {
	stale, err := r.store.ListIncompleteSessions(ctx)
	if err != nil {
		return fmt.Errorf("启动恢复: 列出未完成会话失败: %w", err)
	}

	for _, rec := range stale {
		if !rec.Status.CanTransition(domain.StatusTimeout) {
			continue
		}
		now := r.clock()
		rec.Status = domain.StatusTimeout
		rec.UpdatedAt = now
		rec.LastActivity = now
		if errUp := r.store.UpsertSession(ctx, rec); errUp != nil {
			slog.Warn("[Registry] 启动恢复: 标记滞留会话失败", "session_id", rec.SessionID, "error", errUp)
			continue
		}
		slog.Info("[Registry] 启动恢复: 滞留会话已置为 TIMEOUT", "session_id", rec.SessionID, "reason", "进程重启，摄取任务丢失")
	}
	return nil
}
