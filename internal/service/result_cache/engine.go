// Package result_cache file: internal/service/result_cache/engine.go
package result_cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"SQLHarbor/internal/core/domain"
	"SQLHarbor/internal/core/port"
	"SQLHarbor/internal/observe"

	"github.com/hashicorp/golang-lru/v2/expirable"
	gocache "github.com/patrickmn/go-cache"
)

// 断言 *Engine 实现 port.ResultCacheEngine 接口，编译期校验
var _ port.ResultCacheEngine = (*Engine)(nil)

// columnCacheSize 是列白名单 LRU 的容量，够覆盖在管的全部会话。
const columnCacheSize = 256

// Engine 是查询结果缓存与会话生命周期引擎的门面。
type Engine struct {
	store     port.CacheStore
	warehouse port.WarehouseClient
	reg       *registry
	opts      Options

	probeCache  *gocache.Cache
	columnCache *expirable.LRU[string, []string]

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine 组装引擎。后台任务 (摄取、清扫) 挂在引擎自己的
// 基础上下文上，不随单个 HTTP 请求的取消而终止。
func NewEngine(store port.CacheStore, warehouse port.WarehouseClient, opts Options) *Engine {
	opts = opts.withDefaults()
	baseCtx, cancel := context.WithCancel(context.Background())

	return &Engine{
		store:       store,
		warehouse:   warehouse,
		reg:         newRegistry(store, opts.MaxConcurrentSessions),
		opts:        opts,
		probeCache:  gocache.New(opts.ProbeCacheTTL, 2*opts.ProbeCacheTTL),
		columnCache: expirable.NewLRU[string, []string](columnCacheSize, nil, time.Hour),
		baseCtx:     baseCtx,
		cancel:      cancel,
	}
}

// RestoreOnStart 把上一进程滞留的非终止态会话统一置为 TIMEOUT。
// 在 Run 之前调用一次。
func (e *Engine) RestoreOnStart(ctx context.Context) error {
	return e.reg.restoreOnStart(ctx)
}

// Run 启动后台清扫器。
func (e *Engine) Run() {
	e.startSweeper()
}

// ResetMemory 清空引擎的全部内存态缓存。
// 缓存文件被外部清除并重建后由存储层的 OnReset 回调触发。
func (e *Engine) ResetMemory() {
	e.reg.resetMemory()
	e.probeCache.Flush()
	e.columnCache.Purge()
}

// Shutdown 取消全部后台任务并等待它们退出，受 ctx 期限约束。
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待后台任务退出超时: %w", ctx.Err())
	}
}

// Start 实现 port.ResultCacheEngine.Start。
// 流程: 行数校验 -> 注册 PENDING (配额检查) -> 打开仓库行流 ->
// 迁移 ACTIVE -> 启动摄取 goroutine。任何一步失败都不留下
// 悬空的 ACTIVE 会话。
func (e *Engine) Start(ctx context.Context, userID int64, userSQL string, intent port.StartIntent) (string, error) {
	limit, err := e.limitFor(intent)
	if err != nil {
		return "", err
	}
	totalRows, err := e.countFor(ctx, userID, userSQL)
	if err != nil {
		return "", err
	}
	if totalRows > limit {
		return "", fmt.Errorf("%w: 结果 %d 行, 意图 '%s' 的上限为 %d 行", port.ErrLimitExceeded, totalRows, intent, limit)
	}

	now := e.reg.clock()
	sessionID := domain.NewSessionID(userID, now)
	rec := &domain.SessionRecord{
		SessionID:    sessionID,
		UserID:       userID,
		Status:       domain.StatusPending,
		TotalRows:    totalRows,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
	}
	if err := e.reg.register(ctx, rec); err != nil {
		return "", err
	}
	observe.SessionsCreated.Inc()
	observe.ActiveSessions.Set(float64(e.reg.activeCount()))

	// 行流挂在引擎基础上下文上：HTTP 请求返回后摄取继续
	stream, err := e.warehouse.Stream(e.baseCtx, userSQL)
	if err != nil {
		e.finishWithError(ctx, sessionID, 0, now, fmt.Sprintf("打开仓库行流失败: %v", err))
		return "", err
	}

	if err := e.activate(ctx, sessionID); err != nil {
		_ = stream.Close()
		return "", err
	}

	e.wg.Add(1)
	go e.runIngestion(sessionID, stream, now)

	slog.Info("[Engine] 会话已启动", "session_id", sessionID, "user_id", userID, "total_rows", totalRows, "intent", intent)
	return sessionID, nil
}

// Status 实现 port.ResultCacheEngine.Status。
func (e *Engine) Status(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	rec, err := e.reg.get(ctx, sessionID)
	if err != nil {
		return nil, mapUnknownSession(err, sessionID)
	}
	return rec, nil
}

// ListForUser 实现 port.ResultCacheEngine.ListForUser。
func (e *Engine) ListForUser(ctx context.Context, userID int64) ([]*domain.SessionRecord, error) {
	return e.reg.listForUser(ctx, userID)
}

// Cancel 实现 port.ResultCacheEngine.Cancel。
// 对终止态会话取消会得到 IllegalTransition，对未知会话得到 InvalidSession。
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	if err := e.requestCancel(ctx, sessionID); err != nil {
		return mapUnknownSession(err, sessionID)
	}
	slog.Info("[Engine] 会话取消已受理", "session_id", sessionID)
	return nil
}

// Cleanup 实现 port.ResultCacheEngine.Cleanup。
// 幂等：重复清理同一会话返回 NotFound。force 为 true 时先取消
// 仍在进行的会话再物理删除。
func (e *Engine) Cleanup(ctx context.Context, sessionID string, force bool) error {
	rec, err := e.reg.get(ctx, sessionID)
	if err != nil {
		se := port.AsStoreError(err)
		if errors.Is(err, port.ErrNotFound) || (se != nil && se.Kind == port.StoreNotFound) {
			return fmt.Errorf("%w: '%s'", port.ErrNotFound, sessionID)
		}
		return err
	}

	if !rec.Status.IsTerminal() {
		if !force {
			return fmt.Errorf("%w: 会话 '%s' 尚未终止, 强制清理请带 force", port.ErrInvalidArgument, sessionID)
		}
		if errCancel := e.requestCancel(ctx, sessionID); errCancel != nil && !errors.Is(errCancel, port.ErrIllegalTransition) {
			return errCancel
		}
	}

	if err := e.purgeSession(ctx, sessionID); err != nil {
		return err
	}
	slog.Info("[Engine] 会话已清理", "session_id", sessionID, "force", force)
	return nil
}

// mapUnknownSession 把"会话不存在"类错误统一映射为 InvalidSession，
// 这是对外 API 的口径；其余错误原样上抛。
func mapUnknownSession(err error, sessionID string) error {
	se := port.AsStoreError(err)
	if errors.Is(err, port.ErrNotFound) || (se != nil && se.Kind == port.StoreNotFound) {
		return fmt.Errorf("%w: '%s'", port.ErrInvalidSession, sessionID)
	}
	return err
}
