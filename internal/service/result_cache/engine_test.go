// file: internal/service/result_cache/engine_test.go
package result_cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"SQLHarbor/internal/core/domain"
	"SQLHarbor/internal/core/port"
	sqlitestore "SQLHarbor/internal/adapter/store/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
//  测试替身: 仓库客户端
// ============================================================================

type fakeWarehouse struct {
	mu         sync.Mutex
	columns    []string
	rows       [][]any
	countCalls int
	countErr   error
	streamErr  error

	// pauseAt > 0 时，行流在产出 pauseAt 行后阻塞，直到 resume 被关闭
	pauseAt int
	resume  chan struct{}
}

func (f *fakeWarehouse) Count(ctx context.Context, sql string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	if f.countErr != nil {
		return 0, f.countErr
	}
	return int64(len(f.rows)), nil
}

func (f *fakeWarehouse) Stream(ctx context.Context, sql string) (port.RowStream, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &fakeStream{wh: f, ctx: ctx}, nil
}

func (f *fakeWarehouse) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeWarehouse) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countCalls
}

type fakeStream struct {
	wh  *fakeWarehouse
	ctx context.Context
	idx int
}

func (s *fakeStream) Columns() []string { return s.wh.columns }

func (s *fakeStream) Next(ctx context.Context) ([]any, error) {
	if s.wh.pauseAt > 0 && s.idx == s.wh.pauseAt && s.wh.resume != nil {
		select {
		case <-s.wh.resume:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.idx >= len(s.wh.rows) {
		return nil, io.EOF
	}
	row := s.wh.rows[s.idx]
	s.idx++
	return row, nil
}

func (s *fakeStream) Close() error { return nil }

// ============================================================================
//  脚手架
// ============================================================================

func rowsOf(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{fmt.Sprintf("city_%d", i%3), int64(i * 10)}
	}
	return rows
}

func newTestEngine(t *testing.T, wh *fakeWarehouse, opts Options) *Engine {
	t.Helper()
	store, err := sqlitestore.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err, "打开测试缓存存储失败")
	t.Cleanup(func() { _ = store.Close() })

	engine := NewEngine(store, wh, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})
	return engine
}

func defaultOpts() Options {
	return Options{
		MaxConcurrentSessions: 5,
		ChunkRows:             2,
		BatchChunks:           1,
		DisplayLimit:          10,
		DownloadLimit:         100,
		ActiveTimeout:         30 * time.Minute,
		HardTTL:               24 * time.Hour,
		DefaultPageSize:       50,
	}
}

// waitForTerminal 轮询直到会话进入终止态。
func waitForTerminal(t *testing.T, e *Engine, sessionID string) *domain.SessionRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := e.Status(context.Background(), sessionID)
		require.NoError(t, err)
		if rec.Status.IsTerminal() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("会话 %s 在限期内未进入终止态", sessionID)
	return nil
}

// waitForProgress 轮询直到会话进度达到 want 行。
func waitForProgress(t *testing.T, e *Engine, sessionID string, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := e.Status(context.Background(), sessionID)
		require.NoError(t, err)
		if rec.ProcessedRows >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("会话 %s 进度未达到 %d 行", sessionID, want)
}

// ============================================================================
//  预探测与配额
// ============================================================================

func TestProbeClassification(t *testing.T) {
	cases := []struct {
		rows int
		want port.ProbeClass
	}{
		{5, port.ProbeDisplayable},
		{10, port.ProbeDisplayable}, // 恰好等于 display_limit
		{11, port.ProbeRequiresConfirmation},
		{100, port.ProbeRequiresConfirmation},
		{101, port.ProbeRejected},
	}

	for _, c := range cases {
		wh := &fakeWarehouse{columns: []string{"city", "amount"}, rows: rowsOf(c.rows)}
		e := newTestEngine(t, wh, defaultOpts())

		outcome, err := e.Probe(context.Background(), 1, "SELECT 1")
		require.NoError(t, err)
		assert.Equal(t, c.want, outcome.Class, "行数 %d 的分类错误", c.rows)
		assert.Equal(t, int64(c.rows), outcome.TotalRows)
	}
}

func TestProbeCountIsCached(t *testing.T) {
	wh := &fakeWarehouse{columns: []string{"city", "amount"}, rows: rowsOf(4)}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()

	_, err := e.Probe(ctx, 1, "SELECT 1")
	require.NoError(t, err)
	_, err = e.Probe(ctx, 1, "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 1, wh.calls(), "相同 (用户, SQL) 的第二次探测应命中缓存")

	// Probe 之后立刻 Start, 不应再做一次计数往返
	sessionID, err := e.Start(ctx, 1, "SELECT 1", port.IntentDisplay)
	require.NoError(t, err)
	assert.Equal(t, 1, wh.calls())
	waitForTerminal(t, e, sessionID)

	// 不同用户的同一条 SQL 不共享缓存
	_, err = e.Probe(ctx, 2, "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 2, wh.calls())
}

func TestStartRejectsOverLimit(t *testing.T) {
	wh := &fakeWarehouse{columns: []string{"city", "amount"}, rows: rowsOf(50)}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()

	// display 意图: 50 > 10
	_, err := e.Start(ctx, 1, "SELECT 1", port.IntentDisplay)
	assert.ErrorIs(t, err, port.ErrLimitExceeded)

	// download 意图: 50 <= 100, 放行
	sessionID, err := e.Start(ctx, 1, "SELECT 1", port.IntentDownload)
	require.NoError(t, err)
	rec := waitForTerminal(t, e, sessionID)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
}

func TestStartConcurrencyCap(t *testing.T) {
	opts := defaultOpts()
	opts.MaxConcurrentSessions = 1
	wh := &fakeWarehouse{
		columns: []string{"city", "amount"},
		rows:    rowsOf(6),
		pauseAt: 2,
		resume:  make(chan struct{}),
	}
	e := newTestEngine(t, wh, opts)
	ctx := context.Background()

	first, err := e.Start(ctx, 1, "SELECT 1", port.IntentDisplay)
	require.NoError(t, err)
	waitForProgress(t, e, first, 2)

	// 配额已满
	_, err = e.Start(ctx, 1, "SELECT 2", port.IntentDisplay)
	assert.ErrorIs(t, err, port.ErrConcurrencyLimit)

	close(wh.resume)
	rec := waitForTerminal(t, e, first)
	assert.Equal(t, domain.StatusCompleted, rec.Status)

	// 会话终止后配额释放
	second, err := e.Start(ctx, 1, "SELECT 3", port.IntentDisplay)
	require.NoError(t, err)
	waitForTerminal(t, e, second)
}

// ============================================================================
//  摄取与生命周期
// ============================================================================

func TestStartToCompletion(t *testing.T) {
	wh := &fakeWarehouse{columns: []string{"city", "amount"}, rows: rowsOf(7)}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()

	sessionID, err := e.Start(ctx, 42, "SELECT * FROM t", port.IntentDisplay)
	require.NoError(t, err)

	rec := waitForTerminal(t, e, sessionID)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, int64(7), rec.TotalRows)
	assert.Equal(t, int64(7), rec.ProcessedRows)
	require.NotNil(t, rec.ExecutionTime, "终止态必须带累计执行秒数")

	// 物化结果可分页读取
	result, err := e.ReadPage(ctx, port.ReadPageRequest{SessionID: sessionID, Page: 1, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.TotalCount)
	assert.Equal(t, int64(3), result.TotalPages)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, "city_0", result.Rows[0]["city"], "默认按插入顺序返回")

	// 存储层记录与内存层一致
	listed, err := e.ListForUser(ctx, 42)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, domain.StatusCompleted, listed[0].Status)
}

func TestEmptyResultCompletes(t *testing.T) {
	wh := &fakeWarehouse{columns: []string{"city", "amount"}, rows: nil}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()

	sessionID, err := e.Start(ctx, 1, "SELECT 1 WHERE 0", port.IntentDisplay)
	require.NoError(t, err)
	rec := waitForTerminal(t, e, sessionID)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, int64(0), rec.ProcessedRows)

	// 空结果集也有数据表, 读取返回空页而非 NotFound
	result, err := e.ReadPage(ctx, port.ReadPageRequest{SessionID: sessionID, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.TotalCount)
	assert.Empty(t, result.Rows)
}

func TestUnsupportedTypeFailsSession(t *testing.T) {
	wh := &fakeWarehouse{
		columns: []string{"city", "payload"},
		rows: [][]any{
			{"beijing", "ok"},
			{"shanghai", `{"nested":1}`}, // 复合字面量
		},
	}
	e := newTestEngine(t, wh, defaultOpts())

	sessionID, err := e.Start(context.Background(), 1, "SELECT 1", port.IntentDisplay)
	require.NoError(t, err)

	rec := waitForTerminal(t, e, sessionID)
	assert.Equal(t, domain.StatusError, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "payload", "错误信息应指明出错的列")
}

func TestCancelMidIngestion(t *testing.T) {
	wh := &fakeWarehouse{
		columns: []string{"city", "amount"},
		rows:    rowsOf(6),
		pauseAt: 2,
		resume:  make(chan struct{}),
	}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()

	sessionID, err := e.Start(ctx, 1, "SELECT 1", port.IntentDisplay)
	require.NoError(t, err)
	waitForProgress(t, e, sessionID, 2)

	require.NoError(t, e.Cancel(ctx, sessionID))
	close(wh.resume)

	rec := waitForTerminal(t, e, sessionID)
	assert.Equal(t, domain.StatusCancelled, rec.Status)
	assert.Less(t, rec.ProcessedRows, int64(6), "取消生效后不应完整摄取")
}

func TestCancelErrors(t *testing.T) {
	wh := &fakeWarehouse{columns: []string{"city", "amount"}, rows: rowsOf(3)}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()

	// 未知会话
	err := e.Cancel(ctx, "no_such_session")
	assert.ErrorIs(t, err, port.ErrInvalidSession)

	// 终止态会话
	sessionID, err := e.Start(ctx, 1, "SELECT 1", port.IntentDisplay)
	require.NoError(t, err)
	waitForTerminal(t, e, sessionID)
	err = e.Cancel(ctx, sessionID)
	assert.ErrorIs(t, err, port.ErrIllegalTransition)
}

// ============================================================================
//  读取端校验
// ============================================================================

func TestReadPageValidation(t *testing.T) {
	wh := &fakeWarehouse{columns: []string{"city", "amount"}, rows: rowsOf(6)}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()

	sessionID, err := e.Start(ctx, 1, "SELECT 1", port.IntentDisplay)
	require.NoError(t, err)
	waitForTerminal(t, e, sessionID)

	// 未知会话
	_, err = e.ReadPage(ctx, port.ReadPageRequest{SessionID: "missing", Page: 1})
	assert.ErrorIs(t, err, port.ErrInvalidSession)

	// 非法页码
	_, err = e.ReadPage(ctx, port.ReadPageRequest{SessionID: sessionID, Page: -1})
	assert.ErrorIs(t, err, port.ErrInvalidArgument)

	// 白名单外的过滤列
	_, err = e.ReadPage(ctx, port.ReadPageRequest{
		SessionID: sessionID, Page: 1,
		Filters: map[string][]string{"evil; DROP": {"x"}},
	})
	assert.ErrorIs(t, err, port.ErrInvalidArgument)

	// 白名单外的排序列
	_, err = e.ReadPage(ctx, port.ReadPageRequest{SessionID: sessionID, Page: 1, SortBy: "nope"})
	assert.ErrorIs(t, err, port.ErrInvalidArgument)

	// 非法排序方向
	_, err = e.ReadPage(ctx, port.ReadPageRequest{SessionID: sessionID, Page: 1, SortBy: "city", SortOrder: "SIDEWAYS"})
	assert.ErrorIs(t, err, port.ErrInvalidArgument)

	// 过滤 + 排序组合
	result, err := e.ReadPage(ctx, port.ReadPageRequest{
		SessionID: sessionID, Page: 1, PageSize: 10,
		Filters: map[string][]string{"city": {"city_0", "city_1"}},
		SortBy:  "city", SortOrder: "DESC",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.TotalCount)
	assert.Equal(t, "city_1", result.Rows[0]["city"])
}

func TestDistinctValuesThroughEngine(t *testing.T) {
	wh := &fakeWarehouse{columns: []string{"city", "amount"}, rows: rowsOf(9)}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()

	sessionID, err := e.Start(ctx, 1, "SELECT 1", port.IntentDisplay)
	require.NoError(t, err)
	waitForTerminal(t, e, sessionID)

	// 缺少列名
	_, err = e.DistinctValues(ctx, port.DistinctRequest{SessionID: sessionID})
	assert.ErrorIs(t, err, port.ErrInvalidArgument)

	result, err := e.DistinctValues(ctx, port.DistinctRequest{SessionID: sessionID, Column: "city", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, result.Values, 2)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.True(t, result.IsTruncated)
}

// ============================================================================
//  清理与清扫
// ============================================================================

func TestCleanupIdempotent(t *testing.T) {
	wh := &fakeWarehouse{columns: []string{"city", "amount"}, rows: rowsOf(3)}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()

	sessionID, err := e.Start(ctx, 1, "SELECT 1", port.IntentDisplay)
	require.NoError(t, err)
	waitForTerminal(t, e, sessionID)

	require.NoError(t, e.Cleanup(ctx, sessionID, false))

	// 第二次清理: NotFound
	err = e.Cleanup(ctx, sessionID, false)
	assert.ErrorIs(t, err, port.ErrNotFound)

	// 数据表与记录确实消失
	_, err = e.Status(ctx, sessionID)
	assert.ErrorIs(t, err, port.ErrInvalidSession)
}

func TestCleanupActiveRequiresForce(t *testing.T) {
	wh := &fakeWarehouse{
		columns: []string{"city", "amount"},
		rows:    rowsOf(6),
		pauseAt: 2,
		resume:  make(chan struct{}),
	}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()

	sessionID, err := e.Start(ctx, 1, "SELECT 1", port.IntentDisplay)
	require.NoError(t, err)
	waitForProgress(t, e, sessionID, 2)

	err = e.Cleanup(ctx, sessionID, false)
	assert.ErrorIs(t, err, port.ErrInvalidArgument, "未终止的会话必须 force 才能清理")

	require.NoError(t, e.Cleanup(ctx, sessionID, true))
	close(wh.resume)

	_, err = e.Status(ctx, sessionID)
	assert.ErrorIs(t, err, port.ErrInvalidSession)
}

func TestSweepTimeoutAndHardDelete(t *testing.T) {
	wh := &fakeWarehouse{columns: []string{"city", "amount"}}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()
	now := time.Now().UTC()

	// 失活超时: ACTIVE 且 last_activity 在一小时前
	stale := &domain.SessionRecord{
		SessionID: "s_stale", UserID: 1, Status: domain.StatusActive,
		CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-time.Hour), LastActivity: now.Add(-time.Hour),
	}
	require.NoError(t, e.store.UpsertSession(ctx, stale))

	// 硬过期: created_at 在两天前
	expired := &domain.SessionRecord{
		SessionID: "s_expired", UserID: 1, Status: domain.StatusCompleted,
		CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-47 * time.Hour), LastActivity: now.Add(-47 * time.Hour),
	}
	require.NoError(t, e.store.UpsertSession(ctx, expired))
	require.NoError(t, e.store.CreateSessionTable(ctx, expired.SessionID, []string{"c"}))

	// 硬过期但持有活跃摄取连接: 必须被延期
	deferred := &domain.SessionRecord{
		SessionID: "s_deferred", UserID: 1, Status: domain.StatusActive,
		CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now, LastActivity: now,
	}
	require.NoError(t, e.store.UpsertSession(ctx, deferred))
	e.reg.markIngesting(deferred.SessionID)

	report, err := e.ManualSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TimedOut)
	assert.Equal(t, 1, report.HardDeleted)
	assert.Equal(t, 1, report.Deferred)

	// 失活会话已置为 TIMEOUT; error_message 只属于 ERROR 会话
	got, err := e.store.GetSession(ctx, stale.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTimeout, got.Status)
	assert.Empty(t, got.ErrorMessage, "TIMEOUT 会话不应携带 error_message")

	// 硬过期会话连表带记录消失
	_, err = e.store.GetSession(ctx, expired.SessionID)
	se := port.AsStoreError(err)
	require.NotNil(t, se)
	assert.Equal(t, port.StoreNotFound, se.Kind)

	// 被延期的会话原样保留; 摄取结束后的下一轮才可删除
	_, err = e.store.GetSession(ctx, deferred.SessionID)
	require.NoError(t, err)
	e.reg.unmarkIngesting(deferred.SessionID)
	report, err = e.ManualSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.HardDeleted)
}

// ============================================================================
//  注册表
// ============================================================================

// failingStore 包装真实存储, 令 UpsertSession 恒定失败。
type failingStore struct {
	port.CacheStore
}

func (f *failingStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	return port.NewStoreError(port.StoreIO, "upsert_session", errors.New("disk full"))
}

func TestRegisterRollsBackOnStoreFailure(t *testing.T) {
	store, err := sqlitestore.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := newRegistry(&failingStore{CacheStore: store}, 5)
	rec := &domain.SessionRecord{SessionID: "s_fail", UserID: 1, Status: domain.StatusPending}

	err = reg.register(context.Background(), rec)
	require.Error(t, err)
	assert.NotNil(t, port.AsStoreError(err))
	assert.Equal(t, 0, reg.activeCount(), "存储写入失败后内存层必须回滚")
}

// gatedStore 包装真实存储, 可武装一次: 下一个 ACTIVE 状态的
// UpsertSession 在进入时通知测试并阻塞, 直到 release 被关闭。
type gatedStore struct {
	port.CacheStore
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
}

func (g *gatedStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	g.mu.Lock()
	trip := g.armed && rec.Status == domain.StatusActive
	if trip {
		g.armed = false
	}
	g.mu.Unlock()
	if trip {
		close(g.entered)
		<-g.release
	}
	return g.CacheStore.UpsertSession(ctx, rec)
}

func TestFlushCannotOverwriteConcurrentTransition(t *testing.T) {
	store, err := sqlitestore.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gs := &gatedStore{CacheStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	reg := newRegistry(gs, 5)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := &domain.SessionRecord{
		SessionID: "s_race", UserID: 1, Status: domain.StatusPending,
		CreatedAt: now, UpdatedAt: now, LastActivity: now,
	}
	require.NoError(t, reg.register(ctx, rec))
	_, err = reg.transition(ctx, "s_race", domain.StatusActive, nil)
	require.NoError(t, err)

	// 进度落盘在存储写入处被卡住, 此刻并发的取消迁移抵达
	reg.touch("s_race", 2)
	gs.arm()
	flushDone := make(chan error, 1)
	go func() { flushDone <- reg.flush(ctx, "s_race") }()
	<-gs.entered

	cancelDone := make(chan error, 1)
	go func() {
		_, errT := reg.transition(ctx, "s_race", domain.StatusCancelled, nil)
		cancelDone <- errT
	}()

	// 迁移必须排在落盘之后, 不能插进它的快照与写入之间
	select {
	case errT := <-cancelDone:
		t.Fatalf("迁移不应在进度落盘完成前返回: %v", errT)
	case <-time.After(100 * time.Millisecond):
	}

	close(gs.release)
	require.NoError(t, <-flushDone)
	require.NoError(t, <-cancelDone)

	// 两层最终一致: 存储层不允许被过期的 ACTIVE 快照覆盖
	inStore, err := store.GetSession(ctx, "s_race")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, inStore.Status, "存储层必须以取消迁移的结果为准")
	inMem, err := reg.get(ctx, "s_race")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, inMem.Status)
	assert.True(t, inStore.IsComplete(), "终止态记录的 is_complete 必须落盘")
}

func TestRestoreOnStart(t *testing.T) {
	wh := &fakeWarehouse{columns: []string{"city", "amount"}}
	e := newTestEngine(t, wh, defaultOpts())
	ctx := context.Background()
	now := time.Now().UTC()

	orphan := &domain.SessionRecord{
		SessionID: "s_orphan", UserID: 1, Status: domain.StatusActive,
		CreatedAt: now, UpdatedAt: now, LastActivity: now,
	}
	require.NoError(t, e.store.UpsertSession(ctx, orphan))
	done := &domain.SessionRecord{
		SessionID: "s_done", UserID: 1, Status: domain.StatusCompleted,
		CreatedAt: now, UpdatedAt: now, LastActivity: now,
	}
	require.NoError(t, e.store.UpsertSession(ctx, done))

	require.NoError(t, e.RestoreOnStart(ctx))

	got, err := e.store.GetSession(ctx, orphan.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTimeout, got.Status, "滞留的非终止态会话应被置为 TIMEOUT")
	assert.Empty(t, got.ErrorMessage, "TIMEOUT 会话不应携带 error_message")

	got, err = e.store.GetSession(ctx, done.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status, "终止态会话不受启动恢复影响")
}
