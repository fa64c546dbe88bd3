// Package sqlite — 查询结果缓存的嵌入式存储适配器 (C1)
// internal/adapter/store/sqlite/store.go
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"SQLHarbor/internal/core/port"

	_ "modernc.org/sqlite"
)

// 断言 *Store 实现 port.CacheStore 接口，编译期校验
var _ port.CacheStore = (*Store)(nil)

const (
	registryTable = "cache_sessions"

	debounceDuration = 2 * time.Second
)

// Store 封装本地 SQLite 缓存文件：注册表 DDL、会话数据表 DDL/DML、
// 参数化读取，以及文件监视热重建。
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string

	// eventTimers 用于文件系统事件的防抖处理
	eventTimers   map[string]*time.Timer
	eventTimersMu sync.Mutex

	// onReset 在缓存文件被外部清除、schema 重建完成后回调 (注册表内存层借此清空)
	onReset func()
}

// Open 打开 (或创建) 缓存数据库文件并完成 schema 初始化。
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapErr("open", err)
	}
	if errPing := db.PingContext(ctx); errPing != nil {
		_ = db.Close()
		return nil, wrapErr("open", errPing)
	}

	s := &Store{
		db:          db,
		path:        path,
		eventTimers: make(map[string]*time.Timer),
	}
	if err := s.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema 初始化注册表并执行增量迁移，幂等。
func (s *Store) InitSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initSchemaInternal(ctx)
}

// initSchemaInternal 为 InitSchema 的无锁实现，调用前必须持有写锁。
func (s *Store) initSchemaInternal(ctx context.Context) error {
	ddl := fmt.Sprintf(`
       CREATE TABLE IF NOT EXISTS %s(
          session_id     TEXT PRIMARY KEY,
          user_id        INTEGER NOT NULL,
          created_at     TEXT NOT NULL,
          updated_at     TEXT NOT NULL,
          last_activity  TEXT NOT NULL,
          status         TEXT NOT NULL,
          total_rows     INTEGER NOT NULL DEFAULT 0,
          processed_rows INTEGER NOT NULL DEFAULT 0,
          is_complete    INTEGER NOT NULL DEFAULT 0,
          error_message  TEXT
       );
    `, registryTable)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return wrapErr("init_schema", err)
	}

	// 增量迁移：旧版缓存文件没有 execution_time 列，启动时补齐。
	existing, err := listColumnsOn(ctx, s.db, registryTable)
	if err != nil {
		return wrapErr("init_schema", err)
	}
	if _, ok := existing["execution_time"]; !ok {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN execution_time REAL", registryTable)); err != nil {
			return wrapErr("init_schema", err)
		}
		slog.Info("[CacheStore] 注册表增量迁移完成", "added_column", "execution_time")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return wrapErr("close", err)
	}
	return nil
}

// OnReset 注册缓存文件被外部清除后的回调 (见 watcher.go)。
func (s *Store) OnReset(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReset = fn
}

// wrapErr 将底层 SQLite 错误归类为 port.StoreError。
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := port.StoreIO
	switch {
	case errors.Is(err, sql.ErrNoRows):
		kind = port.StoreNotFound
	case isLockedErr(err):
		kind = port.StoreLocked
	case isCorruptErr(err):
		kind = port.StoreCorrupt
	}
	return port.NewStoreError(kind, op, err)
}

// isLockedErr 识别数据库文件被锁的错误 (SQLITE_BUSY / SQLITE_LOCKED)。
func isLockedErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// isCorruptErr 识别文件损坏类错误。
func isCorruptErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "SQLITE_CORRUPT")
}
